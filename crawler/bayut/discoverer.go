package bayut

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/samber/mo"

	"github.com/estatepulse/property-crawler-service/common/models"
	"github.com/estatepulse/property-crawler-service/crawler"
)

var errNoDetailLink = errors.New("listing card has no detail link")

// listingPage is the parsed form of one listing index page.
type listingPage struct {
	Summaries    []models.ListingSummary
	NextURL      string
	NewestListed time.Time
	Skipped      int
}

// DiscoveryStats summarises one discovery run.
type DiscoveryStats struct {
	PagesFetched int
	PagesFailed  int
	CardsSeen    int
	CardsSkipped int
	Duplicates   int
	Emitted      int
}

// Discoverer walks the paginated listing index and emits one ListingSummary
// per new listing card.
type Discoverer struct {
	fetcher crawler.Fetcher
	retry   crawler.RetryPolicy
	cfg     Config
}

// NewDiscoverer creates a discoverer over the given fetcher.
func NewDiscoverer(fetcher crawler.Fetcher, cfg Config) *Discoverer {
	return &Discoverer{
		fetcher: fetcher,
		retry: crawler.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			Backoff:     crawler.FixedBackoff(cfg.RetryDelay),
		},
		cfg: cfg,
	}
}

// Discover paginates from startURL until the site is exhausted or the newest
// listing on a page is not newer than the cutoff, emitting each listing at
// most once per run. Pagination is restartable from any page URL.
func (d *Discoverer) Discover(ctx context.Context, startURL string, cutoff mo.Option[time.Time], emit func(models.ListingSummary)) (DiscoveryStats, error) {
	stats := DiscoveryStats{}
	seen := make(map[string]struct{})

	pageURL := startURL
	for pageURL != "" {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		html, err := d.fetchListingPage(ctx, pageURL)
		if err != nil {
			// This page is marked failed; listings already emitted keep
			// flowing through the pipeline.
			stats.PagesFailed++
			log.Error().Err(err).Str("url", pageURL).Msg("Listing page failed after retries")
			return stats, err
		}
		stats.PagesFetched++

		page, err := parseListingPage(html, pageURL, time.Now().UTC())
		if err != nil {
			stats.PagesFailed++
			log.Error().Err(err).Str("url", pageURL).Msg("Failed to parse listing page")
			return stats, err
		}

		stats.CardsSeen += len(page.Summaries) + page.Skipped
		stats.CardsSkipped += page.Skipped

		for _, s := range page.Summaries {
			if _, dup := seen[s.ExternalID]; dup {
				stats.Duplicates++
				continue
			}
			seen[s.ExternalID] = struct{}{}
			stats.Emitted++
			emit(s)
		}

		// Listings are sorted newest first. Once the newest card on a page
		// is at or before the cutoff, the remaining pages were seen by a
		// previous run.
		if t, ok := cutoff.Get(); ok && !page.NewestListed.IsZero() && !page.NewestListed.After(t) {
			log.Info().
				Str("url", pageURL).
				Time("newest", page.NewestListed).
				Time("cutoff", t).
				Msg("Reached cutoff, stopping pagination")
			break
		}

		pageURL = page.NextURL
		if pageURL != "" {
			d.politeDelay(ctx)
		}
	}

	return stats, nil
}

func (d *Discoverer) fetchListingPage(ctx context.Context, pageURL string) (string, error) {
	var html string
	err := d.retry.Do(ctx, func(ctx context.Context) error {
		page, err := d.fetcher.Open(ctx, pageURL)
		if err != nil {
			return err
		}
		defer page.Close()

		// The card list renders client-side; wait for it before reading.
		if err := page.WaitVisible(ctx, "ul li article"); err != nil {
			return err
		}

		html, err = page.HTML(ctx)
		return err
	})
	return html, err
}

func (d *Discoverer) politeDelay(ctx context.Context) {
	if d.cfg.MinDelayMs <= 0 || d.cfg.MaxDelayMs <= d.cfg.MinDelayMs {
		return
	}
	delay := rand.Intn(d.cfg.MaxDelayMs-d.cfg.MinDelayMs) + d.cfg.MinDelayMs
	select {
	case <-time.After(time.Duration(delay) * time.Millisecond):
	case <-ctx.Done():
	}
}

// parseListingPage extracts all listing cards, the next-page link and the
// newest listing timestamp from one index page.
func parseListingPage(html, pageURL string, now time.Time) (listingPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return listingPage{}, err
	}

	out := listingPage{}

	doc.Find("ul li article").Each(func(_ int, card *goquery.Selection) {
		listedAt := cardTimestamp(card)
		if !listedAt.IsZero() && listedAt.After(out.NewestListed) {
			out.NewestListed = listedAt
		}

		summary, err := parseCard(card, pageURL, listedAt, now)
		if err != nil {
			// One bad card never fails the page.
			out.Skipped++
			log.Warn().Err(err).Str("page", pageURL).Msg("Skipping unparseable listing card")
			return
		}
		out.Summaries = append(out.Summaries, summary)
	})

	if href, ok := doc.Find(`a[title="Next"]`).Attr("href"); ok && href != "" {
		out.NextURL = resolveURL(pageURL, href)
	}

	return out, nil
}

// parseCard prefers the card's JSON-LD block and falls back to scraping the
// visible DOM only when the block is absent or malformed.
func parseCard(card *goquery.Selection, pageURL string, listedAt, now time.Time) (models.ListingSummary, error) {
	if raw := card.Find(`script[type="application/ld+json"]`).Text(); strings.TrimSpace(raw) != "" {
		summary, err := parseCardJSONLD(raw, listedAt, now)
		if err == nil {
			return summary, nil
		}
		log.Warn().Err(err).Msg("Card structured data malformed, falling back to DOM")
	}

	return parseCardDOM(card, pageURL, listedAt, now)
}

// parseCardDOM is the degraded path: read what the rendered card shows.
func parseCardDOM(card *goquery.Selection, pageURL string, listedAt, now time.Time) (models.ListingSummary, error) {
	href, ok := card.Find("a").Attr("href")
	if !ok {
		return models.ListingSummary{}, errNoDetailLink
	}
	href = resolveURL(pageURL, href)

	externalID := ExternalIDFromURL(href)
	if externalID == "" {
		return models.ListingSummary{}, errNoDetailLink
	}

	s := models.ListingSummary{
		ExternalID:   externalID,
		Title:        strings.TrimSpace(card.Find("h2").First().Text()),
		DetailURL:    href,
		ListedAt:     listedAt,
		DiscoveredAt: now,
	}
	if img, ok := card.Find("img").Attr("src"); ok {
		s.ImageURL = img
	}
	return s, nil
}

func cardTimestamp(card *goquery.Selection) time.Time {
	attr, ok := card.Find("time").Attr("datetime")
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, attr)
	if err != nil {
		return time.Time{}
	}
	return t
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
