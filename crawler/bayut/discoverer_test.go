package bayut

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/mo"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/models"
	"github.com/estatepulse/property-crawler-service/crawler"
)

// fakePage serves a fixed HTML document.
type fakePage struct {
	html     string
	clicked  []string
	waits    int
	waitErr  error
	htmlErr  error
	clickErr error
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return p.html, p.htmlErr
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	p.waits++
	return p.waitErr
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.clicked = append(p.clicked, selector)
	return p.clickErr
}

func (p *fakePage) Close() error { return nil }

// fakeFetcher serves pages by URL and counts opens.
type fakeFetcher struct {
	pages map[string]*fakePage
	fails map[string]int
	opens int
}

func (f *fakeFetcher) Open(ctx context.Context, url string) (crawler.Page, error) {
	f.opens++
	if n := f.fails[url]; n > 0 {
		f.fails[url]--
		return nil, &common.TransientFetchError{URL: url, Err: errors.New("connection reset")}
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, &common.TransientFetchError{URL: url, Err: errors.New("not found")}
	}
	return page, nil
}

func (f *fakeFetcher) Close() error { return nil }

func card(id, title, listedAt string) string {
	return fmt.Sprintf(`<li><article>
		<time datetime=%q></time>
		<script type="application/ld+json">{
			"@type": "Apartment",
			"url": "https://www.bayut.com/property/details-%s.html",
			"name": %q,
			"geo": {"latitude": 25.07, "longitude": 55.13},
			"floorSize": {"value": "1,200"},
			"numberOfRooms": {"value": 2},
			"numberOfBathroomsTotal": 2,
			"image": "https://images.example/%s.jpg",
			"address": {"addressCountry": "AE", "addressLocality": "Dubai Marina", "addressRegion": "Dubai"}
		}</script>
		<a href="/property/details-%s.html"><h2>%s</h2></a>
	</article></li>`, listedAt, id, title, id, id, title)
}

func listingHTML(next string, cards ...string) string {
	html := "<html><body><ul>"
	for _, c := range cards {
		html += c
	}
	html += "</ul>"
	if next != "" {
		html += fmt.Sprintf(`<a title="Next" href=%q>Next</a>`, next)
	}
	return html + "</body></html>"
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinDelayMs = 0
	cfg.MaxDelayMs = 0
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestParseListingPage(t *testing.T) {
	html := listingHTML("/page-2",
		card("12345", "Spacious 2BR Apartment", "2026-08-30T10:00:00Z"),
		card("67890", "Luxury Villa", "2026-08-30T08:00:00Z"),
	)

	page, err := parseListingPage(html, "https://www.bayut.com/start", time.Now().UTC())
	if err != nil {
		t.Fatalf("parseListingPage: %v", err)
	}

	if len(page.Summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(page.Summaries))
	}

	first := page.Summaries[0]
	if first.ExternalID != "12345" {
		t.Errorf("ExternalID = %q, want 12345", first.ExternalID)
	}
	if first.Title != "Spacious 2BR Apartment" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Region != "Dubai" {
		t.Errorf("Region = %q, want Dubai", first.Region)
	}
	if first.AreaSqft != "1200" {
		t.Errorf("AreaSqft = %q, want 1200 with commas stripped", first.AreaSqft)
	}
	if first.Beds != "2" {
		t.Errorf("Beds = %q, want 2", first.Beds)
	}

	if page.NextURL != "https://www.bayut.com/page-2" {
		t.Errorf("NextURL = %q, next link was not resolved", page.NextURL)
	}

	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if !page.NewestListed.Equal(want) {
		t.Errorf("NewestListed = %v, want %v", page.NewestListed, want)
	}
}

func TestParseListingPageSkipsMalformedCard(t *testing.T) {
	bad := `<li><article>
		<script type="application/ld+json">{not json</script>
	</article></li>`
	html := listingHTML("", card("12345", "Good Card", "2026-08-30T10:00:00Z"), bad)

	page, err := parseListingPage(html, "https://www.bayut.com/start", time.Now().UTC())
	if err != nil {
		t.Fatalf("parseListingPage: %v", err)
	}

	if len(page.Summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(page.Summaries))
	}
	if page.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", page.Skipped)
	}
}

func TestParseListingPageDOMFallback(t *testing.T) {
	html := listingHTML("", `<li><article>
		<a href="/property/details-99999.html"><h2>Fallback Listing</h2></a>
		<img src="https://images.example/99999.jpg">
	</article></li>`)

	page, err := parseListingPage(html, "https://www.bayut.com/start", time.Now().UTC())
	if err != nil {
		t.Fatalf("parseListingPage: %v", err)
	}

	if len(page.Summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(page.Summaries))
	}
	s := page.Summaries[0]
	if s.ExternalID != "99999" {
		t.Errorf("ExternalID = %q, want 99999", s.ExternalID)
	}
	if s.DetailURL != "https://www.bayut.com/property/details-99999.html" {
		t.Errorf("DetailURL = %q, relative href was not resolved", s.DetailURL)
	}
}

func TestExternalIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.bayut.com/property/details-12345.html", "12345"},
		{"/property/details-67890.html", "67890"},
		{"https://www.bayut.com/property/nodash", ""},
		{"https://www.bayut.com/property/ends-.html", ""},
	}

	for _, tt := range tests {
		if got := ExternalIDFromURL(tt.url); got != tt.want {
			t.Errorf("ExternalIDFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestDiscoverPaginatesAndDedupes(t *testing.T) {
	pageOne := listingHTML("/page-2",
		card("11111", "Listing One", "2026-08-30T10:00:00Z"),
		card("22222", "Listing Two", "2026-08-30T09:00:00Z"),
	)
	// The site shuffles promoted cards across pages; 22222 repeats.
	pageTwo := listingHTML("",
		card("22222", "Listing Two", "2026-08-30T09:00:00Z"),
		card("33333", "Listing Three", "2026-08-29T10:00:00Z"),
	)

	fetcher := &fakeFetcher{pages: map[string]*fakePage{
		"https://www.bayut.com/start":  {html: pageOne},
		"https://www.bayut.com/page-2": {html: pageTwo},
	}}

	d := NewDiscoverer(fetcher, testConfig())

	var emitted []string
	stats, err := d.Discover(context.Background(), "https://www.bayut.com/start", mo.None[time.Time](), func(s models.ListingSummary) {
		emitted = append(emitted, s.ExternalID)
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if stats.PagesFetched != 2 {
		t.Errorf("PagesFetched = %d, want 2", stats.PagesFetched)
	}
	if stats.Emitted != 3 {
		t.Errorf("Emitted = %d, want 3", stats.Emitted)
	}
	if stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", stats.Duplicates)
	}
	want := []string{"11111", "22222", "33333"}
	for i, id := range want {
		if i >= len(emitted) || emitted[i] != id {
			t.Fatalf("emitted = %v, want %v", emitted, want)
		}
	}
}

func TestDiscoverStopsAtCutoff(t *testing.T) {
	pageOne := listingHTML("/page-2",
		card("11111", "Old Listing", "2026-08-28T10:00:00Z"),
	)
	pageTwo := listingHTML("",
		card("22222", "Older Listing", "2026-08-27T10:00:00Z"),
	)

	fetcher := &fakeFetcher{pages: map[string]*fakePage{
		"https://www.bayut.com/start":  {html: pageOne},
		"https://www.bayut.com/page-2": {html: pageTwo},
	}}

	d := NewDiscoverer(fetcher, testConfig())

	cutoff := mo.Some(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC))
	var emitted int
	stats, err := d.Discover(context.Background(), "https://www.bayut.com/start", cutoff, func(models.ListingSummary) {
		emitted++
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	// The first page's newest card predates the cutoff, so page two is
	// never fetched. Cards on the boundary page still flow through.
	if stats.PagesFetched != 1 {
		t.Errorf("PagesFetched = %d, want 1", stats.PagesFetched)
	}
	if emitted != 1 {
		t.Errorf("emitted = %d, want 1", emitted)
	}
}

func TestDiscoverRetriesTransientFailures(t *testing.T) {
	html := listingHTML("", card("11111", "Listing One", "2026-08-30T10:00:00Z"))

	fetcher := &fakeFetcher{
		pages: map[string]*fakePage{"https://www.bayut.com/start": {html: html}},
		fails: map[string]int{"https://www.bayut.com/start": 2},
	}

	d := NewDiscoverer(fetcher, testConfig())

	stats, err := d.Discover(context.Background(), "https://www.bayut.com/start", mo.None[time.Time](), func(models.ListingSummary) {})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if stats.Emitted != 1 {
		t.Errorf("Emitted = %d, want 1", stats.Emitted)
	}
	if fetcher.opens != 3 {
		t.Errorf("opens = %d, want 3", fetcher.opens)
	}
}

func TestDiscoverFailsWhenRetriesExhausted(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]*fakePage{},
		fails: map[string]int{"https://www.bayut.com/start": 100},
	}

	d := NewDiscoverer(fetcher, testConfig())

	stats, err := d.Discover(context.Background(), "https://www.bayut.com/start", mo.None[time.Time](), func(models.ListingSummary) {})
	if err == nil {
		t.Fatal("Discover should fail when every fetch attempt fails")
	}
	if stats.PagesFailed != 1 {
		t.Errorf("PagesFailed = %d, want 1", stats.PagesFailed)
	}
}
