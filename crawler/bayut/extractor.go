package bayut

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common/models"
	"github.com/estatepulse/property-crawler-service/crawler"
)

// Extractor turns a discovered listing into a full PropertyRecord by
// opening its detail page and running the extraction stages over it.
type Extractor struct {
	fetcher crawler.Fetcher
	retry   crawler.RetryPolicy
	stages  []Stage
}

func NewExtractor(fetcher crawler.Fetcher, retry crawler.RetryPolicy) *Extractor {
	return &Extractor{
		fetcher: fetcher,
		retry:   retry,
		stages:  defaultStages(),
	}
}

// detailMarker matches any element whose presence indicates the detail page
// has rendered enough to extract from. Grouped so a single wait, with a
// single timeout, covers all the alternatives.
const detailMarker = `h1[aria-label="Title"], span[aria-label="Price"], div[aria-label="Property description"]`

// Extract opens the detail page and fills in a record seeded from the
// listing summary, returning the raw page HTML alongside it so the caller
// can archive degraded extractions. Page-load failures are returned for
// queue-level retry. Stage failures are not errors: the affected fields
// keep their defaults and the stage name is recorded on the record.
func (e *Extractor) Extract(ctx context.Context, summary models.ListingSummary) (models.PropertyRecord, string, error) {
	rec := models.FromSummary(summary)

	var page crawler.Page
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		p, err := e.fetcher.Open(ctx, summary.DetailURL)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return rec, "", err
	}
	defer page.Close()

	e.waitForDetail(ctx, page)

	html, err := page.HTML(ctx)
	if err != nil {
		return rec, "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return rec, html, err
	}

	e.runStages(ctx, page, doc, &rec)

	rec.ApplyDefaults()
	rec.LastChecked = time.Now().UTC()
	return rec, html, nil
}

// waitForDetail waits for any detail marker to render. A miss is not fatal:
// the stages run against whatever loaded and fall back to defaults.
func (e *Extractor) waitForDetail(ctx context.Context, page crawler.Page) {
	if err := page.WaitVisible(ctx, detailMarker); err != nil {
		log.Debug().Msg("No detail marker rendered, extracting from partial page")
	}
}

func (e *Extractor) runStages(ctx context.Context, page crawler.Page, doc *goquery.Document, rec *models.PropertyRecord) {
	for _, stage := range e.stages {
		if ctx.Err() != nil {
			return
		}
		if err := stage.Extract(ctx, page, doc, rec); err != nil {
			rec.ExtractionErrors = append(rec.ExtractionErrors, stage.Name())
			log.Debug().
				Err(err).
				Str("stage", stage.Name()).
				Str("external_id", rec.ExternalID).
				Msg("Extraction stage yielded nothing")
		}
	}
}
