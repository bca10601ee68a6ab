package bayut

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/mo"

	"github.com/estatepulse/property-crawler-service/common/models"
	"github.com/estatepulse/property-crawler-service/common/storage"
	"github.com/estatepulse/property-crawler-service/common/work"
	"github.com/estatepulse/property-crawler-service/crawler"
)

// ErrSessionRunning is returned when another crawl session for this source
// holds the lock.
var ErrSessionRunning = errors.New("a crawl session for this source is already running")

// Submitter hands finished records to the ingestion queue. Implemented by
// the dispatcher; a fake suffices in tests.
type Submitter interface {
	Submit(ctx context.Context, job models.IngestJob) error
}

// CrawlState tracks the per-source crawl cursor and session lock.
// Implemented by the Redis client.
type CrawlState interface {
	LastCrawlStart(ctx context.Context, source string) (time.Time, bool, error)
	SetLastCrawlStart(ctx context.Context, source string, t time.Time) error
	AcquireSessionLock(ctx context.Context, source string, ttl time.Duration) (bool, error)
	ReleaseSessionLock(ctx context.Context, source string) error
}

// Crawler runs full crawl sessions for the Bayut Dubai source: discovery,
// concurrent detail extraction and hand-off to the ingestion queue.
type Crawler struct {
	fetcher   crawler.Fetcher
	state     CrawlState
	submitter Submitter
	snapshots storage.SnapshotStore
	cfg       Config
}

// NewCrawler builds a session crawler. snapshots may be nil, in which case
// degraded extractions are not archived.
func NewCrawler(fetcher crawler.Fetcher, state CrawlState, submitter Submitter, snapshots storage.SnapshotStore, cfg Config) *Crawler {
	return &Crawler{
		fetcher:   fetcher,
		state:     state,
		submitter: submitter,
		snapshots: snapshots,
		cfg:       cfg,
	}
}

// SessionSummary is the outcome of one crawl session.
type SessionSummary struct {
	SessionID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Discovery  DiscoveryStats
	Attempted  int64
	Succeeded  int64
	Failed     int64
}

const sessionLockTTL = 2 * time.Hour

// CrawlAll runs one crawl session. The session start time becomes the next
// run's discovery cutoff, but only once this run finishes cleanly, so an
// aborted session is retried over the same window. Listings already handed
// to the pool are drained even when discovery fails partway.
func (c *Crawler) CrawlAll(ctx context.Context, startURL string) (SessionSummary, error) {
	locked, err := c.state.AcquireSessionLock(ctx, Source, sessionLockTTL)
	if err != nil {
		return SessionSummary{}, err
	}
	if !locked {
		return SessionSummary{}, ErrSessionRunning
	}
	defer func() {
		if err := c.state.ReleaseSessionLock(context.WithoutCancel(ctx), Source); err != nil {
			log.Warn().Err(err).Msg("Failed to release crawl session lock")
		}
	}()

	sessionID := uuid.NewString()
	startedAt := time.Now().UTC()

	if startURL == "" {
		startURL = c.cfg.StartURL
	}

	cutoff := mo.None[time.Time]()
	if t, ok, err := c.state.LastCrawlStart(ctx, Source); err != nil {
		log.Warn().Err(err).Msg("Crawl cursor unreadable, running a full crawl")
	} else if ok {
		cutoff = mo.Some(t)
	}

	log.Info().
		Str("sessionID", sessionID).
		Str("startURL", startURL).
		Bool("incremental", cutoff.IsPresent()).
		Msg("Crawl session started")

	pool, err := work.NewPoolWithConfig[models.PropertyRecord](work.PoolConfig{
		NumWorkers:      c.cfg.MaxConcurrency,
		TaskChannelSize: c.cfg.MaxConcurrency * 4,
		TaskTimeout:     3 * c.cfg.RequestTimeout,
	})
	if err != nil {
		return SessionSummary{}, err
	}
	pool.Start(ctx, "crawl-"+Source)

	var attempted, succeeded, failed int64

	resultsDone := make(chan struct{})
	go func() {
		defer close(resultsDone)
		for res := range pool.Results() {
			if res.IsSuccess() {
				atomic.AddInt64(&succeeded, 1)
			} else {
				atomic.AddInt64(&failed, 1)
				log.Warn().Err(res.Error).Str("taskID", res.TaskID).Msg("Listing extraction failed")
			}
		}
	}()

	extractor := NewExtractor(c.fetcher, crawler.RetryPolicy{
		MaxAttempts: c.cfg.RetryAttempts,
		Backoff:     crawler.FixedBackoff(c.cfg.RetryDelay),
	})

	discoverer := NewDiscoverer(c.fetcher, c.cfg)
	stats, discErr := discoverer.Discover(ctx, startURL, cutoff, func(summary models.ListingSummary) {
		task, err := work.NewTask(
			func(ctx context.Context) (models.PropertyRecord, error) {
				return c.processListing(ctx, extractor, sessionID, summary)
			},
			work.WithID[models.PropertyRecord](summary.ExternalID),
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create extraction task")
			return
		}
		if err := pool.Submit(ctx, task); err != nil {
			log.Warn().Err(err).Str("externalID", summary.ExternalID).Msg("Dropping listing, pool unavailable")
			return
		}
		atomic.AddInt64(&attempted, 1)
	})

	pool.Stop()
	<-resultsDone

	summary := SessionSummary{
		SessionID:  sessionID,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Discovery:  stats,
		Attempted:  atomic.LoadInt64(&attempted),
		Succeeded:  atomic.LoadInt64(&succeeded),
		Failed:     atomic.LoadInt64(&failed),
	}

	log.Info().
		Str("sessionID", sessionID).
		Int("pages", stats.PagesFetched).
		Int("emitted", stats.Emitted).
		Int("duplicates", stats.Duplicates).
		Int("skippedCards", stats.CardsSkipped).
		Int64("attempted", summary.Attempted).
		Int64("succeeded", summary.Succeeded).
		Int64("failed", summary.Failed).
		Dur("elapsed", summary.FinishedAt.Sub(startedAt)).
		Msg("Crawl session finished")

	if discErr != nil {
		return summary, discErr
	}

	// Advance the cursor only after a clean pass over the whole window.
	if err := c.state.SetLastCrawlStart(ctx, Source, startedAt); err != nil {
		log.Error().Err(err).Msg("Failed to advance crawl cursor")
	}

	return summary, nil
}

// processListing extracts one listing and queues its record for ingestion.
// A degraded extraction gets its raw page archived so the listing can be
// re-examined without another fetch.
func (c *Crawler) processListing(ctx context.Context, extractor *Extractor, sessionID string, summary models.ListingSummary) (models.PropertyRecord, error) {
	rec, html, err := extractor.Extract(ctx, summary)
	if err != nil {
		return rec, err
	}

	job := models.IngestJob{
		SessionID: sessionID,
		URL:       summary.DetailURL,
		Record:    rec,
	}

	if c.snapshots != nil && len(rec.ExtractionErrors) > 0 && html != "" {
		name := storage.SnapshotObjectName(Source, rec.ExternalID)
		if uploaded, err := c.snapshots.Upload(ctx, name, []byte(html), "text/html"); err != nil {
			log.Warn().Err(err).Str("externalID", rec.ExternalID).Msg("Failed to archive page snapshot")
		} else {
			job.SnapshotURL = uploaded
		}
	}

	if err := c.submitter.Submit(ctx, job); err != nil {
		return rec, err
	}

	log.Debug().
		Str("externalID", rec.ExternalID).
		Strs("stageMisses", rec.ExtractionErrors).
		Msg("Listing extracted and queued")
	return rec, nil
}
