package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/messaging"
	"github.com/estatepulse/property-crawler-service/common/models"
	"github.com/estatepulse/property-crawler-service/common/work"
)

// Upserter is the slice of the store the dispatcher needs.
type Upserter interface {
	Upsert(ctx context.Context, rec models.PropertyRecord) (UpsertResult, error)
}

// DeadLetterRecorder records terminally failed jobs.
type DeadLetterRecorder interface {
	Record(ctx context.Context, job models.IngestJob, lastErr error, deliveries int, snapshotURL string) (int64, error)
}

// DispatcherConfig bounds the delivery behaviour of the ingestion queue.
type DispatcherConfig struct {
	Workers       int
	MaxDeliveries int
	AckWait       time.Duration
	RetryBackoff  time.Duration
	ConsumerName  string
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:       4,
		MaxDeliveries: 3,
		AckWait:       30 * time.Second,
		RetryBackoff:  2 * time.Second,
		ConsumerName:  "property-ingest-workers",
	}
}

// Dispatcher moves extracted records through a durable queue into the store.
// Delivery is at-least-once: the store's idempotent upsert absorbs the
// duplicates. A job that keeps failing transiently is redelivered with
// backoff until MaxDeliveries, then dead-lettered; a fatal failure is
// dead-lettered on first sight.
type Dispatcher struct {
	broker      *messaging.NatsBroker
	store       Upserter
	deadLetters DeadLetterRecorder
	cfg         DispatcherConfig

	pool       *work.Pool[struct{}]
	consumeCtx jetstream.ConsumeContext
}

func NewDispatcher(broker *messaging.NatsBroker, store Upserter, deadLetters DeadLetterRecorder, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "property-ingest-workers"
	}

	return &Dispatcher{
		broker:      broker,
		store:       store,
		deadLetters: deadLetters,
		cfg:         cfg,
	}
}

// Submit queues one job, waiting for the stream's acknowledgement so the
// crawl side knows the record is durably accepted.
func (d *Dispatcher) Submit(ctx context.Context, job models.IngestJob) error {
	data, err := json.Marshal(messaging.IngestMessage{Job: job})
	if err != nil {
		return err
	}
	return d.broker.PublishSync(ctx, messaging.SubjectIngestProperty, data)
}

// Run provisions the stream and durable consumer and starts consuming.
// Worker parallelism is the consumer's concurrency; each message is handled
// to completion before its ack verdict.
func (d *Dispatcher) Run(ctx context.Context) error {
	_, err := d.broker.CreateStream(ctx, jetstream.StreamConfig{
		Name:     messaging.StreamPropertyIngest,
		Subjects: []string{messaging.SubjectIngestProperty, messaging.SubjectIngestDeadLetter},
		Storage:  jetstream.FileStorage,
		MaxAge:   48 * time.Hour,
	})
	if err != nil {
		return err
	}

	consumer, err := d.broker.CreateConsumer(ctx, messaging.StreamPropertyIngest, jetstream.ConsumerConfig{
		Durable:       d.cfg.ConsumerName,
		FilterSubject: messaging.SubjectIngestProperty,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       d.cfg.AckWait,
		MaxDeliver:    d.cfg.MaxDeliveries,
	})
	if err != nil {
		return err
	}

	pool, err := work.NewPool[struct{}](d.cfg.Workers, d.cfg.Workers*4)
	if err != nil {
		return err
	}
	pool.Start(ctx, "ingest")
	d.pool = pool

	go func() {
		for range pool.Results() {
			// Outcomes are acted on in handle; draining keeps workers moving.
		}
	}()

	consumeCtx, err := d.broker.Consume(ctx, consumer, func(msg jetstream.Msg) {
		task, err := work.NewTask(func(ctx context.Context) (struct{}, error) {
			d.handle(ctx, msg)
			return struct{}{}, nil
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to create ingest task")
			return
		}
		if err := pool.Submit(ctx, task); err != nil {
			// Not acked; the message redelivers after AckWait.
			log.Warn().Err(err).Msg("Ingest pool unavailable, leaving message for redelivery")
		}
	})
	if err != nil {
		pool.Stop()
		return err
	}
	d.consumeCtx = consumeCtx

	log.Info().
		Str("consumer", d.cfg.ConsumerName).
		Int("workers", d.cfg.Workers).
		Int("maxDeliveries", d.cfg.MaxDeliveries).
		Msg("Ingestion dispatcher running")
	return nil
}

// Stop stops consuming. In-flight messages finish; unacked ones are
// redelivered after AckWait.
func (d *Dispatcher) Stop() {
	if d.consumeCtx != nil {
		d.consumeCtx.Drain()
	}
	if d.pool != nil {
		d.pool.Stop()
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg jetstream.Msg) {
	deliveries := 1
	if meta, err := msg.Metadata(); err == nil {
		deliveries = int(meta.NumDelivered)
	}

	var im messaging.IngestMessage
	if err := json.Unmarshal(msg.Data(), &im); err != nil {
		// An unparseable payload never improves with redelivery.
		d.deadLetter(ctx, msg, models.IngestJob{}, err, deliveries)
		return
	}
	job := im.Job
	job.Attempt = deliveries

	_, err := d.store.Upsert(ctx, job.Record)
	if err == nil {
		if err := msg.Ack(); err != nil {
			log.Warn().Err(err).Str("externalID", job.Record.ExternalID).Msg("Failed to ack ingested job")
		}
		return
	}

	if errors.Is(err, common.ErrStoreFatal) || deliveries >= d.cfg.MaxDeliveries {
		d.deadLetter(ctx, msg, job, err, deliveries)
		return
	}

	// Anything short of a fatal classification is presumed transient: an
	// unreachable store, an exhausted pool, or a shutdown-canceled context
	// all resolve on redelivery.
	log.Warn().
		Err(err).
		Str("externalID", job.Record.ExternalID).
		Int("delivery", deliveries).
		Msg("Ingestion failed, will redeliver")
	if err := msg.NakWithDelay(d.cfg.RetryBackoff); err != nil {
		log.Warn().Err(err).Msg("Failed to nak job")
	}
}

// deadLetter terminates a message and records the failure exactly once. The
// Term prevents further redelivery even if recording fails; the failure is
// then only in the logs, which beats double rows on redelivery.
func (d *Dispatcher) deadLetter(ctx context.Context, msg jetstream.Msg, job models.IngestJob, cause error, deliveries int) {
	if err := msg.Term(); err != nil {
		log.Warn().Err(err).Msg("Failed to terminate dead job")
	}

	id, err := d.deadLetters.Record(ctx, job, cause, deliveries, job.SnapshotURL)
	if err != nil {
		log.Error().Err(err).Str("externalID", job.Record.ExternalID).Msg("Failed to record dead letter")
		return
	}

	d.notify(ctx, job, cause, deliveries, id)
}

func (d *Dispatcher) notify(ctx context.Context, job models.IngestJob, cause error, deliveries int, id int64) {
	notice := messaging.DeadLetterNotice{
		JobID:      job.SessionID,
		ExternalID: job.Record.ExternalID,
		URL:        job.URL,
		LastError:  cause.Error(),
		Deliveries: deliveries,
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return
	}
	if err := d.broker.PublishSync(ctx, messaging.SubjectIngestDeadLetter, data); err != nil &&
		!errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Int64("deadLetterID", id).Msg("Failed to publish dead-letter notice")
	}
}
