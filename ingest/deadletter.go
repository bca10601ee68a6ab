package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common/db"
	"github.com/estatepulse/property-crawler-service/common/models"
)

// DeadLetter is a job that exhausted its retry budget. Rows are kept for
// manual inspection and replay.
type DeadLetter struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	ExternalID  string    `json:"external_id"`
	URL         string    `json:"url"`
	LastError   string    `json:"last_error"`
	Deliveries  int       `json:"deliveries"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeadLetterStore persists terminally failed jobs.
type DeadLetterStore struct {
	db *db.DB
}

func NewDeadLetterStore(database *db.DB) *DeadLetterStore {
	return &DeadLetterStore{db: database}
}

const insertDeadLetter = `
INSERT INTO dead_letters (session_id, external_id, url, last_error, deliveries, snapshot_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

// Record writes a dead-letter row for a job whose retries are exhausted.
func (s *DeadLetterStore) Record(ctx context.Context, job models.IngestJob, lastErr error, deliveries int, snapshotURL string) (int64, error) {
	var id int64
	err := s.db.Pool.QueryRow(ctx, insertDeadLetter,
		job.SessionID, job.Record.ExternalID, job.URL,
		lastErr.Error(), deliveries, snapshotURL, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	log.Warn().
		Int64("id", id).
		Str("externalID", job.Record.ExternalID).
		Str("url", job.URL).
		Int("deliveries", deliveries).
		Err(lastErr).
		Msg("Job dead-lettered")
	return id, nil
}

const listDeadLetters = `
SELECT id, session_id, external_id, url, last_error, deliveries, COALESCE(snapshot_url, ''), created_at
FROM dead_letters
ORDER BY created_at DESC
LIMIT $1`

// List returns the most recent dead-letter rows.
func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Pool.Query(ctx, listDeadLetters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.SessionID, &d.ExternalID, &d.URL,
			&d.LastError, &d.Deliveries, &d.SnapshotURL, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
