package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/db"
	"github.com/estatepulse/property-crawler-service/common/models"
)

// Store persists PropertyRecords keyed by external id. Writes are
// transactional upserts: applying the same record twice leaves the row
// unchanged, and a less complete record never erases detail already stored.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	Created bool
	Merged  bool
}

const selectForUpdate = `
SELECT title, price, currency, purpose, property_type, latitude, longitude,
       area_sqft, beds, baths, image_url, country, locality, region,
       detail_url, completion_status, furnishing_status, reference,
       permit_number, brn_number, description, features, agent, created_at
FROM properties
WHERE external_id = $1
FOR UPDATE`

const insertProperty = `
INSERT INTO properties (
	external_id, title, price, currency, purpose, property_type,
	latitude, longitude, area_sqft, beds, baths, image_url,
	country, locality, region, detail_url, completion_status,
	furnishing_status, reference, permit_number, brn_number,
	description, features, agent, created_at, updated_at, last_checked
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $25, $25
)`

const updateProperty = `
UPDATE properties SET
	title = $2, price = $3, currency = $4, purpose = $5,
	property_type = $6, latitude = $7, longitude = $8, area_sqft = $9,
	beds = $10, baths = $11, image_url = $12, country = $13,
	locality = $14, region = $15, detail_url = $16,
	completion_status = $17, furnishing_status = $18, reference = $19,
	permit_number = $20, brn_number = $21, description = $22,
	features = $23, agent = $24, updated_at = $25, last_checked = $25
WHERE external_id = $1`

// Upsert writes a record inside a transaction. A new external id inserts; an
// existing one merges field-by-field so sentinel values never overwrite real
// data. updated_at and last_checked always advance.
func (s *Store) Upsert(ctx context.Context, rec models.PropertyRecord) (UpsertResult, error) {
	if rec.ExternalID == "" {
		return UpsertResult{}, fmt.Errorf("%w: record has no external id", common.ErrStoreFatal)
	}

	var result UpsertResult
	err := pgx.BeginFunc(ctx, s.db.Pool, func(tx pgx.Tx) error {
		stored, found, err := s.lockExisting(ctx, tx, rec.ExternalID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()

		if !found {
			if err := s.insert(ctx, tx, rec, now); err != nil {
				return err
			}
			result.Created = true
			return nil
		}

		merged := models.Merge(stored, rec)
		if err := s.update(ctx, tx, merged, now); err != nil {
			return err
		}
		result.Merged = true
		return nil
	})
	if err != nil {
		return UpsertResult{}, classifyStoreErr(err)
	}

	log.Debug().
		Str("externalID", rec.ExternalID).
		Bool("created", result.Created).
		Msg("Property upserted")
	return result, nil
}

func (s *Store) lockExisting(ctx context.Context, tx pgx.Tx, externalID string) (models.PropertyRecord, bool, error) {
	rec := models.PropertyRecord{ExternalID: externalID}
	var features, agent []byte

	err := tx.QueryRow(ctx, selectForUpdate, externalID).Scan(
		&rec.Title, &rec.Price, &rec.Currency, &rec.Purpose,
		&rec.PropertyType, &rec.Latitude, &rec.Longitude, &rec.AreaSqft,
		&rec.Beds, &rec.Baths, &rec.ImageURL, &rec.Country, &rec.Locality,
		&rec.Region, &rec.DetailURL, &rec.CompletionStatus,
		&rec.FurnishingStatus, &rec.Reference, &rec.PermitNumber,
		&rec.BRNNumber, &rec.Description, &features, &agent, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PropertyRecord{}, false, nil
	}
	if err != nil {
		return models.PropertyRecord{}, false, err
	}

	if len(features) > 0 {
		if err := json.Unmarshal(features, &rec.Features); err != nil {
			return models.PropertyRecord{}, false, err
		}
	}
	if len(agent) > 0 {
		if err := json.Unmarshal(agent, &rec.Agent); err != nil {
			return models.PropertyRecord{}, false, err
		}
	}

	return rec, true, nil
}

func (s *Store) insert(ctx context.Context, tx pgx.Tx, rec models.PropertyRecord, now time.Time) error {
	features, agent, err := marshalJSONB(rec)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, insertProperty,
		rec.ExternalID, rec.Title, rec.Price, rec.Currency, rec.Purpose,
		rec.PropertyType, rec.Latitude, rec.Longitude, rec.AreaSqft,
		rec.Beds, rec.Baths, rec.ImageURL, rec.Country, rec.Locality,
		rec.Region, rec.DetailURL, rec.CompletionStatus,
		rec.FurnishingStatus, rec.Reference, rec.PermitNumber,
		rec.BRNNumber, rec.Description, features, agent, now,
	)
	return err
}

func (s *Store) update(ctx context.Context, tx pgx.Tx, rec models.PropertyRecord, now time.Time) error {
	features, agent, err := marshalJSONB(rec)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, updateProperty,
		rec.ExternalID, rec.Title, rec.Price, rec.Currency, rec.Purpose,
		rec.PropertyType, rec.Latitude, rec.Longitude, rec.AreaSqft,
		rec.Beds, rec.Baths, rec.ImageURL, rec.Country, rec.Locality,
		rec.Region, rec.DetailURL, rec.CompletionStatus,
		rec.FurnishingStatus, rec.Reference, rec.PermitNumber,
		rec.BRNNumber, rec.Description, features, agent, now,
	)
	return err
}

func marshalJSONB(rec models.PropertyRecord) (features, agent []byte, err error) {
	features, err = json.Marshal(rec.Features)
	if err != nil {
		return nil, nil, err
	}
	agent, err = json.Marshal(rec.Agent)
	if err != nil {
		return nil, nil, err
	}
	return features, agent, nil
}

// classifyStoreErr maps database failures onto the ingestion error taxonomy.
// A unique violation means two workers raced on the same external id; the
// retry finds the row and merges instead.
func classifyStoreErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", common.ErrStoreConflict, pgErr.ConstraintName)
		case "23502", "23503", "23514", "22001":
			return fmt.Errorf("%w: %s", common.ErrStoreFatal, pgErr.Message)
		}
	}
	return err
}
