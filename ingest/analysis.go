package ingest

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/estatepulse/property-crawler-service/common/db"
	"github.com/estatepulse/property-crawler-service/common/models"
)

// AnalysisStore serves read-only aggregate queries over stored properties.
// Prices are stored as display strings; aggregates coerce them to numerics
// in SQL, skipping rows whose price is a sentinel or not a plain number.
type AnalysisStore struct {
	db *db.DB
}

func NewAnalysisStore(database *db.DB) *AnalysisStore {
	return &AnalysisStore{db: database}
}

// RegionCount is the number of listings in one region.
type RegionCount struct {
	Region string `json:"region"`
	Count  int64  `json:"count"`
}

// PriceStats aggregates numeric prices per currency.
type PriceStats struct {
	Currency string  `json:"currency"`
	Average  float64 `json:"average"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Listings int64   `json:"listings"`
}

const regionCountsQuery = `
SELECT region, COUNT(*)
FROM properties
WHERE region <> $1
GROUP BY region
ORDER BY COUNT(*) DESC, region`

// RegionCounts returns listing counts grouped by region, most listed first.
// Rows without a known region are excluded.
func (s *AnalysisStore) RegionCounts(ctx context.Context) ([]RegionCount, error) {
	rows, err := s.db.Pool.Query(ctx, regionCountsQuery, models.NotSpecified)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RegionCount
	for rows.Next() {
		var rc RegionCount
		if err := rows.Scan(&rc.Region, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// numericPrice strips thousands separators and keeps only rows whose price
// is a plain number after that.
const priceStatsQuery = `
SELECT currency,
       AVG(REPLACE(price, ',', '')::numeric),
       MIN(REPLACE(price, ',', '')::numeric),
       MAX(REPLACE(price, ',', '')::numeric),
       COUNT(*)
FROM properties
WHERE REPLACE(price, ',', '') ~ '^[0-9]+(\.[0-9]+)?$'
GROUP BY currency
ORDER BY currency`

// PriceStats returns average, minimum and maximum price per currency over
// all rows with a numeric price.
func (s *AnalysisStore) PriceStats(ctx context.Context) ([]PriceStats, error) {
	rows, err := s.db.Pool.Query(ctx, priceStatsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceStats
	for rows.Next() {
		var ps PriceStats
		if err := rows.Scan(&ps.Currency, &ps.Average, &ps.Min, &ps.Max, &ps.Listings); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

const propertyByIDQuery = `
SELECT external_id, title, price, currency, purpose, property_type,
       latitude, longitude, area_sqft, beds, baths, image_url,
       country, locality, region, detail_url, completion_status,
       furnishing_status, reference, permit_number, brn_number,
       description, features, agent, created_at, updated_at, last_checked
FROM properties
WHERE external_id = $1`

// PropertyByID fetches one stored property. Returns found=false when the
// external id is unknown.
func (s *AnalysisStore) PropertyByID(ctx context.Context, externalID string) (models.PropertyRecord, bool, error) {
	var rec models.PropertyRecord
	var features, agent []byte

	err := s.db.Pool.QueryRow(ctx, propertyByIDQuery, externalID).Scan(
		&rec.ExternalID, &rec.Title, &rec.Price, &rec.Currency,
		&rec.Purpose, &rec.PropertyType, &rec.Latitude, &rec.Longitude,
		&rec.AreaSqft, &rec.Beds, &rec.Baths, &rec.ImageURL, &rec.Country,
		&rec.Locality, &rec.Region, &rec.DetailURL, &rec.CompletionStatus,
		&rec.FurnishingStatus, &rec.Reference, &rec.PermitNumber,
		&rec.BRNNumber, &rec.Description, &features, &agent,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.LastChecked,
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
