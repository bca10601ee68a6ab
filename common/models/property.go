package models

import (
	"time"
)

// Sentinel values written instead of leaving fields empty, so downstream
// consumers never have to distinguish missing from unset.
const (
	NotSpecified  = "Not specified"
	NotAvailable  = "Not available"
	NoDescription = "No description available"

	DefaultCurrency = "AED"
)

// IsSentinel reports whether v is one of the placeholder values used for
// fields that extraction could not fill.
func IsSentinel(v string) bool {
	switch v {
	case "", NotSpecified, NotAvailable, NoDescription:
		return true
	}
	return false
}

// ListingSummary is the per-card result of walking a listing index page.
// It is built from the card's embedded JSON-LD block.
type ListingSummary struct {
	ExternalID   string    `json:"external_id"`
	Title        string    `json:"title"`
	PropertyType string    `json:"property_type"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	AreaSqft     string    `json:"area_sqft"`
	Beds         string    `json:"beds"`
	Baths        string    `json:"baths"`
	ImageURL     string    `json:"image_url"`
	Country      string    `json:"country"`
	Locality     string    `json:"locality"`
	Region       string    `json:"region"`
	DetailURL    string    `json:"detail_url"`
	ListedAt     time.Time `json:"listed_at"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// AgentInfo is the agent/agency block scraped from a detail page.
type AgentInfo struct {
	AgentName    string `json:"agent_name,omitempty"`
	AgentRating  string `json:"agent_rating,omitempty"`
	AgencyName   string `json:"agency_name,omitempty"`
	AgencyURL    string `json:"agency_url,omitempty"`
	Organization string `json:"organization,omitempty"`
	Contact      string `json:"contact,omitempty"`
}

// PropertyRecord is the full entity persisted in the store, keyed by
// ExternalID. String fields that extraction could not fill carry a sentinel
// value after ApplyDefaults, never the empty string.
type PropertyRecord struct {
	ExternalID   string  `json:"external_id"`
	Title        string  `json:"title"`
	Price        string  `json:"price"`
	Currency     string  `json:"currency"`
	Purpose      string  `json:"purpose"`
	PropertyType string  `json:"property_type"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	AreaSqft     string  `json:"area_sqft"`
	Beds         string  `json:"beds"`
	Baths        string  `json:"baths"`
	ImageURL     string  `json:"image_url"`
	Country      string  `json:"country"`
	Locality     string  `json:"locality"`
	Region       string  `json:"region"`
	DetailURL    string  `json:"detail_url"`

	CompletionStatus string `json:"completion_status"`
	FurnishingStatus string `json:"furnishing_status"`
	Reference        string `json:"reference"`
	PermitNumber     string `json:"permit_number"`
	BRNNumber        string `json:"brn_number"`
	Description      string `json:"description"`

	// Features maps a category name ("General", "Health and Fitness", ...)
	// to its ordered feature labels.
	Features map[string][]string `json:"features,omitempty"`
	Agent    AgentInfo           `json:"agent"`

	// ExtractionErrors records which stages failed; informational only.
	ExtractionErrors []string `json:"extraction_errors,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastChecked time.Time `json:"last_checked"`
}

// FromSummary seeds a record with everything the listing card already knew.
func FromSummary(s ListingSummary) PropertyRecord {
	return PropertyRecord{
		ExternalID:   s.ExternalID,
		Title:        s.Title,
		PropertyType: s.PropertyType,
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		AreaSqft:     s.AreaSqft,
		Beds:         s.Beds,
		Baths:        s.Baths,
		ImageURL:     s.ImageURL,
		Country:      s.Country,
		Locality:     s.Locality,
		Region:       s.Region,
		DetailURL:    s.DetailURL,
		LastChecked:  s.DiscoveredAt,
	}
}

// ApplyDefaults fills every string field that is still empty with its
// sentinel. Called once after all extraction stages have run.
func (r *PropertyRecord) ApplyDefaults() {
	def := func(field *string, sentinel string) {
		if *field == "" {
			*field = sentinel
		}
	}

	def(&r.Title, NotSpecified)
	def(&r.Price, NotSpecified)
	def(&r.Purpose, NotSpecified)
	def(&r.PropertyType, NotSpecified)
	def(&r.CompletionStatus, NotSpecified)
	def(&r.FurnishingStatus, NotSpecified)
	def(&r.AreaSqft, NotSpecified)
	def(&r.Beds, NotSpecified)
	def(&r.Baths, NotSpecified)
	def(&r.Country, NotSpecified)
	def(&r.Locality, NotSpecified)
	def(&r.Region, NotSpecified)
	def(&r.Reference, NotAvailable)
	def(&r.PermitNumber, NotAvailable)
	def(&r.BRNNumber, NotAvailable)
	def(&r.Description, NoDescription)
	def(&r.Agent.AgentName, NotSpecified)
	def(&r.Agent.AgencyName, NotSpecified)
	def(&r.Currency, DefaultCurrency)
}

// Merge combines an incoming record into the stored one. A field is
// overwritten only when the incoming value is not a sentinel, so a later,
// less complete crawl pass never erases detail captured earlier. The result
// is independent of application order with respect to completeness.
func Merge(stored, incoming PropertyRecord) PropertyRecord {
	out := stored

	take := func(dst *string, src string) {
		if !IsSentinel(src) {
			*dst = src
		}
	}

	take(&out.Title, incoming.Title)
	take(&out.Price, incoming.Price)
	take(&out.Purpose, incoming.Purpose)
	take(&out.PropertyType, incoming.PropertyType)
	take(&out.AreaSqft, incoming.AreaSqft)
	take(&out.Beds, incoming.Beds)
	take(&out.Baths, incoming.Baths)
	take(&out.ImageURL, incoming.ImageURL)
	take(&out.Country, incoming.Country)
	take(&out.Locality, incoming.Locality)
	take(&out.Region, incoming.Region)
	take(&out.DetailURL, incoming.DetailURL)
	take(&out.CompletionStatus, incoming.CompletionStatus)
	take(&out.FurnishingStatus, incoming.FurnishingStatus)
	take(&out.Reference, incoming.Reference)
	take(&out.PermitNumber, incoming.PermitNumber)
	take(&out.BRNNumber, incoming.BRNNumber)
	take(&out.Description, incoming.Description)
	take(&out.Agent.AgentName, incoming.Agent.AgentName)
	take(&out.Agent.AgentRating, incoming.Agent.AgentRating)
	take(&out.Agent.AgencyName, incoming.Agent.AgencyName)
	take(&out.Agent.AgencyURL, incoming.Agent.AgencyURL)
	take(&out.Agent.Organization, incoming.Agent.Organization)
	take(&out.Agent.Contact, incoming.Agent.Contact)

	// The default currency is meaningful, not a sentinel, so plain
	// non-empty wins is enough here.
	if incoming.Currency != "" {
		out.Currency = incoming.Currency
	}

	if incoming.Latitude != 0 {
		out.Latitude = incoming.Latitude
	}
	if incoming.Longitude != 0 {
		out.Longitude = incoming.Longitude
	}

	if len(incoming.Features) > 0 {
		out.Features = incoming.Features
	}

	return out
}

// IngestJob is the unit of work carried on the queue between extraction and
// persistence. Attempt counting is owned by the broker; Attempt here mirrors
// the delivery count for logging and dead-letter records.
type IngestJob struct {
	SessionID string         `json:"session_id"`
	URL       string         `json:"url"`
	Record    PropertyRecord `json:"record"`
	Attempt   int            `json:"attempt"`

	// SnapshotURL names the archived raw page HTML, when the crawl side
	// stored one.
	SnapshotURL string `json:"snapshot_url,omitempty"`
}
