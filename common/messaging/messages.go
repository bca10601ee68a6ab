package messaging

import "github.com/estatepulse/property-crawler-service/common/models"

// Constants for NATS subjects
const (
	// StreamPropertyIngest is the durable stream carrying extracted records
	// from the crawl side to the persistence workers.
	StreamPropertyIngest = "PROPERTY_INGEST"

	// SubjectIngestProperty carries IngestMessage payloads.
	SubjectIngestProperty = "ingest.property"

	// SubjectIngestDeadLetter carries jobs that exhausted their retry budget.
	SubjectIngestDeadLetter = "ingest.deadletter"

	// SubjectCrawlRun triggers a crawl session for a source.
	SubjectCrawlRun = "crawl.run"
)

// IngestMessage is the wire form of an ingestion job.
type IngestMessage struct {
	Job models.IngestJob `json:"job"`
}

// CrawlRequest asks a registered source crawler to run a session.
type CrawlRequest struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	StartURL string `json:"start_url,omitempty"`
}

// DeadLetterNotice is published alongside the dead-letter row so operators
// can subscribe to terminal failures.
type DeadLetterNotice struct {
	JobID      string `json:"job_id"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
	LastError  string `json:"last_error"`
	Deliveries int    `json:"deliveries"`
}
