package bayut

import (
	"time"

	"github.com/estatepulse/property-crawler-service/common"
)

// Source is the identifier under which this crawler registers and keys its
// crawl cursor.
const Source = string(common.BayutDubai)

// Config holds the Bayut crawl parameters.
type Config struct {
	StartURL       string
	MaxConcurrency int
	MinDelayMs     int
	MaxDelayMs     int
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the production crawl parameters. The concurrency
// budget is deliberately small: the source blocks aggressive clients.
func DefaultConfig() Config {
	return Config{
		StartURL:       "https://www.bayut.com/for-sale/property/dubai/?sort=date_desc",
		MaxConcurrency: 3,
		MinDelayMs:     1000,
		MaxDelayMs:     3000,
		RetryAttempts:  3,
		RetryDelay:     2 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}
