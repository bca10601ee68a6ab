package common

import (
	"errors"
	"fmt"
)

// Common error constants
var (
	// ErrInvalidConfig is returned when an invalid configuration is provided
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedSource is returned when an unsupported listing source is specified
	ErrUnsupportedSource = errors.New("unsupported listing source")

	// ErrFetchTimeout is returned when a page fetch exceeds its deadline.
	// Counts against the operation's retry budget.
	ErrFetchTimeout = errors.New("page fetch timed out")

	// ErrStructuralMiss is returned by an extraction stage when an expected
	// element is absent. Not a failure: the affected fields keep their
	// sentinel values.
	ErrStructuralMiss = errors.New("expected element not found")

	// ErrMalformedStructuredData is returned when a card's embedded JSON-LD
	// is present but unparseable. The card is skipped.
	ErrMalformedStructuredData = errors.New("malformed structured data")

	// ErrStoreConflict is returned on a concurrent-write race for the same
	// external id. Retriable: the retry observes the now-existing row.
	ErrStoreConflict = errors.New("store write conflict")

	// ErrStoreFatal is returned on a constraint or schema violation that a
	// retry cannot fix. The job is dead-lettered.
	ErrStoreFatal = errors.New("fatal store error")
)

// TransientFetchError marks a network-level fetch failure that should be
// retried with backoff before the page is declared failed.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure for %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsRetriable reports whether err should be retried rather than treated as
// terminal.
func IsRetriable(err error) bool {
	var tf *TransientFetchError
	if errors.As(err, &tf) {
		return true
	}
	return errors.Is(err, ErrFetchTimeout) || errors.Is(err, ErrStoreConflict)
}
