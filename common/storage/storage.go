package storage

import (
	"context"
	"fmt"
)

// SnapshotStore archives raw page HTML so a dead-lettered job can be
// replayed later without re-fetching the source.
type SnapshotStore interface {
	// Upload stores a snapshot and returns the object name.
	Upload(ctx context.Context, objectName string, content []byte, contentType string) (string, error)

	// Download retrieves a previously stored snapshot.
	Download(ctx context.Context, objectName string) ([]byte, error)

	// Delete removes a snapshot.
	Delete(ctx context.Context, objectName string) error
}

// SnapshotObjectName builds the canonical object name for a listing's raw
// page snapshot.
func SnapshotObjectName(source, externalID string) string {
	return fmt.Sprintf("snapshots/%s/%s.html", source, externalID)
}
