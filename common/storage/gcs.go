package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/estatepulse/property-crawler-service/common/config"
)

// GCSSnapshotStore implements SnapshotStore on Google Cloud Storage.
type GCSSnapshotStore struct {
	client *storage.Client
	bucket string
}

// NewGCSSnapshotStore creates a snapshot store backed by GCS.
func NewGCSSnapshotStore(ctx context.Context, cfg config.GCSConfig) (*GCSSnapshotStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	return &GCSSnapshotStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Upload stores a snapshot and returns the object name.
func (g *GCSSnapshotStore) Upload(ctx context.Context, objectName string, content []byte, contentType string) (string, error) {
	wc := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := io.Copy(wc, bytes.NewReader(content)); err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	return objectName, nil
}

// Download retrieves a previously stored snapshot.
func (g *GCSSnapshotStore) Download(ctx context.Context, objectName string) ([]byte, error) {
	rc, err := g.client.Bucket(g.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", objectName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", objectName, err)
	}
	return data, nil
}

// Delete removes a snapshot.
func (g *GCSSnapshotStore) Delete(ctx context.Context, objectName string) error {
	if err := g.client.Bucket(g.bucket).Object(objectName).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", objectName, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSSnapshotStore) Close() error {
	return g.client.Close()
}
