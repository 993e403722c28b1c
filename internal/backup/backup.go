// Package backup exports event-log snapshots to Google Cloud Storage. The
// log is the only state that matters: entity tables are materialized views
// plus the transaction/split tables, all included in the snapshot so a
// restore needs nothing else.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/dvloznov/envelope-ledger/internal/domain"
	"github.com/dvloznov/envelope-ledger/internal/eventstore"
	"github.com/dvloznov/envelope-ledger/internal/logger"
)

// Snapshot is the serialized backup payload.
type Snapshot struct {
	CreatedAt    time.Time                 `json:"created_at"`
	DeviceID     string                    `json:"device_id"`
	Events       []domain.Event            `json:"events"`
	Buckets      []domain.Bucket           `json:"buckets"`
	Rules        []domain.FundingRule      `json:"rules"`
	Transactions []domain.Transaction      `json:"transactions"`
	Splits       []domain.TransactionSplit `json:"splits"`
}

// Uploader stores a serialized snapshot, mockable in tests.
type Uploader interface {
	Upload(ctx context.Context, objectName string, data []byte) (string, error)
}

// GCSUploader implements Uploader against a GCS bucket. It assumes
// Application Default Credentials are configured.
type GCSUploader struct {
	bucket string
}

// NewGCSUploader creates an uploader targeting the given bucket.
func NewGCSUploader(bucket string) *GCSUploader {
	return &GCSUploader{bucket: bucket}
}

// Upload implements Uploader and returns the gs:// URI of the object.
func (u *GCSUploader) Upload(ctx context.Context, objectName string, data []byte) (string, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write snapshot to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, objectName), nil
}

// Export serializes the store and uploads it under
// backups/<YYYY/MM/DD>/<uuid>.json. Returns the uploaded object's URI.
func Export(ctx context.Context, store eventstore.Store, uploader Uploader, deviceID string) (string, error) {
	log := logger.FromContext(ctx)

	snap := Snapshot{CreatedAt: time.Now().UTC(), DeviceID: deviceID}

	var err error
	if snap.Events, err = store.ListEvents(ctx); err != nil {
		return "", fmt.Errorf("export: list events: %w", err)
	}
	if snap.Buckets, err = store.ListBuckets(ctx); err != nil {
		return "", fmt.Errorf("export: list buckets: %w", err)
	}
	if snap.Rules, err = store.ListRules(ctx); err != nil {
		return "", fmt.Errorf("export: list rules: %w", err)
	}
	if snap.Transactions, err = store.ListTransactions(ctx); err != nil {
		return "", fmt.Errorf("export: list transactions: %w", err)
	}
	if snap.Splits, err = store.ListSplits(ctx); err != nil {
		return "", fmt.Errorf("export: list splits: %w", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("export: marshal snapshot: %w", err)
	}

	objectName := fmt.Sprintf("backups/%s/%s.json", snap.CreatedAt.Format("2006/01/02"), uuid.New().String())
	uri, err := uploader.Upload(ctx, objectName, data)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	log.Info().
		Str("uri", uri).
		Int("events", len(snap.Events)).
		Int("buckets", len(snap.Buckets)).
		Msg("Exported ledger snapshot")
	return uri, nil
}
