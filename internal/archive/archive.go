// Package archive writes finished run records to object storage as JSON
// documents, one per run.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"flow-runner/internal/models"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

var ErrNotFound = errors.New("archived run not found")

// BlobArchive stores run records in any bucket gocloud.dev can open
// (file://, mem://, s3://, gs://, azblob://).
type BlobArchive struct {
	bucket *blob.Bucket
	prefix string
}

func NewBlobArchive(ctx context.Context, bucketURL, prefix string) (*BlobArchive, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive bucket: %w", err)
	}
	return &BlobArchive{bucket: bucket, prefix: prefix}, nil
}

// Save writes the record under <prefix><flow id>/<run id>.json.
func (a *BlobArchive) Save(ctx context.Context, run *models.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := a.bucket.WriteAll(ctx, a.keyFor(run.FlowID, run.ID), data, opts); err != nil {
		return fmt.Errorf("failed to archive run %s: %w", run.ID, err)
	}
	return nil
}

func (a *BlobArchive) Get(ctx context.Context, flowID, runID string) (*models.RunRecord, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(flowID, runID))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read archived run: %w", err)
	}

	var run models.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode archived run: %w", err)
	}
	return &run, nil
}

func (a *BlobArchive) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchive) keyFor(flowID, runID string) string {
	return a.prefix + flowID + "/" + runID + ".json"
}
