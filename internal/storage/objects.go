package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/config"
)

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "gcs":
		return NewGCSStorage(ctx, cfg.GCSCredentials)
	case "supabase":
		return NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

const maxAssetBytes = 64 << 20

// Objects binds a Storage to one bucket and serves the generation engine's
// reads and writes.
type Objects struct {
	store  Storage
	bucket string
}

func NewObjects(store Storage, bucket string) *Objects {
	return &Objects{store: store, bucket: bucket}
}

func (o *Objects) ReadAsset(ctx context.Context, ref string) ([]byte, error) {
	rc, err := o.store.Download(ctx, o.bucket, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("asset %s exceeds %d bytes", ref, maxAssetBytes)
	}
	return data, nil
}

func (o *Objects) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	return o.store.Download(ctx, o.bucket, ref)
}

func (o *Objects) Put(ctx context.Context, path string, data []byte, contentType string) error {
	return o.store.Upload(ctx, o.bucket, path, bytes.NewReader(data), contentType)
}

// OutputPath is the single location a document's rendered output is
// written to.
func OutputPath(tenantID, documentID uuid.UUID) string {
	return fmt.Sprintf("%s/documents/%s.pdf", tenantID, documentID)
}

func QRPath(tenantID, documentID uuid.UUID) string {
	return fmt.Sprintf("%s/qr/%s.png", tenantID, documentID)
}
