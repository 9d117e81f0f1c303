package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStorage stores objects in Google Cloud Storage. Without explicit
// credentials the client falls back to Application Default Credentials.
type GCSStorage struct {
	client *gcs.Client
}

func NewGCSStorage(ctx context.Context, credentialsJSON string) (*GCSStorage, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStorage{client: client}, nil
}

func (s *GCSStorage) Upload(ctx context.Context, bucket, path string, data io.Reader, contentType string) error {
	w := s.client.Bucket(bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", path, err)
	}
	return nil
}

func (s *GCSStorage) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return r, nil
}

func (s *GCSStorage) GetPublicURL(bucket, path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, path)
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}
