//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

// GCSBlobStore keeps archived trends in a Google Cloud Storage bucket, one
// object per content hash. Authentication uses application default
// credentials.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSBlobStore creates a GCS-backed blob store.
func NewGCSBlobStore(ctx context.Context, cfg GCSConfig) (*GCSBlobStore, error) {
	if cfg.Bucket == "" {
		return nil, faults.New("VAL_MISSING_REQUIRED_FIELD", "gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSBlobStore) Store(ctx context.Context, data []byte) (string, error) {
	hash := ContentHash(data)
	path, err := s.objectPath(hash)
	if err != nil {
		return "", err
	}

	obj := s.client.Bucket(s.bucket).Object(path)
	if _, err := obj.Attrs(ctx); err == nil {
		// Content-addressed: an existing object already holds these bytes.
		return hash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", path, err)
	}
	return hash, nil
}

func (s *GCSBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errNotStored(hash)
		}
		return nil, fmt.Errorf("gcs read %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSBlobStore) Exists(ctx context.Context, hash string) (bool, error) {
	path, err := s.objectPath(hash)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs %s: %w", path, err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *GCSBlobStore) Close() error { return s.client.Close() }

func (s *GCSBlobStore) objectPath(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, "sha256:")
	if !ok {
		return "", faults.Newf("VAL_SCHEMA_INVALID", "invalid content hash %q", hash)
	}
	return s.prefix + raw + ".json", nil
}
