package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/banshee-data/survey.report/internal/config"
)

// GCSStore keeps objects in a Google Cloud Storage bucket, optionally under
// a key prefix.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore creates a client from application default credentials.
func NewGCSStore(ctx context.Context, cfg config.GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(cfg.Bucket), prefix: cfg.Prefix}, nil
}

// Close releases the client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func (g *GCSStore) object(key string) (*storage.ObjectHandle, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	if g.prefix != "" {
		clean = path.Join(g.prefix, clean)
	}
	return g.bucket.Object(clean), nil
}

// Put implements Store.
func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	obj, err := g.object(key)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (g *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := g.object(key)
	if err != nil {
		return nil, 0, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
	return r, r.Attrs.Size, nil
}

// Delete implements Store.
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	obj, err := g.object(key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
