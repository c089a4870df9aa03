// Package objectstore stores scan uploads and derived artifacts (converted
// and decimated LAS files, previews, exported plans) under slash-separated
// keys. Backends: local filesystem, S3-compatible (MinIO) and Google Cloud
// Storage.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotExist is returned when a key has no object.
var ErrNotExist = errors.New("object does not exist")

// ErrTooLarge is returned by GetBytes when an object exceeds the limit.
var ErrTooLarge = errors.New("object too large")

// Store is an object store. Implementations are safe for concurrent use.
type Store interface {
	// Put writes size bytes from r to key, replacing any existing object.
	// size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get opens key for reading and returns its size.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// CleanKey validates and normalises a key. Keys are relative,
// slash-separated and may not escape the store root.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return clean, nil
}

// PutBytes stores data at key.
func PutBytes(ctx context.Context, s Store, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// GetBytes reads the whole object at key. Objects larger than limit bytes
// return ErrTooLarge; limit <= 0 means no limit.
func GetBytes(ctx context.Context, s Store, key string, limit int64) ([]byte, error) {
	rc, size, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%s is %d bytes (limit %d): %w", key, size, limit, ErrTooLarge)
	}
	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	buf := bytes.NewBuffer(make([]byte, 0, max(size, 0)))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", key, limit, ErrTooLarge)
	}
	return buf.Bytes(), nil
}
