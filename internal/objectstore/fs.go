package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/banshee-data/survey.report/internal/fsutil"
	"github.com/banshee-data/survey.report/internal/security"
)

// FileStore keeps objects as files below a root directory.
type FileStore struct {
	fs   fsutil.FileSystem
	root string
}

// NewFileStore creates a FileStore rooted at root on the local disk,
// creating the directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	return NewFileStoreWithFS(fsutil.OSFileSystem{}, root)
}

// NewFileStoreWithFS creates a FileStore on an arbitrary filesystem.
func NewFileStoreWithFS(fsys fsutil.FileSystem, root string) (*FileStore, error) {
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{fs: fsys, root: root}, nil
}

func (s *FileStore) path(key string) (string, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.root, filepath.FromSlash(clean))
	if _, ok := s.fs.(fsutil.OSFileSystem); ok {
		if err := security.ValidatePathWithinDirectory(p, s.root); err != nil {
			return "", err
		}
	}
	return p, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	w, err := s.fs.Create(p)
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	n, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("write %s: wrote %d of %d bytes", key, n, size)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
