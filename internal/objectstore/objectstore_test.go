package objectstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/config"
	"github.com/banshee-data/survey.report/internal/fsutil"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"scans/a/raw.las", "scans/a/raw.las", false},
		{"scans//a/./raw.las", "scans/a/raw.las", false},
		{"scans/a/../b/raw.las", "scans/b/raw.las", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../escape", "", true},
		{"a/../../escape", "", true},
		{".", "", true},
		{`scans\a`, "", true},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.key)
		if tt.wantErr {
			assert.Error(t, err, tt.key)
			continue
		}
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got)
	}
}

func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, PutBytes(ctx, s, "scans/1/raw.las", []byte("LASF data"), "application/octet-stream"))
	got, err := GetBytes(ctx, s, "scans/1/raw.las", 0)
	require.NoError(t, err)
	assert.Equal(t, "LASF data", string(got))

	// Overwrite.
	require.NoError(t, PutBytes(ctx, s, "scans/1/raw.las", []byte("v2"), ""))
	got, err = GetBytes(ctx, s, "scans/1/raw.las", 0)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	_, err = GetBytes(ctx, s, "scans/1/raw.las", 1)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = GetBytes(ctx, s, "scans/2/raw.las", 0)
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, s.Delete(ctx, "scans/1/raw.las"))
	require.NoError(t, s.Delete(ctx, "scans/1/raw.las"), "deleting twice is fine")
	_, _, err = s.Get(ctx, "scans/1/raw.las")
	assert.True(t, errors.Is(err, ErrNotExist))

	assert.Error(t, PutBytes(ctx, s, "../outside", []byte("x"), ""))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)
	testStoreContract(t, s)
}

func TestFileStoreMemoryFS(t *testing.T) {
	s, err := NewFileStoreWithFS(fsutil.NewMemoryFileSystem(), "/data")
	require.NoError(t, err)
	testStoreContract(t, s)
}

func TestOpenFileStore(t *testing.T) {
	cfg := &config.ServiceConfig{Store: config.StoreFS, StoreDir: t.TempDir()}
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(context.Background(), &config.ServiceConfig{Store: "tape"})
	assert.Error(t, err)
}
