// Package testutil builds the fixtures shared by store, pipeline and API
// tests: a migrated database, an in-memory object store, a private metrics
// registry and synthetic room scans.
package testutil

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/survey.report/internal/db"
	"github.com/banshee-data/survey.report/internal/fsutil"
	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
)

// Epoch is the start time for mock clocks in tests.
var Epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// NewDB opens a migrated database in a temporary directory. It is closed
// when the test ends.
func NewDB(t testing.TB) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "survey.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// NewObjects returns an object store backed by memory.
func NewObjects(t testing.TB) *objectstore.FileStore {
	t.Helper()
	s, err := objectstore.NewFileStoreWithFS(fsutil.NewMemoryFileSystem(), "/objects")
	if err != nil {
		t.Fatalf("create memory object store: %v", err)
	}
	return s
}

// NewMetrics registers pipeline metrics on a fresh registry so tests can
// read them back without touching the default one.
func NewMetrics(t testing.TB) (*monitoring.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := monitoring.NewMetrics(reg)
	if err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	return m, reg
}

// Room scatters a square room of the given side: one floor slab per storey
// spaced storeyHeight apart, plus four walls rising from the ground slab to
// just below the top one. Slab and wall noise is 5mm.
func Room(seed int64, side float64, storeys int, storeyHeight float64) *pointcloud.Cloud {
	rng := rand.New(rand.NewSource(seed))
	var pts []pointcloud.Point
	for s := 0; s < storeys; s++ {
		z := float64(s) * storeyHeight
		for i := 0; i < 20000; i++ {
			pts = append(pts, pointcloud.Point{X: rng.Float64() * side, Y: rng.Float64() * side, Z: z + rng.NormFloat64()*0.005})
		}
	}
	top := math.Max(float64(storeys-1)*storeyHeight, 2.5)
	corners := [][2]float64{{0, 0}, {side, 0}, {side, side}, {0, side}}
	for c := range corners {
		a, b := corners[c], corners[(c+1)%4]
		dx, dy := b[0]-a[0], b[1]-a[1]
		l := math.Hypot(dx, dy)
		nx, ny := -dy/l, dx/l
		for i := 0; i < 12000; i++ {
			t, e := rng.Float64(), rng.NormFloat64()*0.005
			pts = append(pts, pointcloud.Point{X: a[0] + t*dx + e*nx, Y: a[1] + t*dy + e*ny, Z: 0.02 + rng.Float64()*(top-0.1)})
		}
	}
	rng.Shuffle(len(pts), func(i, j int) { pts[i], pts[j] = pts[j], pts[i] })
	return pointcloud.New(pts)
}
