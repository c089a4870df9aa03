package pipeline

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/banshee-data/survey.report/internal/config"
	"github.com/banshee-data/survey.report/internal/db"
	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/survey/las"
	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/testutil"
	"github.com/banshee-data/survey.report/internal/timeutil"
)

var epoch = testutil.Epoch

// twoStoreyRoom is a side x side room with a floor slab at z=0, another
// at z=3 and four walls between them.
func twoStoreyRoom(seed int64, side float64) *pointcloud.Cloud {
	return testutil.Room(seed, side, 2, 3)
}

func encodeLAS(t *testing.T, cloud *pointcloud.Cloud) []byte {
	t.Helper()
	buf, err := las.EncodeBytes(cloud, las.WriteOptions{Software: "pipeline test", Created: epoch})
	if err != nil {
		t.Fatalf("encode LAS: %v", err)
	}
	return buf
}

// failingStore wraps a store and fails Put for keys with the given suffix.
// With cancel set, a matching Put cancels the caller's context instead,
// the way a shutdown lands in the middle of an upload.
type failingStore struct {
	objectstore.Store
	suffix string
	cancel context.CancelFunc
}

func (f *failingStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.suffix != "" && strings.HasSuffix(key, f.suffix) {
		if f.cancel != nil {
			f.cancel()
			return ctx.Err()
		}
		return io.ErrClosedPipe
	}
	return f.Store.Put(ctx, key, r, size, contentType)
}

type harness struct {
	db      *db.DB
	store   *sqlite.Store
	objects *failingStore
	clock   *timeutil.MockClock
	proc    *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database := testutil.NewDB(t)
	h := &harness{
		db:      database,
		store:   sqlite.NewStore(database.DB),
		objects: &failingStore{Store: testutil.NewObjects(t)},
		clock:   timeutil.NewMockClock(epoch),
	}
	h.proc = &Processor{
		Scans:   h.store,
		Objects: h.objects,
		Tuning:  config.DefaultTuningConfig(),
		Clock:   h.clock,
	}
	return h
}

// upload stores data as a new scan in status uploaded.
func (h *harness) upload(t *testing.T, format sqlite.SourceFormat, data []byte) *sqlite.Scan {
	t.Helper()
	ctx := context.Background()
	sc := &sqlite.Scan{Filename: "scan." + string(format), SourceFormat: format, FileSize: int64(len(data))}
	sc.ScanID = uuid.New().String()
	sc.RawPath = RawKey(sc.ScanID, format)
	if err := objectstore.PutBytes(ctx, h.objects, sc.RawPath, data, "application/octet-stream"); err != nil {
		t.Fatalf("store raw upload: %v", err)
	}
	if err := h.store.CreateScan(ctx, sc, h.clock.Now().UnixNano()); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}
	return sc
}
