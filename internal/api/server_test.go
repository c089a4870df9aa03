package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/survey/floors"
	"github.com/banshee-data/survey.report/internal/survey/pipeline"
	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/survey/walls"
	"github.com/banshee-data/survey.report/internal/testutil"
	"github.com/banshee-data/survey.report/internal/timeutil"
)

type fakeQueue struct {
	mu     sync.Mutex
	queued []string
}

func (q *fakeQueue) Enqueue(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, id)
	return true, nil
}

func (q *fakeQueue) Busy(string) bool { return false }

type testServer struct {
	store   *sqlite.Store
	objects objectstore.Store
	queue   *fakeQueue
	clock   *timeutil.MockClock
	handler http.Handler
}

func setupTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()
	database := testutil.NewDB(t)
	objects := testutil.NewObjects(t)
	metrics, reg := testutil.NewMetrics(t)

	ts := &testServer{
		store:   sqlite.NewStore(database.DB),
		objects: objects,
		queue:   &fakeQueue{},
		clock:   timeutil.NewMockClock(testutil.Epoch),
	}
	srv := NewServer(Config{
		Store:   ts.store,
		Objects: objects,
		Queue:   ts.queue,
		Exporter: &pipeline.Exporter{
			Plans: ts.store, Objects: objects, Clock: ts.clock, Metrics: metrics,
		},
		Clock:          ts.clock,
		MaxUploadBytes: maxUpload,
		Gatherer:       reg,
	})
	ts.handler = Handler(srv.ServeMux())
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// processedScan creates a ready scan with a walled ground floor and an
// empty upper floor.
func (ts *testServer) processedScan(t *testing.T) (*sqlite.Scan, []*sqlite.Floor) {
	t.Helper()
	ctx := context.Background()
	now := ts.clock.Now().UnixNano()
	sc := &sqlite.Scan{Filename: "house.las", SourceFormat: sqlite.FormatLAS, RawPath: "scans/h/raw.las", FileSize: 10}
	require.NoError(t, ts.store.CreateScan(ctx, sc, now))
	require.NoError(t, ts.store.TransitionStatus(ctx, sc.ScanID, sqlite.StatusUploaded, sqlite.StatusProcessing, sqlite.EventStatusChange, "", now))

	wall := func(label string, x0, y0, x1, y1 float64) walls.Wall {
		return walls.Wall{Label: label, Start: orb.Point{x0, y0}, End: orb.Point{x1, y1},
			ThicknessM: 0.12, LengthM: math.Hypot(x1-x0, y1-y0), Confidence: 0.9, InlierCount: 300}
	}
	hist, err := json.Marshal(&floors.Histogram{OriginM: 0, BinWidthM: 0.05, Counts: []int{900, 20, 15, 800}})
	require.NoError(t, err)
	require.NoError(t, objectstore.PutBytes(ctx, ts.objects, pipeline.PreviewKey(sc.ScanID), []byte("\x89PNG fake"), "image/png"))
	require.NoError(t, ts.store.CompleteProcessing(ctx, &sqlite.ProcessingResult{
		ScanID:              sc.ScanID,
		PointCount:          1000,
		DecimatedPointCount: 100,
		Bounds:              pointcloud.Bounds{Max: pointcloud.Vec3{X: 5, Y: 4, Z: 3}},
		PreviewPath:         pipeline.PreviewKey(sc.ScanID),
		ZHistogramJSON:      hist,
		Floors: []sqlite.FloorDetections{
			{
				Floor: floors.Floor{Label: "Ground", HeightM: 0, ZMinM: -0.05, ZMaxM: 0.05, PointCount: 900, PeakRatio: 8, Confidence: 0.9},
				Walls: []walls.Wall{wall("W1", 0, 0, 5, 0), wall("W2", 5, 0, 5, 4), wall("W3", 5, 4, 0, 4), wall("W4", 0, 4, 0, 0)},
			},
			{
				Floor: floors.Floor{Label: "Level 1", HeightM: 0.15, ZMinM: 0.1, ZMaxM: 0.2, PointCount: 800, PeakRatio: 7, Confidence: 0.8, SortOrder: 1},
			},
		},
	}, now))

	got, err := ts.store.GetScan(ctx, sc.ScanID)
	require.NoError(t, err)
	fl, err := ts.store.ListFloors(ctx, sc.ScanID)
	require.NoError(t, err)
	require.Len(t, fl, 2)
	return got, fl
}

func TestUploadScan(t *testing.T) {
	ts := setupTestServer(t, 1<<20)
	payload := bytes.Repeat([]byte("x"), 4096)

	rec := ts.do(t, http.MethodPost, "/api/scans?filename=../../site/house.LAS", bytes.NewReader(payload))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sc := decode[sqlite.Scan](t, rec)
	assert.Equal(t, "house.LAS", sc.Filename)
	assert.Equal(t, sqlite.FormatLAS, sc.SourceFormat)
	assert.Equal(t, sqlite.StatusUploaded, sc.Status)
	assert.Equal(t, int64(len(payload)), sc.FileSize)
	assert.Equal(t, pipeline.RawKey(sc.ScanID, sqlite.FormatLAS), sc.RawPath)
	assert.Equal(t, []string{sc.ScanID}, ts.queue.queued)

	stored, err := objectstore.GetBytes(context.Background(), ts.objects, sc.RawPath, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	rec = ts.do(t, http.MethodGet, "/api/scans/"+sc.ScanID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sc.ScanID, decode[sqlite.Scan](t, rec).ScanID)

	rec = ts.do(t, http.MethodGet, "/api/scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct{ Scans []sqlite.Scan }](t, rec)
	require.Len(t, list.Scans, 1)
}

func TestUploadScanRejects(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   io.Reader
		length int64
		want   int
	}{
		{"unknown format", "/api/scans?filename=cloud.ply", strings.NewReader("abc"), 3, http.StatusBadRequest},
		{"format override", "/api/scans?filename=cloud&format=xyz", strings.NewReader("abc"), 3, http.StatusBadRequest},
		{"declared too large", "/api/scans?format=las", strings.NewReader(strings.Repeat("x", 2048)), 2048, http.StatusRequestEntityTooLarge},
		{"streamed too large", "/api/scans?format=e57", strings.NewReader(strings.Repeat("x", 2048)), -1, http.StatusRequestEntityTooLarge},
		{"empty", "/api/scans?format=las", strings.NewReader(""), 0, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, 1024)
			req := httptest.NewRequest(http.MethodPost, tt.target, tt.body)
			req.ContentLength = tt.length
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			scans, err := ts.store.ListScans(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, scans)
			assert.Empty(t, ts.queue.queued)
		})
	}
}

func TestGetScanNotFound(t *testing.T) {
	ts := setupTestServer(t, 0)
	for _, target := range []string{
		"/api/scans/missing", "/api/scans/missing/floors", "/api/scans/missing/events",
		"/api/floors/missing/walls", "/api/plans/missing", "/debug/scans/missing/histogram",
	} {
		rec := ts.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestReprocessScan(t *testing.T) {
	ts := setupTestServer(t, 0)
	ctx := context.Background()
	sc, _ := ts.processedScan(t)

	rec := ts.do(t, http.MethodPost, "/api/scans/"+sc.ScanID+"/reprocess", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, sqlite.StatusUploaded, decode[sqlite.Scan](t, rec).Status)
	assert.Equal(t, []string{sc.ScanID}, ts.queue.queued)

	// Already waiting: not a valid re-trigger.
	rec = ts.do(t, http.MethodPost, "/api/scans/"+sc.ScanID+"/reprocess", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	events, err := ts.store.ListEvents(ctx, sc.ScanID)
	require.NoError(t, err)
	assert.Equal(t, "reprocess requested", events[len(events)-1].Message)
}

func TestFloorsAndWalls(t *testing.T) {
	ts := setupTestServer(t, 0)
	sc, fl := ts.processedScan(t)

	rec := ts.do(t, http.MethodGet, "/api/scans/"+sc.ScanID+"/floors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct{ Floors []sqlite.Floor }](t, rec)
	require.Len(t, got.Floors, 2)
	assert.Equal(t, "Ground", got.Floors[0].Label)

	rec = ts.do(t, http.MethodGet, "/api/floors/"+fl[0].FloorID+"/walls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ws := decode[struct{ Walls []sqlite.Wall }](t, rec)
	require.Len(t, ws.Walls, 4)
	assert.InDelta(t, 5, ws.Walls[0].LengthM, 1e-9)

	rec = ts.do(t, http.MethodGet, "/api/scans/"+sc.ScanID+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = ts.do(t, http.MethodGet, "/api/scans/"+sc.ScanID+"/decimated", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAndDownloadPlan(t *testing.T) {
	ts := setupTestServer(t, 0)
	_, fl := ts.processedScan(t)

	body := `{"format":"svg","paper_size":"A4","scale":"1:50","project":"House"}`
	rec := ts.do(t, http.MethodPost, "/api/floors/"+fl[0].FloorID+"/plans", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	plan := decode[sqlite.Plan](t, rec)
	assert.Equal(t, "svg", plan.Format)
	assert.Equal(t, "A4", plan.PaperSize)
	assert.Equal(t, 50, plan.ScaleRatio)
	assert.True(t, strings.HasPrefix(plan.Reference, "PLN-"), plan.Reference)

	rec = ts.do(t, http.MethodGet, "/api/plans/"+plan.PlanID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, plan.Reference, decode[sqlite.Plan](t, rec).Reference)

	rec = ts.do(t, http.MethodGet, "/api/plans/"+plan.PlanID+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), plan.Reference+".svg")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<?xml"))

	rec = ts.do(t, http.MethodGet, "/api/floors/"+fl[0].FloorID+"/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct{ Plans []sqlite.Plan }](t, rec).Plans, 1)
}

func TestCreatePlanErrors(t *testing.T) {
	ts := setupTestServer(t, 0)
	_, fl := ts.processedScan(t)

	tests := []struct {
		name  string
		floor string
		body  string
		want  int
	}{
		{"empty geometry", fl[1].FloorID, `{"format":"pdf"}`, http.StatusUnprocessableEntity},
		{"does not fit", fl[0].FloorID, `{"format":"pdf","paper_size":"A4","scale":"1:1"}`, http.StatusUnprocessableEntity},
		{"bad format", fl[0].FloorID, `{"format":"png"}`, http.StatusBadRequest},
		{"bad scale", fl[0].FloorID, `{"format":"pdf","scale":"2:100"}`, http.StatusBadRequest},
		{"unknown field", fl[0].FloorID, `{"format":"pdf","colour":"red"}`, http.StatusBadRequest},
		{"unknown floor", "missing", `{"format":"dxf"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/floors/"+tt.floor+"/plans", strings.NewReader(tt.body))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestDebugCharts(t *testing.T) {
	ts := setupTestServer(t, 0)
	sc, fl := ts.processedScan(t)

	for _, target := range []string{
		"/debug/scans/" + sc.ScanID + "/histogram",
		"/debug/floors/" + fl[0].FloorID + "/walls",
	} {
		rec := ts.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "echarts")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, 0)
	_, fl := ts.processedScan(t)
	rec := ts.do(t, http.MethodPost, "/api/floors/"+fl[0].FloorID+"/plans", strings.NewReader(`{"format":"dxf"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `survey_plans_exported_total{format="dxf"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := setupTestServer(t, 0)
	rec := ts.do(t, http.MethodDelete, "/api/scans", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUploadFormat(t *testing.T) {
	tests := []struct {
		format, filename string
		want             sqlite.SourceFormat
		wantErr          bool
	}{
		{"", "a.las", sqlite.FormatLAS, false},
		{"", "A.E57", sqlite.FormatE57, false},
		{"LAS", "a.bin", sqlite.FormatLAS, false},
		{"", "a.laz", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		got, err := uploadFormat(tt.format, tt.filename)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("uploadFormat(%q, %q) = %q, %v", tt.format, tt.filename, got, err)
		}
	}
}

func TestCleanFilename(t *testing.T) {
	tests := map[string]string{
		"house.las":          "house.las",
		"../../etc/passwd":   "passwd",
		`C:\scans\floor.e57`: "floor.e57",
		"":                   "",
		"/":                  "",
	}
	for in, want := range tests {
		if got := cleanFilename(in); got != want {
			t.Errorf("cleanFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
