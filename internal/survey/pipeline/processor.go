// Package pipeline turns uploaded scans into floors, walls and artifacts.
//
// Processor runs one scan through conversion, parsing, decimation and
// detection; Dispatcher feeds it from a bounded queue; Reconciler requeues
// scans whose worker disappeared; Exporter renders plans on demand.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/banshee-data/survey.report/internal/config"
	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/survey/decimate"
	"github.com/banshee-data/survey.report/internal/survey/e57"
	"github.com/banshee-data/survey.report/internal/survey/floors"
	"github.com/banshee-data/survey.report/internal/survey/las"
	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
	"github.com/banshee-data/survey.report/internal/survey/preview"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/survey/walls"
	"github.com/banshee-data/survey.report/internal/timeutil"
	"github.com/banshee-data/survey.report/internal/version"
)

var (
	// ErrDownload wraps object store failures while reading an input.
	ErrDownload = errors.New("download failed")
	// ErrUpload wraps object store failures while writing an artifact.
	ErrUpload = errors.New("upload failed")
	// ErrFileTooLarge is returned for scans above the upload limit.
	ErrFileTooLarge = errors.New("scan file too large")
	// ErrNotRunnable is returned when a scan is not waiting to be processed.
	ErrNotRunnable = errors.New("scan is not in uploaded status")
)

// RawKey is where an upload's original bytes are stored.
func RawKey(scanID string, f sqlite.SourceFormat) string {
	return "scans/" + scanID + "/raw." + string(f)
}

// Derived artifact keys.
func ConvertedKey(scanID string) string { return "scans/" + scanID + "/converted.las" }
func DecimatedKey(scanID string) string { return "scans/" + scanID + "/decimated.las" }
func PreviewKey(scanID string) string   { return "scans/" + scanID + "/preview.png" }

// ScanStore is the persistence the processor needs.
type ScanStore interface {
	GetScan(ctx context.Context, scanID string) (*sqlite.Scan, error)
	TransitionStatus(ctx context.Context, scanID string, from, to sqlite.Status, kind sqlite.EventKind, message string, nowNs int64) error
	SetConvertedPath(ctx context.Context, scanID, path string, nowNs int64) error
	CompleteProcessing(ctx context.Context, r *sqlite.ProcessingResult, nowNs int64) error
	MarkFailed(ctx context.Context, scanID, message string, nowNs int64) error
}

// Processor runs scans through the pipeline.
type Processor struct {
	Scans   ScanStore
	Objects objectstore.Store
	Tuning  *config.TuningConfig
	Clock   timeutil.Clock
	Metrics *monitoring.Metrics
	// MaxUploadBytes rejects larger scans. Zero selects
	// config.DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

func (p *Processor) now() int64 {
	if p.Clock == nil {
		return time.Now().UnixNano()
	}
	return p.Clock.Now().UnixNano()
}

func (p *Processor) tuning() *config.TuningConfig {
	if p.Tuning == nil {
		return config.EmptyTuningConfig()
	}
	return p.Tuning
}

func (p *Processor) maxBytes() int64 {
	if p.MaxUploadBytes <= 0 {
		return config.DefaultMaxUploadBytes
	}
	return p.MaxUploadBytes
}

// Process runs one uploaded scan to ready or failed. Any error after the
// scan has been claimed leaves it failed with the error text recorded and
// no detections, unless ctx was cancelled, in which case the scan is left
// in its in-flight status.
func (p *Processor) Process(ctx context.Context, scanID string) error {
	ctx, span := monitoring.Tracer().Start(ctx, "pipeline.Process")
	defer span.End()
	span.SetAttributes(attribute.String("scan.id", scanID))

	sc, err := p.Scans.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	if sc.Status != sqlite.StatusUploaded {
		return fmt.Errorf("scan %s is %s: %w", scanID, sc.Status, ErrNotRunnable)
	}

	done := p.Metrics.ScanStarted()
	defer done()

	if err := p.run(ctx, sc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, sqlite.ErrStatusConflict) {
			// Another worker or the reconciler owns the scan now.
			monitoring.Logf("[pipeline] scan %s abandoned: %v", scanID, err)
			return err
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Shutting down. The scan stays in its in-flight status for the
			// reconciler to requeue after restart.
			monitoring.Logf("[pipeline] scan %s abandoned on shutdown: %v", scanID, err)
			return err
		}
		p.Metrics.ScanDone(monitoring.OutcomeFailed)
		monitoring.Logf("[pipeline] scan %s failed: %v", scanID, err)
		ferr := p.Scans.MarkFailed(context.WithoutCancel(ctx), scanID, err.Error(), p.now())
		switch {
		case errors.Is(ferr, sqlite.ErrStatusConflict):
			monitoring.Logf("[pipeline] scan %s moved on before its failure was recorded: %v", scanID, ferr)
		case ferr != nil:
			return fmt.Errorf("%w (and recording the failure: %v)", err, ferr)
		}
		return err
	}
	p.Metrics.ScanDone(monitoring.OutcomeReady)
	return nil
}

func (p *Processor) run(ctx context.Context, sc *sqlite.Scan) error {
	if sc.FileSize > p.maxBytes() {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, sc.FileSize, p.maxBytes())
	}

	from := sqlite.StatusUploaded
	if sc.SourceFormat == sqlite.FormatE57 {
		if err := p.transition(ctx, sc.ScanID, from, sqlite.StatusConverting); err != nil {
			return err
		}
		from = sqlite.StatusConverting
		if err := p.stage(ctx, "convert", func(ctx context.Context) error { return p.convert(ctx, sc) }); err != nil {
			return err
		}
	}
	if err := p.transition(ctx, sc.ScanID, from, sqlite.StatusProcessing); err != nil {
		return err
	}

	res, err := p.analyse(ctx, sc)
	if err != nil {
		return err
	}
	if err := p.Scans.CompleteProcessing(ctx, res, p.now()); err != nil {
		return fmt.Errorf("commit results: %w", err)
	}
	monitoring.Logf("[pipeline] scan %s ready: %s", sc.ScanID, res.Message)
	return nil
}

func (p *Processor) transition(ctx context.Context, scanID string, from, to sqlite.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return p.Scans.TransitionStatus(ctx, scanID, from, to, sqlite.EventStatusChange, "", p.now())
}

// stage runs fn in a span and records its duration.
func (p *Processor) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := monitoring.Tracer().Start(ctx, "stage."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	p.Metrics.ObserveStage(name, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Processor) download(ctx context.Context, key string) ([]byte, error) {
	buf, err := objectstore.GetBytes(ctx, p.Objects, key, p.maxBytes())
	if err != nil {
		if errors.Is(err, objectstore.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrFileTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return buf, nil
}

func (p *Processor) upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := objectstore.PutBytes(ctx, p.Objects, key, data, contentType); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return nil
}

func (p *Processor) convert(ctx context.Context, sc *sqlite.Scan) error {
	raw, err := p.download(ctx, sc.RawPath)
	if err != nil {
		return err
	}
	out, sum, err := e57.Convert(raw, e57.ConvertOptions{Software: version.Generator(), Created: time.Unix(0, p.now())})
	if err != nil {
		return err
	}
	key := ConvertedKey(sc.ScanID)
	if err := p.upload(ctx, key, out, "application/vnd.las"); err != nil {
		return err
	}
	if err := p.Scans.SetConvertedPath(ctx, sc.ScanID, key, p.now()); err != nil {
		return err
	}
	sc.ConvertedPath = key
	monitoring.Logf("[pipeline] scan %s converted: %d scans, %d points", sc.ScanID, sum.Scans, sum.Points)
	return nil
}

func (p *Processor) analyse(ctx context.Context, sc *sqlite.Scan) (*sqlite.ProcessingResult, error) {
	tuning := p.tuning()

	buf, err := p.download(ctx, sc.LASPath())
	if err != nil {
		return nil, err
	}

	// The recorded upload size catches a raw object cut short in storage.
	declared := int64(len(buf))
	if sc.ConvertedPath == "" && sc.FileSize > 0 {
		declared = sc.FileSize
	}
	var cloud *pointcloud.Cloud
	if err := p.stage(ctx, "parse", func(context.Context) error {
		c, _, err := las.Parse(buf, declared)
		cloud = c
		return err
	}); err != nil {
		return nil, err
	}
	buf = nil

	var (
		reduced *pointcloud.Cloud
		dstats  decimate.Stats
	)
	if err := p.stage(ctx, "decimate", func(ctx context.Context) error {
		reduced, dstats = decimate.Decimate(cloud, tuning.ToDecimateParams())
		out, err := las.EncodeBytes(reduced, las.WriteOptions{
			Scale:    tuning.GetLASOutputScale(),
			Software: version.Generator(),
			Created:  time.Unix(0, p.now()),
		})
		if err != nil {
			return fmt.Errorf("encode decimated LAS: %w", err)
		}
		return p.upload(ctx, DecimatedKey(sc.ScanID), out, "application/vnd.las")
	}); err != nil {
		return nil, err
	}

	var (
		found []floors.Floor
		hist  *floors.Histogram
		dets  []sqlite.FloorDetections
	)
	if err := p.stage(ctx, "detect", func(context.Context) error {
		found, hist = floors.DetectWithHistogram(cloud, tuning.ToFloorParams())
		wp := tuning.ToWallParams()
		for _, f := range found {
			ws, st := walls.Detect(cloud, f.HeightM, wp)
			ws = usableWalls(ws)
			monitoring.Logf("[pipeline] scan %s floor %s at %.2fm: %d walls from %d slice points",
				sc.ScanID, f.Label, f.HeightM, len(ws), st.SlicePoints)
			dets = append(dets, sqlite.FloorDetections{Floor: f, Walls: ws})
		}
		return nil
	}); err != nil {
		return nil, err
	}

	previewKey := ""
	if err := p.stage(ctx, "preview", func(ctx context.Context) error {
		if reduced.Count() == 0 {
			return nil
		}
		var ws []walls.Wall
		if len(dets) > 0 {
			ws = dets[0].Walls
		}
		png, err := preview.Render(reduced, ws, tuning.ToPreviewOptions())
		if err != nil {
			return fmt.Errorf("render preview: %w", err)
		}
		previewKey = PreviewKey(sc.ScanID)
		return p.upload(ctx, previewKey, png, "image/png")
	}); err != nil {
		return nil, err
	}

	histJSON, err := json.Marshal(hist)
	if err != nil {
		return nil, fmt.Errorf("marshal histogram: %w", err)
	}

	nWalls := 0
	for _, d := range dets {
		nWalls += len(d.Walls)
	}
	return &sqlite.ProcessingResult{
		ScanID:              sc.ScanID,
		PointCount:          int64(cloud.Count()),
		DecimatedPointCount: int64(reduced.Count()),
		Bounds:              cloud.Bounds,
		DecimatedPath:       DecimatedKey(sc.ScanID),
		PreviewPath:         previewKey,
		ZHistogramJSON:      histJSON,
		Floors:              dets,
		Message: fmt.Sprintf("%d points, %d after decimation (voxel %.3fm), %d floors, %d walls",
			cloud.Count(), dstats.OutputPoints, dstats.VoxelEdgeM, len(found), nWalls),
	}, nil
}

// usableWalls drops segments the schema rejects: zero length or a
// non-positive thickness.
func usableWalls(ws []walls.Wall) []walls.Wall {
	out := ws[:0]
	for _, w := range ws {
		if w.LengthM <= 0 || w.ThicknessM <= 0 || w.Start == w.End {
			continue
		}
		out = append(out, w)
	}
	return out
}
