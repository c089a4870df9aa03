package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/survey/planexport"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/survey/walls"
	"github.com/banshee-data/survey.report/internal/timeutil"
	"github.com/banshee-data/survey.report/internal/version"
)

// Export defaults applied when options leave them unset.
const (
	DefaultPaperSize = planexport.PaperA3
	DefaultScale     = 100
)

// PlanStore is the persistence the exporter needs.
type PlanStore interface {
	GetFloor(ctx context.Context, floorID string) (*sqlite.Floor, error)
	ListWalls(ctx context.Context, floorID string) ([]*sqlite.Wall, error)
	CountPlans(ctx context.Context, floorID string) (int, error)
	InsertPlan(ctx context.Context, p *sqlite.Plan, nowNs int64) error
}

// Exporter renders and stores plans for detected floors.
type Exporter struct {
	Plans   PlanStore
	Objects objectstore.Store
	Clock   timeutil.Clock
	Metrics *monitoring.Metrics

	// mu serialises reference numbering.
	mu sync.Mutex
}

// PlanKey is where an exported plan document is stored.
func PlanKey(floorID, reference string, f planexport.Format) string {
	return "plans/" + floorID + "/" + reference + f.Extension()
}

// Reference builds a plan reference: PLN-<first 8 of scan id>-L<floor
// order>-<sequence>.
func Reference(scanID string, sortOrder, seq int) string {
	short := scanID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("PLN-%s-L%d-%04d", short, sortOrder, seq)
}

// ExportPlan renders the floor's walls with opts, stores the document and
// records the plan. A floor without walls returns
// planexport.ErrEmptyGeometry and leaves everything unchanged.
func (e *Exporter) ExportPlan(ctx context.Context, floorID string, opts planexport.Options) (*sqlite.Plan, error) {
	ctx, span := monitoring.Tracer().Start(ctx, "pipeline.ExportPlan")
	defer span.End()

	floor, err := e.Plans.GetFloor(ctx, floorID)
	if err != nil {
		return nil, err
	}
	rows, err := e.Plans.ListWalls(ctx, floorID)
	if err != nil {
		return nil, err
	}
	ws := make([]walls.Wall, len(rows))
	for i, r := range rows {
		ws[i] = r.Wall
	}

	now := time.Now()
	if e.Clock != nil {
		now = e.Clock.Now()
	}
	if opts.PaperSize == "" {
		opts.PaperSize = DefaultPaperSize
	}
	if opts.Orientation == "" {
		opts.Orientation = planexport.OrientationAuto
	}
	if opts.Scale == 0 {
		opts.Scale = DefaultScale
	}
	opts.FloorLabel = floor.Label
	opts.Generator = version.Generator()
	if opts.Date.IsZero() {
		opts.Date = now
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.Plans.CountPlans(ctx, floorID)
	if err != nil {
		return nil, err
	}
	opts.Reference = Reference(floor.ScanID, floor.SortOrder, n+1)

	start := time.Now()
	res, err := planexport.Render(ws, opts)
	e.Metrics.ObserveStage("export", start)
	if err != nil {
		return nil, err
	}

	key := PlanKey(floorID, opts.Reference, res.Format)
	if err := objectstore.PutBytes(ctx, e.Objects, key, res.Bytes, res.ContentType()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	plan := &sqlite.Plan{
		FloorID:     floorID,
		Reference:   opts.Reference,
		Format:      string(res.Format),
		PaperSize:   string(res.PaperSize),
		Orientation: string(res.Orientation),
		ScaleRatio:  res.Scale,
		StoragePath: key,
		ByteSize:    int64(len(res.Bytes)),
		Generator:   opts.Generator,
	}
	if err := e.Plans.InsertPlan(ctx, plan, now.UnixNano()); err != nil {
		return nil, err
	}
	e.Metrics.PlanExported(string(res.Format))
	monitoring.Logf("[pipeline] floor %s exported %s (%s %s %s)", floorID, plan.Reference,
		plan.Format, plan.PaperSize, planexport.FormatScale(plan.ScaleRatio))
	return plan, nil
}
