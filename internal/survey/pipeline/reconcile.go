package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/timeutil"
)

// Default reconciler timings.
const (
	DefaultStuckAfter     = 30 * time.Minute
	DefaultReconcileEvery = time.Minute
)

// StaleStore is the persistence the reconciler needs.
type StaleStore interface {
	ListStale(ctx context.Context, statuses []sqlite.Status, updatedBeforeNs int64) ([]*sqlite.Scan, error)
	TransitionStatus(ctx context.Context, scanID string, from, to sqlite.Status, kind sqlite.EventKind, message string, nowNs int64) error
}

// Queue accepts scans for processing.
type Queue interface {
	Enqueue(scanID string) (bool, error)
	Busy(scanID string) bool
}

// Reconciler requeues scans that stayed in an active status longer than
// StuckAfter, for example after a crash or a full queue.
type Reconciler struct {
	Scans      StaleStore
	Queue      Queue
	Clock      timeutil.Clock
	StuckAfter time.Duration
	Every      time.Duration
}

func (r *Reconciler) clock() timeutil.Clock {
	if r.Clock == nil {
		return timeutil.RealClock{}
	}
	return r.Clock
}

// RunOnce requeues every stale scan not already held by the queue and
// returns how many it requeued.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	stuck := r.StuckAfter
	if stuck <= 0 {
		stuck = DefaultStuckAfter
	}
	now := r.clock().Now()
	stale, err := r.Scans.ListStale(ctx,
		[]sqlite.Status{sqlite.StatusUploaded, sqlite.StatusConverting, sqlite.StatusProcessing},
		now.Add(-stuck).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("list stale scans: %w", err)
	}

	n := 0
	for _, sc := range stale {
		if !CanRequeue(sc.Status) || r.Queue.Busy(sc.ScanID) {
			continue
		}
		msg := fmt.Sprintf("requeued after %s in %s", now.Sub(time.Unix(0, sc.UpdatedAtNs)).Round(time.Second), sc.Status)
		err := r.Scans.TransitionStatus(ctx, sc.ScanID, sc.Status, sqlite.StatusUploaded, sqlite.EventRequeued, msg, now.UnixNano())
		if errors.Is(err, sqlite.ErrStatusConflict) || errors.Is(err, sqlite.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if _, err := r.Queue.Enqueue(sc.ScanID); err != nil {
			monitoring.Logf("[reconciler] scan %s: %v", sc.ScanID, err)
			continue
		}
		monitoring.Logf("[reconciler] scan %s %s", sc.ScanID, msg)
		n++
	}
	return n, nil
}

// Start runs RunOnce immediately and then every r.Every until ctx is
// cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	every := r.Every
	if every <= 0 {
		every = DefaultReconcileEvery
	}
	t := r.clock().NewTicker(every)
	defer t.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			monitoring.Logf("[reconciler] %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
		}
	}
}
