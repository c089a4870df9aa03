package pipeline

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/survey.report/internal/monitoring"
)

// ErrQueueFull is returned by Enqueue when the queue has no room. The scan
// stays uploaded and the reconciler picks it up later.
var ErrQueueFull = errors.New("processing queue full")

// Runner processes one scan.
type Runner interface {
	Process(ctx context.Context, scanID string) error
}

// Dispatcher feeds queued scan IDs to a fixed number of workers. An ID that
// is already queued or being processed is not queued again.
type Dispatcher struct {
	runner  Runner
	workers int
	queue   chan string

	mu      sync.Mutex
	queued  map[string]bool
	running map[string]bool
}

// NewDispatcher returns a dispatcher with the given worker count and queue
// capacity. Non-positive values select 1 worker and a queue of 64.
func NewDispatcher(r Runner, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		runner:  r,
		workers: workers,
		queue:   make(chan string, queueSize),
		queued:  make(map[string]bool),
		running: make(map[string]bool),
	}
}

// Enqueue schedules scanID. It reports false without error when the scan
// is already queued or in flight.
func (d *Dispatcher) Enqueue(scanID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queued[scanID] || d.running[scanID] {
		return false, nil
	}
	select {
	case d.queue <- scanID:
		d.queued[scanID] = true
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// Busy reports whether scanID is queued or being processed.
func (d *Dispatcher) Busy(scanID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queued[scanID] || d.running[scanID]
}

// Run starts the workers and blocks until ctx is cancelled. Scan failures
// are recorded by the runner and do not stop the workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	monitoring.Logf("[dispatcher] starting %d workers", d.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}
	err := g.Wait()
	monitoring.Logf("[dispatcher] stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.mu.Lock()
			delete(d.queued, id)
			d.running[id] = true
			d.mu.Unlock()

			if err := d.runner.Process(ctx, id); err != nil {
				monitoring.Logf("[dispatcher] scan %s: %v", id, err)
			}

			d.mu.Lock()
			delete(d.running, id)
			d.mu.Unlock()
		}
	}
}
