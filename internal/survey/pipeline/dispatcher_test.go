package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	release chan struct{}
	started chan string

	mu      sync.Mutex
	calls   map[string]int
	current int32
	peak    int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		release: make(chan struct{}),
		started: make(chan string, 16),
		calls:   map[string]int{},
	}
}

func (r *blockingRunner) Process(ctx context.Context, scanID string) error {
	n := atomic.AddInt32(&r.current, 1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}
	r.mu.Lock()
	r.calls[scanID]++
	r.mu.Unlock()
	r.started <- scanID
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	atomic.AddInt32(&r.current, -1)
	return nil
}

func TestDispatcherCoalescesDuplicates(t *testing.T) {
	r := newBlockingRunner()
	d := NewDispatcher(r, 1, 8)

	ok, err := d.Enqueue("a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.Enqueue("a")
	require.NoError(t, err)
	assert.False(t, ok, "queued duplicate")
	assert.True(t, d.Busy("a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Equal(t, "a", <-r.started)
	ok, err = d.Enqueue("a")
	require.NoError(t, err)
	assert.False(t, ok, "in-flight duplicate")

	close(r.release)
	require.Eventually(t, func() bool { return !d.Busy("a") }, 2*time.Second, 5*time.Millisecond)
	ok, err = d.Enqueue("a")
	require.NoError(t, err)
	assert.True(t, ok, "finished scan can be queued again")
	require.Equal(t, "a", <-r.started)

	cancel()
	require.NoError(t, <-done)
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 2, r.calls["a"])
}

func TestDispatcherConcurrencyCeiling(t *testing.T) {
	r := newBlockingRunner()
	d := NewDispatcher(r, 2, 8)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := d.Enqueue(id)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	<-r.started
	<-r.started
	select {
	case id := <-r.started:
		t.Fatalf("third scan %s started while two were blocked", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(r.release)
	<-r.started
	<-r.started
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), atomic.LoadInt32(&r.peak))
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(newBlockingRunner(), 1, 1)
	_, err := d.Enqueue("a")
	require.NoError(t, err)
	_, err = d.Enqueue("b")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, d.Busy("b"))
}
