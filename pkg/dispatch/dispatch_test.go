package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/queue"
	"github.com/jdziat/docpipeline/pkg/retry"
	"github.com/jdziat/docpipeline/pkg/storage"
	"github.com/jdziat/docpipeline/pkg/worker"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newMemoryStore(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:", logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newFileStore(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "jobs.db"),
		logger.Default.LogMode(logger.Silent), storage.MaxOpenConns(8))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	s := storage.NewGormStorage(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// start runs a pool and a dispatcher until the test ends.
func start(t *testing.T, s core.Store, reg *handler.Registry, q *queue.Queue, id string, opts ...Option) *Dispatcher {
	t.Helper()
	pool := worker.NewPool(s, reg, q,
		worker.WorkerID(id),
		worker.Concurrency(3),
		worker.Logger(quiet),
		worker.StoreBackoff(retry.Backoff{MaxAttempts: 10, Initial: time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}),
	)
	base := []Option{
		PollInterval(20 * time.Millisecond),
		Logger(quiet),
		ClaimBackoff(retry.Backoff{MaxAttempts: 10, Initial: time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}),
	}
	d := New(s, pool, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = pool.Run(ctx) }()
	go func() { defer wg.Done(); _ = d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return d
}

func stateOf(t *testing.T, s core.Store, id string) core.State {
	job, err := s.GetJob(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.State
}

func TestDispatcher_RunsDueJobs(t *testing.T) {
	s := newMemoryStore(t)
	reg := handler.NewRegistry()
	var runs atomic.Int32
	reg.MustRegister("ok", handler.Func(func(context.Context, *core.Job) (handler.Result, error) {
		runs.Add(1)
		return handler.Result{}, nil
	}))
	q := queue.New(s)
	start(t, s, reg, q, "w1")

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(context.Background(), "ok", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			if stateOf(t, s, id) != core.StateSucceeded {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(5), runs.Load())
}

func TestDispatcher_WakeSkipsPollWait(t *testing.T) {
	s := newMemoryStore(t)
	reg := handler.NewRegistry()
	reg.MustRegister("ok", handler.Func(func(context.Context, *core.Job) (handler.Result, error) {
		return handler.Result{}, nil
	}))
	q := queue.New(s)
	d := start(t, s, reg, q, "w1", PollInterval(time.Hour))
	q.OnEnqueue(d.NotifyEnqueued)

	// Let the dispatcher reach its idle wait.
	time.Sleep(50 * time.Millisecond)

	id, err := q.Enqueue(context.Background(), "ok", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return stateOf(t, s, id) == core.StateSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_DelayedJobWaitsUntilDue(t *testing.T) {
	s := newMemoryStore(t)
	reg := handler.NewRegistry()
	reg.MustRegister("ok", handler.Func(func(context.Context, *core.Job) (handler.Result, error) {
		return handler.Result{}, nil
	}))
	q := queue.New(s)
	start(t, s, reg, q, "w1")

	id, err := q.Enqueue(context.Background(), "ok", nil, queue.Delay(300*time.Millisecond))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, core.StateScheduled, stateOf(t, s, id))

	assert.Eventually(t, func() bool {
		return stateOf(t, s, id) == core.StateSucceeded
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDispatcher_ManyDispatchersRunEachJobOnce(t *testing.T) {
	s := newFileStore(t)
	reg := handler.NewRegistry()

	var (
		mu   sync.Mutex
		runs = make(map[string]int)
	)
	reg.MustRegister("count", handler.Func(func(_ context.Context, job *core.Job) (handler.Result, error) {
		mu.Lock()
		runs[job.ID]++
		mu.Unlock()
		return handler.Result{}, nil
	}))
	q := queue.New(s)

	const jobs = 30
	var ids []string
	for i := 0; i < jobs; i++ {
		id, err := q.Enqueue(context.Background(), "count", map[string]int{"i": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i := 0; i < 3; i++ {
		start(t, s, reg, q, fmt.Sprintf("dispatcher-%d", i))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == jobs
	}, 10*time.Second, 20*time.Millisecond)

	// Give any duplicate execution a chance to surface.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, 1, runs[id], "job %s", id)
	}
}

func TestDispatcher_RecoversStaleClaim(t *testing.T) {
	s := newMemoryStore(t)
	reg := handler.NewRegistry()
	reg.MustRegister("ok", handler.Func(func(context.Context, *core.Job) (handler.Result, error) {
		return handler.Result{}, nil
	}))
	q := queue.New(s)

	id, err := q.Enqueue(context.Background(), "ok", nil)
	require.NoError(t, err)

	// A worker claims the job and dies without finishing it.
	crashed, err := s.ClaimDue(context.Background(), "crashed-worker", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, crashed, 1)
	require.NoError(t, s.MarkRunning(context.Background(), id, crashed[0].ClaimToken))

	start(t, s, reg, q, "survivor", VisibilityTimeout(200*time.Millisecond))

	assert.Eventually(t, func() bool {
		return stateOf(t, s, id) == core.StateSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	job, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "survivor", job.ClaimedBy)
}

// ──────────────────────────────────────────────────────────────────────────────
// Slot accounting with stub collaborators
// ──────────────────────────────────────────────────────────────────────────────

type stubPool struct {
	mu        sync.Mutex
	slots     int
	reserved  int
	released  int
	submitted []*core.Job
}

func (p *stubPool) WorkerID() string { return "stub" }

func (p *stubPool) Reserve(ctx context.Context, max int) (int, error) {
	p.mu.Lock()
	first := p.reserved == 0
	n := min(max, p.slots)
	if first {
		p.reserved += n
	}
	p.mu.Unlock()

	// Later rounds block so the test observes a single iteration.
	if !first {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return n, nil
}

func (p *stubPool) Release(n int) {
	p.mu.Lock()
	p.released += n
	p.mu.Unlock()
}

func (p *stubPool) Submit(job *core.Job) error {
	p.mu.Lock()
	p.submitted = append(p.submitted, job)
	p.mu.Unlock()
	return nil
}

type stubStore struct {
	core.Store
	fails  atomic.Int32
	calls  atomic.Int32
	jobs   []*core.Job
	limits chan int
}

func (s *stubStore) ClaimDue(_ context.Context, _ string, limit int, _ time.Duration) ([]*core.Job, error) {
	s.calls.Add(1)
	if s.fails.Add(-1) >= 0 {
		return nil, &core.StoreError{Op: "claim", Err: errors.New("database is locked"), Transient: true}
	}
	s.limits <- limit
	return s.jobs, nil
}

func TestDispatcher_ReleasesUnusedSlots(t *testing.T) {
	store := &stubStore{jobs: []*core.Job{{ID: "a"}, {ID: "b"}}, limits: make(chan int, 1)}
	pool := &stubPool{slots: 5}
	d := New(store, pool, BatchSize(10), Logger(quiet), PollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Equal(t, 5, <-store.limits, "claims no more than the reserved slots")
	assert.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.submitted) == 2 && pool.released == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDispatcher_RetriesTransientClaimErrors(t *testing.T) {
	store := &stubStore{jobs: []*core.Job{{ID: "a"}}, limits: make(chan int, 1)}
	store.fails.Store(2)
	pool := &stubPool{slots: 1}
	d := New(store, pool, Logger(quiet), PollInterval(time.Hour),
		ClaimBackoff(retry.Backoff{MaxAttempts: 5, Initial: time.Millisecond, Multiplier: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	assert.Equal(t, 1, <-store.limits)
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestDispatcher_NotifyEnqueued(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := New(&stubStore{}, &stubPool{}, Clock(func() time.Time { return now }))

	d.NotifyEnqueued(context.Background(), &core.Job{NotBefore: now.Add(time.Minute)})
	assert.Len(t, d.wake, 0, "future job does not wake")

	d.NotifyEnqueued(context.Background(), &core.Job{NotBefore: now})
	assert.Len(t, d.wake, 1)

	d.Wake()
	assert.Len(t, d.wake, 1, "wake never blocks")
}

type idlePool struct{}

func (idlePool) WorkerID() string { return "idle" }

func (idlePool) Reserve(ctx context.Context, max int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (idlePool) Release(int) {}

func (idlePool) Submit(*core.Job) error { return nil }

type emptyStore struct {
	core.Store
	calls atomic.Int32
}

func (s *emptyStore) ClaimDue(context.Context, string, int, time.Duration) ([]*core.Job, error) {
	s.calls.Add(1)
	return nil, nil
}

func TestPollInterval_ZeroIsKept(t *testing.T) {
	assert.Equal(t, time.Duration(0), New(nil, nil, PollInterval(0)).config.PollInterval)
	assert.Equal(t, time.Second, New(nil, nil, PollInterval(-time.Second)).config.PollInterval)
}

func TestDispatcher_ZeroPollIntervalRepollsImmediately(t *testing.T) {
	store := &emptyStore{}
	d := New(store, idlePool{}, Logger(quiet), PollInterval(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// One idle wait at the default interval would allow a single claim here.
	assert.Eventually(t, func() bool {
		return store.calls.Load() >= 20
	}, 500*time.Millisecond, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
