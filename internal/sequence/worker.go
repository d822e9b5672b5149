package sequence

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/sequence-engine/internal/domain"
	"github.com/ignite/sequence-engine/internal/pkg/distlock"
	"github.com/ignite/sequence-engine/internal/pkg/logger"
)

// Worker defaults.
const (
	DefaultTickInterval    = 60 * time.Second
	DefaultBatchSize       = 100
	DefaultConcurrency     = 4
	DefaultShutdownTimeout = 30 * time.Second
)

// WorkerConfig tunes the polling loop. Zero values take the defaults.
// LockTTL is the lease renewed every LockTTL/3 on locks that expire while an
// enrollment is being advanced; zero disables renewal.
type WorkerConfig struct {
	TickInterval    time.Duration
	BatchSize       int
	Concurrency     int
	ShutdownTimeout time.Duration
	LockTTL         time.Duration
	Now             func() time.Time
}

func (c *WorkerConfig) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// TickResult summarizes one polling pass.
type TickResult struct {
	Due      int `json:"due"`
	Advanced int `json:"advanced"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// WorkerStats is a point-in-time snapshot of the worker's counters.
type WorkerStats struct {
	WorkerID  string     `json:"worker_id"`
	Running   bool       `json:"running"`
	Healthy   bool       `json:"healthy"`
	Ticks     int64      `json:"ticks"`
	Advanced  int64      `json:"advanced"`
	Failed    int64      `json:"failed"`
	Skipped   int64      `json:"skipped"`
	LastRunAt time.Time  `json:"last_run_at"`
	LastTick  TickResult `json:"last_tick"`
}

type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Worker polls for due enrollments and advances each one. Within a process at
// most one goroutine works on a given enrollment; across processes the
// optional LockProvider and the store's version checks provide the same.
type Worker struct {
	enrollments EnrollmentStore
	processor   Advancer
	locks       LockProvider
	cfg         WorkerConfig
	workerID    string

	inflight sync.Map

	// Stats
	ticks    int64
	advanced int64
	failed   int64
	skipped  int64

	statsMu   sync.RWMutex
	lastRunAt time.Time
	lastTick  TickResult
	healthy   bool

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWorker creates a Worker. locks may be nil.
func NewWorker(enrollments EnrollmentStore, processor Advancer, locks LockProvider, cfg WorkerConfig) *Worker {
	cfg.applyDefaults()
	return &Worker{
		enrollments: enrollments,
		processor:   processor,
		locks:       locks,
		cfg:         cfg,
		workerID:    fmt.Sprintf("sequence-%s", uuid.New().String()[:8]),
		healthy:     true,
	}
}

// Start runs one tick immediately and then one per TickInterval until ctx is
// cancelled or Stop is called. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	logger.Info("sequence worker starting",
		"worker_id", w.workerID, "tick_interval", w.cfg.TickInterval.String(),
		"batch_size", w.cfg.BatchSize, "concurrency", w.cfg.Concurrency)

	w.wg.Add(1)
	go w.loop()
}

// Stop cancels the loop and waits for the current tick, bounded by ShutdownTimeout.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("sequence worker stopped",
			"worker_id", w.workerID,
			"advanced", atomic.LoadInt64(&w.advanced), "failed", atomic.LoadInt64(&w.failed))
	case <-time.After(w.cfg.ShutdownTimeout):
		logger.Warn("sequence worker shutdown timeout", "worker_id", w.workerID)
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()

	w.Tick(w.ctx)

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.Tick(w.ctx)
		}
	}
}

// Tick fetches due enrollments page by page and advances each. Pages follow a
// (next_step_at, id) cursor so rows that keep failing cannot hide the rest of
// the due set. Per-enrollment failures are logged and counted; they never
// stop the tick.
func (w *Worker) Tick(ctx context.Context) TickResult {
	now := w.cfg.Now()
	atomic.AddInt64(&w.ticks, 1)

	var (
		res   TickResult
		after *DueCursor
	)
	for page := 0; ctx.Err() == nil; page++ {
		due, err := w.enrollments.GetDueEnrollments(ctx, now, after, w.cfg.BatchSize)
		if err != nil {
			logger.Error("fetch due enrollments failed", "worker_id", w.workerID, "page", page, "error", err)
			if page == 0 {
				w.finishTick(now, TickResult{}, false)
				return TickResult{}
			}
			break
		}
		w.runPage(ctx, due, &res)
		if len(due) < w.cfg.BatchSize {
			break
		}
		after = CursorAfter(due[len(due)-1])
	}

	atomic.AddInt64(&w.advanced, int64(res.Advanced))
	atomic.AddInt64(&w.failed, int64(res.Failed))
	atomic.AddInt64(&w.skipped, int64(res.Skipped))
	w.finishTick(now, res, true)

	if res.Due > 0 {
		logger.Info("sequence tick complete",
			"worker_id", w.workerID, "due", res.Due, "advanced", res.Advanced,
			"failed", res.Failed, "skipped", res.Skipped)
	}
	return res
}

// runPage advances one page of due enrollments with bounded concurrency and
// adds the outcomes to res.
func (w *Worker) runPage(ctx context.Context, due []domain.SequenceEnrollment, res *TickResult) {
	var advanced, failed, skipped int64
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		id := due[i].ID
		g.Go(func() error {
			switch w.processOne(ctx, id) {
			case outcomeAdvanced:
				atomic.AddInt64(&advanced, 1)
			case outcomeFailed:
				atomic.AddInt64(&failed, 1)
			default:
				atomic.AddInt64(&skipped, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Due += len(due)
	res.Advanced += int(advanced)
	res.Failed += int(failed)
	res.Skipped += int(skipped)
}

func (w *Worker) processOne(ctx context.Context, id string) (out outcome) {
	if _, busy := w.inflight.LoadOrStore(id, struct{}{}); busy {
		return outcomeSkipped
	}
	defer w.inflight.Delete(id)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic advancing enrollment",
				"enrollment_id", id, "panic", r, "stack", string(debug.Stack()))
			out = outcomeFailed
		}
	}()

	if w.locks != nil {
		if lock := w.locks.ForEnrollment(id); lock != nil {
			ok, err := lock.Acquire(ctx)
			if err != nil {
				logger.Warn("enrollment lock unavailable", "enrollment_id", id, "error", err)
				return outcomeSkipped
			}
			if !ok {
				return outcomeSkipped
			}
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := lock.Release(releaseCtx); err != nil {
					logger.Warn("enrollment lock release failed", "enrollment_id", id, "error", err)
				}
			}()
			if ext, ok := lock.(distlock.Extender); ok && w.cfg.LockTTL > 0 {
				var stop func()
				ctx, stop = w.holdLock(ctx, id, ext)
				defer stop()
			}
		}
	}

	// Re-read under the lock so a row advanced by another worker since the
	// due query is seen with its current step and version.
	enr, err := w.enrollments.GetEnrollment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEnrollmentNotFound) {
			return outcomeSkipped
		}
		logger.Error("load enrollment failed", "enrollment_id", id, "error", err)
		return outcomeFailed
	}
	if !enr.IsActive() || !enr.IsDue(w.cfg.Now()) {
		return outcomeSkipped
	}

	before := enr.Version
	err = w.processor.AdvanceEnrollment(ctx, enr)
	switch {
	case err == nil:
		if enr.Version == before {
			return outcomeSkipped
		}
		return outcomeAdvanced
	case errors.Is(err, ErrStaleEnrollment):
		logger.Info("enrollment advanced elsewhere", "enrollment_id", id)
		return outcomeSkipped
	case errors.Is(err, context.Canceled):
		logger.Info("enrollment pass interrupted", "enrollment_id", id)
		return outcomeSkipped
	default:
		w.logFailure(enr, err)
		return outcomeFailed
	}
}

// holdLock renews lock until the returned stop func is called. If a renewal
// reports the lock lost, the returned context is cancelled so the pass stops
// before its next step.
func (w *Worker) holdLock(ctx context.Context, id string, lock distlock.Extender) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Extend(ctx, w.cfg.LockTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Warn("enrollment lock lost, abandoning pass", "enrollment_id", id, "error", err)
					cancel()
					return
				}
			}
		}
	}()
	return ctx, func() {
		cancel()
		<-done
	}
}

func (w *Worker) logFailure(enr *domain.SequenceEnrollment, err error) {
	var se *StepError
	if errors.As(err, &se) {
		logger.Error("enrollment step failed",
			"enrollment_id", enr.ID, "sequence_id", enr.SequenceID,
			"step_id", se.StepID, "kind", string(se.Kind), "error", se.Err)
		return
	}
	logger.Error("enrollment advance failed",
		"enrollment_id", enr.ID, "sequence_id", enr.SequenceID, "error", err)
}

func (w *Worker) finishTick(at time.Time, res TickResult, healthy bool) {
	w.statsMu.Lock()
	w.lastRunAt = at
	w.lastTick = res
	w.healthy = healthy
	w.statsMu.Unlock()
}

// IsHealthy reports whether the last due-enrollment query succeeded.
func (w *Worker) IsHealthy() bool {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.healthy
}

// LastRunAt returns when the last tick started.
func (w *Worker) LastRunAt() time.Time {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.lastRunAt
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return WorkerStats{
		WorkerID:  w.workerID,
		Running:   running,
		Healthy:   w.healthy,
		Ticks:     atomic.LoadInt64(&w.ticks),
		Advanced:  atomic.LoadInt64(&w.advanced),
		Failed:    atomic.LoadInt64(&w.failed),
		Skipped:   atomic.LoadInt64(&w.skipped),
		LastRunAt: w.lastRunAt,
		LastTick:  w.lastTick,
	}
}
