package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driving"
)

// Lock defaults
const (
	DefaultLockTTL         = 30 * time.Second
	DefaultAcquireInterval = 5 * time.Second
)

// Worker runs the coordinator while holding the lock on its checkpoint
// namespace. Instances that lose the race keep retrying and take over
// when the holder stops or its lock expires.
type Worker struct {
	coordinator driving.SyncCoordinator
	lock        driven.DistributedLock
	logger      *slog.Logger

	// Configuration
	lockName        string
	lockTTL         time.Duration
	acquireInterval time.Duration

	// Internal state
	mu        sync.RWMutex
	running   bool
	holdsLock bool
	lastErr   error
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Coordinator driving.SyncCoordinator
	// Lock is optional; without it the coordinator runs unguarded
	Lock            driven.DistributedLock
	LockName        string        // e.g. "coordinator:default"
	LockTTL         time.Duration // lock lease, extended every TTL/3
	AcquireInterval time.Duration // wait between acquisition attempts
	Logger          *slog.Logger
}

// NewWorker creates a new worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lockName := cfg.LockName
	if lockName == "" {
		lockName = "coordinator:default"
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	interval := cfg.AcquireInterval
	if interval <= 0 {
		interval = DefaultAcquireInterval
	}

	return &Worker{
		coordinator:     cfg.Coordinator,
		lock:            cfg.Lock,
		logger:          logger.With("lock", lockName),
		lockName:        lockName,
		lockTTL:         ttl,
		acquireInterval: interval,
	}
}

// Start begins the worker loop in the background.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	w.stopCh, w.doneCh = stopCh, doneCh
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"lock_ttl", w.lockTTL,
		"acquire_interval", w.acquireInterval,
		"guarded", w.lock != nil,
	)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		defer close(doneCh)
		defer cancel()
		w.loop(ctx)

		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	return nil
}

// Stop gracefully stops the worker and releases the lock.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running || w.stopCh == nil {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh
	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	doneCh := w.doneCh
	w.mu.RUnlock()
	if doneCh != nil {
		<-doneCh
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		acquired, err := w.acquire(ctx)
		switch {
		case err != nil:
			w.setErr(err)
			w.logger.Error("failed to acquire coordinator lock", "error", err)
		case !acquired:
			w.logger.Info("coordinator lock held elsewhere, waiting", "retry_in", w.acquireInterval)
		default:
			w.lead(ctx)
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.acquireInterval):
		}
	}
}

func (w *Worker) acquire(ctx context.Context) (bool, error) {
	if w.lock == nil {
		return true, nil
	}
	return w.lock.Acquire(ctx, w.lockName, w.lockTTL)
}

// lead runs the coordinator until ctx ends, the coordinator returns or
// the lease can no longer be extended.
func (w *Worker) lead(ctx context.Context) {
	w.setHolds(true)
	w.logger.Info("coordinator lock acquired")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if w.lock != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.keepAlive(runCtx, cancel)
		}()
	}

	err := w.coordinator.Run(runCtx)
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		w.setErr(err)
		w.logger.Error("coordinator stopped with error", "error", err)
	}

	w.release()
	w.setHolds(false)
}

// keepAlive extends the lease every TTL/3 and cancels the run when an
// extension fails.
func (w *Worker) keepAlive(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(w.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.lock.Extend(ctx, w.lockName, w.lockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.setErr(err)
				w.logger.Error("lost coordinator lock, stopping coordinator", "error", err)
				cancel()
				return
			}
		}
	}
}

func (w *Worker) release() {
	if w.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.lock.Release(ctx, w.lockName); err != nil {
		w.logger.Warn("failed to release coordinator lock", "error", err)
		return
	}
	w.logger.Info("coordinator lock released")
}

func (w *Worker) setHolds(v bool) {
	w.mu.Lock()
	w.holdsLock = v
	w.mu.Unlock()
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

// Health returns health status of the worker.
type Health struct {
	Running    bool   `json:"running"`
	HoldsLock  bool   `json:"holds_lock"`
	LockHealth bool   `json:"lock_health"`
	Error      string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	health := Health{
		Running:    w.running,
		HoldsLock:  w.holdsLock,
		LockHealth: true,
	}
	if w.lastErr != nil {
		health.Error = w.lastErr.Error()
	}
	w.mu.RUnlock()

	if w.lock != nil {
		if err := w.lock.Ping(ctx); err != nil {
			health.LockHealth = false
			health.Error = err.Error()
		}
	}

	return health
}
