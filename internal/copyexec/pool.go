// Package copyexec implements the bounded worker pool spec.md §4.6
// describes: a fixed-capacity FIFO queue backed by core/max workers, with
// a caller-runs backpressure policy when the pool is saturated.
package copyexec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/metrics"
)

// ErrShutdown is returned by Submit once Shutdown has been called. It is
// the one case the caller-runs policy does not absorb, matching a
// ThreadPoolExecutor's RejectedExecutionException on a closed pool.
var ErrShutdown = errors.New("copyexec: pool is shut down")

const (
	rejectionWindow  = 5 * time.Second
	gracefulWait     = 5 * time.Second
	forcedCancelWait = 2 * time.Second
)

// Task is a unit of work submitted to the pool.
type Task func(ctx context.Context)

// Config configures pool sizing.
type Config struct {
	CoreWorkers   int
	MaxWorkers    int
	KeepAlive     time.Duration
	QueueCapacity int
}

// Pool is a bounded worker pool with a caller-runs rejection policy.
type Pool struct {
	cfg   Config
	queue chan Task

	ctx    context.Context
	cancel context.CancelFunc

	wg      sync.WaitGroup
	active  atomic.Int64
	workers atomic.Int64

	mu               sync.Mutex
	totalRejections  int64
	windowRejections int64
	windowStart      time.Time

	shuttingDown atomic.Bool
}

// New constructs a Pool and starts its core workers.
func New(cfg Config) *Pool {
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = 1
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:         cfg,
		queue:       make(chan Task, cfg.QueueCapacity),
		ctx:         ctx,
		cancel:      cancel,
		windowStart: time.Now(),
	}

	for i := 0; i < cfg.CoreWorkers; i++ {
		p.spawnWorker()
	}
	return p
}

// Submit enqueues task. If the queue is full, it spawns an additional
// worker up to MaxWorkers and retries the enqueue once; if the queue is
// still full after that (or the pool is already at MaxWorkers), the
// rejection counters increment and task runs synchronously on the
// caller's goroutine (caller-runs policy). Submit only ever returns an
// error once the pool has been shut down.
func (p *Pool) Submit(task Task) error {
	if p.shuttingDown.Load() {
		return ErrShutdown
	}

	select {
	case p.queue <- task:
		return nil
	default:
	}

	if p.workers.Load() < int64(p.cfg.MaxWorkers) {
		p.spawnWorker()
		select {
		case p.queue <- task:
			return nil
		default:
		}
	}

	p.recordRejection()
	p.runOnCaller(task)
	return nil
}

func (p *Pool) spawnWorker() {
	p.workers.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.workers.Add(-1)
		p.runLoop()
	}()
}

func (p *Pool) runLoop() {
	idle := p.cfg.KeepAlive
	if idle <= 0 {
		idle = time.Minute
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		case <-timer.C:
			return
		}
	}
}

func (p *Pool) runTask(task Task) {
	p.active.Add(1)
	metrics.ExecutorActiveWorkers.Set(float64(p.active.Load()))
	defer func() {
		p.active.Add(-1)
		metrics.ExecutorActiveWorkers.Set(float64(p.active.Load()))
	}()
	task(p.ctx)
}

func (p *Pool) runOnCaller(task Task) {
	p.active.Add(1)
	metrics.ExecutorActiveWorkers.Set(float64(p.active.Load()))
	defer func() {
		p.active.Add(-1)
		metrics.ExecutorActiveWorkers.Set(float64(p.active.Load()))
	}()
	task(p.ctx)
}

func (p *Pool) recordRejection() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.windowStart) >= rejectionWindow {
		p.windowRejections = 0
		p.windowStart = time.Now()
	}
	p.totalRejections++
	p.windowRejections++
	metrics.ExecutorRejectionsTotal.Inc()
}

// TotalRejections returns the lifetime rejection count.
func (p *Pool) TotalRejections() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalRejections
}

// RejectionsSince implements internal/load.ActivitySource: the window
// parameter is accepted for interface compatibility but the pool always
// reports its own fixed 5-second window count.
func (p *Pool) RejectionsSince(_ time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.windowStart) >= rejectionWindow {
		return 0
	}
	return int(p.windowRejections)
}

// QueueDepth implements internal/load.QueueDepthSource.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// ActivityRatio implements internal/load.ActivitySource: active workers
// over the configured max.
func (p *Pool) ActivityRatio() float64 {
	if p.cfg.MaxWorkers <= 0 {
		return 0
	}
	return float64(p.active.Load()) / float64(p.cfg.MaxWorkers)
}

// Shutdown is two-phase: it stops accepting new work and waits up to
// gracefulWait for in-flight tasks to drain, then cancels the pool's
// context and waits up to forcedCancelWait for workers to exit.
func (p *Pool) Shutdown() {
	p.shuttingDown.Store(true)
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(gracefulWait):
	}

	p.cancel()

	select {
	case <-done:
	case <-time.After(forcedCancelWait):
		log.WithComponent("copyexec").Warn().Msg("workers did not exit within forced shutdown window")
	}
}
