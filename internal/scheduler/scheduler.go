// Package scheduler implements the tick-driven priority scheduler spec.md
// §4.7 describes: a priority queue that accumulates under HIGH load and
// drains in priority order under MEDIUM/LOW, adjusting the rate limiter
// to match.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/usbthief/internal/copyexec"
	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/metrics"
	"github.com/cuemby/usbthief/internal/model"
	"github.com/cuemby/usbthief/internal/svc"
)

const (
	defaultTickInterval      = 500 * time.Millisecond
	defaultMediumBatchSize   = 50
	defaultLowBatchSize      = 30
	defaultAccumulationCap   = 2000
)

// Executor is the collaborator tasks are dispatched to. *copyexec.Pool
// implements it.
type Executor interface {
	Submit(task copyexec.Task) error
}

// RateLimiter is the collaborator the scheduler adjusts after each
// dispatch step. internal/ratelimit implements it.
type RateLimiter interface {
	AdjustByLoadLevel(level model.LoadLevel)
}

// LoadEvaluator supplies the current load level each tick.
// internal/load implements it.
type LoadEvaluator interface {
	Evaluate() model.LoadScore
}

// Runner executes a single PriorityTask's underlying copy, publishing its
// own completion event. internal/copytask implements it.
type Runner interface {
	Run(ctx context.Context, task model.PriorityTask)
}

// Config configures batch sizes and the queue's absolute capacity.
type Config struct {
	TickInterval        time.Duration
	MediumBatchSize     int
	LowBatchSize        int
	AccumulationMaxSize int
}

// Scheduler is the svc.Service that owns the priority queue.
type Scheduler struct {
	*svc.Base

	executor Executor
	limiter  RateLimiter
	load     LoadEvaluator
	runner   Runner

	cfg Config
	q   *queue

	mu           sync.Mutex
	accumulating bool
}

// New constructs a Scheduler. executor, loadEval, and runner must be
// non-nil; limiter may be nil if rate adjustment is not wired.
func New(executor Executor, limiter RateLimiter, loadEval LoadEvaluator, runner Runner, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MediumBatchSize <= 0 {
		cfg.MediumBatchSize = defaultMediumBatchSize
	}
	if cfg.LowBatchSize <= 0 {
		cfg.LowBatchSize = defaultLowBatchSize
	}
	if cfg.AccumulationMaxSize <= 0 {
		cfg.AccumulationMaxSize = defaultAccumulationCap
	}

	return &Scheduler{
		Base:     svc.NewBase("scheduler", cfg.TickInterval),
		executor: executor,
		limiter:  limiter,
		load:     loadEval,
		runner:   runner,
		cfg:      cfg,
		q:        newQueue(),
	}
}

// Submit enqueues task for dispatch on a future tick. Refuses when the
// queue is already at its accumulation cap.
func (s *Scheduler) Submit(task model.PriorityTask) bool {
	return s.q.push(task, s.cfg.AccumulationMaxSize)
}

// QueueDepth implements internal/load.QueueDepthSource.
func (s *Scheduler) QueueDepth() int {
	return s.q.len()
}

// Tick runs one scheduling cycle: evaluate load, accumulate or drain, then
// adjust the rate limiter.
func (s *Scheduler) Tick(ctx context.Context) error {
	logger := log.WithComponent("scheduler")
	level := s.load.Evaluate().Level

	s.mu.Lock()
	wasAccumulating := s.accumulating
	switch level {
	case model.LoadHigh:
		s.accumulating = true
	default:
		s.accumulating = false
	}
	nowAccumulating := s.accumulating
	s.mu.Unlock()

	metrics.QueueDepth.Set(float64(s.q.len()))

	switch level {
	case model.LoadHigh:
		metrics.AccumulationCyclesTotal.Inc()
		if !wasAccumulating {
			logger.Info().Msg("entering accumulation mode: HIGH load, dispatch paused")
		}
	case model.LoadMedium:
		if wasAccumulating && !nowAccumulating {
			logger.Info().Msg("resuming dispatch: load dropped to MEDIUM")
		}
		s.drainBatch(s.cfg.MediumBatchSize, level)
	case model.LoadLow:
		if wasAccumulating && !nowAccumulating {
			logger.Info().Msg("resuming dispatch: load dropped to LOW")
		}
		s.drainBatch(s.cfg.LowBatchSize, level)
	}

	if s.limiter != nil {
		s.limiter.AdjustByLoadLevel(level)
	}
	return nil
}

// drainBatch pops up to n tasks in priority order and submits them to the
// executor. A rejected submission re-inserts the task and stops the batch
// early so it is retried next tick.
func (s *Scheduler) drainBatch(n int, level model.LoadLevel) {
	logger := log.WithComponent("scheduler")

	for i := 0; i < n; i++ {
		task, ok := s.q.pop()
		if !ok {
			return
		}

		err := s.executor.Submit(func(execCtx context.Context) {
			s.runner.Run(execCtx, task)
		})
		if err != nil {
			if !s.q.push(task, 0) {
				logger.Error().Err(err).Str("path", task.Task.SourcePath).
					Msg("dropped task: executor rejected and requeue failed")
			}
			return
		}
		metrics.TasksDispatchedTotal.WithLabelValues(string(level)).Inc()
	}
}

// Cleanup makes a best-effort drain of whatever remains in the queue into
// the executor.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	for {
		task, ok := s.q.pop()
		if !ok {
			return nil
		}
		if err := s.executor.Submit(func(execCtx context.Context) {
			s.runner.Run(execCtx, task)
		}); err != nil {
			return nil
		}
	}
}
