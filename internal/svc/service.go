// Package svc implements the uniform service lifecycle spec.md §4.1
// describes: a State machine shared by every long-running component
// (DeviceManager, Scheduler, Recycler, ...), driven by one process-wide
// Manager that owns each service's tick goroutine.
package svc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/usbthief/internal/log"
)

// State is a service's lifecycle state.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StatePausing  State = "PAUSING"
	StatePaused   State = "PAUSED"
	StateStopping State = "STOPPING"
	StateFailed   State = "FAILED"
)

// Service is anything the Manager can drive by tick.
type Service interface {
	// Name identifies the service in logs and status reports.
	Name() string

	// TickInterval is how often Tick is invoked while RUNNING.
	TickInterval() time.Duration

	// Tick runs one iteration of the service's periodic body. A returned
	// error moves the service to FAILED; other services are unaffected.
	Tick(ctx context.Context) error

	// Cleanup is invoked once on Stop, after the tick subscription is
	// cancelled. It is not invoked on Pause.
	Cleanup(ctx context.Context) error
}

// Base provides the state machine and tick-subscription bookkeeping that
// every Service embeds; it does not itself implement Tick/Cleanup.
type Base struct {
	name     string
	interval time.Duration

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	scheduler *Manager
}

// NewBase constructs the embeddable state-machine core for a service.
func NewBase(name string, interval time.Duration) *Base {
	return &Base{name: name, interval: interval, state: StateStopped}
}

func (b *Base) Name() string                { return b.name }
func (b *Base) TickInterval() time.Duration { return b.interval }

// Base returns the receiver itself. Embedding *Base anonymously promotes
// this method, which is how Manager recovers the shared state machine
// from any concrete Service value without a type switch per service.
func (b *Base) Base() *Base { return b }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsRunning reports whether the service is currently RUNNING.
func (b *Base) IsRunning() bool {
	return b.State() == StateRunning
}

// IsFailed reports whether the service has moved to FAILED.
func (b *Base) IsFailed() bool {
	return b.State() == StateFailed
}

// StatusString renders a short human-readable status line.
func (b *Base) StatusString() string {
	return fmt.Sprintf("%s: %s", b.name, b.State())
}

func (b *Base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// start is invoked by Manager.Start; svc is the full Service (Base plus
// Tick/Cleanup) so the scheduler can subscribe it for ticks.
func (b *Base) start(mgr *Manager, svc Service) {
	b.mu.Lock()
	if b.state != StateStopped && b.state != StatePaused {
		b.mu.Unlock()
		return
	}
	b.state = StateStarting
	b.scheduler = mgr
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	mgr.subscribe(svc, ctx)
	b.setState(StateRunning)
}

// pause cancels the tick subscription without running Cleanup.
func (b *Base) pause() {
	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		return
	}
	b.state = StatePaused
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// resume re-subscribes a paused service for ticks.
func (b *Base) resume(mgr *Manager, svc Service) {
	b.mu.Lock()
	if b.state != StatePaused {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.state = StateRunning
	b.mu.Unlock()

	mgr.subscribe(svc, ctx)
}

// stop cancels the tick subscription and runs Cleanup before settling in
// STOPPED.
func (b *Base) stop(svc Service) {
	b.mu.Lock()
	if b.state == StateStopped {
		b.mu.Unlock()
		return
	}
	b.state = StateStopping
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	logger := log.WithComponent(svc.Name())
	if err := svc.Cleanup(context.Background()); err != nil {
		logger.Error().Err(err).Msg("cleanup failed")
	}

	b.setState(StateStopped)
}

func (b *Base) fail(err error) {
	log.WithComponent(b.name).Error().Err(err).Msg("service tick failed")
	b.setState(StateFailed)
}
