package svc

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/usbthief/internal/log"
)

// basedService is satisfied by any Service that embeds *Base, which
// promotes the Base() accessor automatically.
type basedService interface {
	Service
	Base() *Base
}

// Manager is the single process-wide scheduler: it starts every registered
// service, drives each one's Tick at its own fixed delay, and stops them
// in reverse registration order on Shutdown.
type Manager struct {
	mu       sync.Mutex
	services []Service
	wg       sync.WaitGroup
}

// NewManager creates an empty service manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service in insertion order. Registration must happen
// before Start.
func (m *Manager) Register(s Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, s)
}

// Start starts every registered service in insertion order.
func (m *Manager) Start() {
	for _, s := range m.snapshot() {
		if b, ok := s.(basedService); ok {
			b.Base().start(m, s)
		}
	}
}

// Shutdown stops every registered service in reverse registration order,
// logging but not propagating individual failures.
func (m *Manager) Shutdown() {
	services := m.snapshot()
	for i := len(services) - 1; i >= 0; i-- {
		if b, ok := services[i].(basedService); ok {
			b.Base().stop(services[i])
		}
	}
	m.wg.Wait()
}

// StatusReport returns a status line per registered service, matching the
// read surface the out-of-scope statistics dashboard collaborator needs.
func (m *Manager) StatusReport() []string {
	services := m.snapshot()
	report := make([]string, 0, len(services))
	for _, s := range services {
		if b, ok := s.(basedService); ok {
			report = append(report, b.Base().StatusString())
		}
	}
	return report
}

// Pause pauses a registered service by name.
func (m *Manager) Pause(name string) {
	if s, ok := m.find(name); ok {
		s.(basedService).Base().pause()
	}
}

// Resume resumes a paused service by name.
func (m *Manager) Resume(name string) {
	if s, ok := m.find(name); ok {
		s.(basedService).Base().resume(m, s)
	}
}

func (m *Manager) snapshot() []Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Service(nil), m.services...)
}

func (m *Manager) find(name string) (Service, bool) {
	for _, s := range m.snapshot() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// subscribe runs svc.Tick on its own fixed-delay ticker until ctx is
// cancelled (by pause or stop). Each tick runs to completion on a
// scheduler-owned goroutine before the next one fires; tick bodies must
// not block on another service's tick.
func (m *Manager) subscribe(s Service, ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(s.TickInterval())
		defer timer.Stop()

		logger := log.WithComponent(s.Name())
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if err := s.Tick(ctx); err != nil {
					logger.Error().Err(err).Msg("tick failed")
					if b, ok := s.(basedService); ok {
						b.Base().fail(err)
					}
					return
				}
				timer.Reset(s.TickInterval())
			}
		}
	}()
}
