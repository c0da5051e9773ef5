// Package eventbus implements the typed pub/sub collaborator spec.md
// describes as "out of scope": synchronous dispatch to all listeners
// registered for an event's concrete type, with a failing listener never
// blocking the rest.
package eventbus

import (
	"reflect"
	"sync"

	"github.com/cuemby/usbthief/internal/log"
)

// Listener receives dispatched events of the type it was registered for.
type Listener func(event any)

// Bus is a synchronous, type-scoped event dispatcher.
type Bus struct {
	mu        sync.RWMutex
	listeners map[reflect.Type][]registration
}

type registration struct {
	id       uintptr
	listener Listener
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[reflect.Type][]registration)}
}

// Register subscribes listener to events whose concrete type matches a
// zero value of T. Registration is idempotent per (event type, listener):
// registering the identical function value twice for the same type has no
// additional effect. A listener is identified by its function's code
// pointer, so two closures created from the same function literal count as
// the same listener. Returns a token that Unregister accepts.
func Register[T any](b *Bus, listener func(T)) uintptr {
	var zero T
	t := reflect.TypeOf(zero)

	id := reflect.ValueOf(listener).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.listeners[t] {
		if r.id == id {
			return id
		}
	}
	wrapped := func(event any) {
		listener(event.(T))
	}
	b.listeners[t] = append(b.listeners[t], registration{id: id, listener: wrapped})
	return id
}

// Unregister removes a previously registered listener for type T.
func Unregister[T any](b *Bus, id uintptr) {
	var zero T
	t := reflect.TypeOf(zero)

	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[t]
	for i, r := range regs {
		if r.id == id {
			b.listeners[t] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Dispatch delivers event synchronously to every listener registered for
// its concrete type. A panicking listener is recovered and logged so it
// never prevents other listeners from running.
func (b *Bus) Dispatch(event any) {
	t := reflect.TypeOf(event)

	b.mu.RLock()
	regs := append([]registration(nil), b.listeners[t]...)
	b.mu.RUnlock()

	for _, r := range regs {
		b.safeCall(r.listener, event)
	}
}

// DispatchAsync delivers event on a new goroutine per listener. Collected
// for interface completeness; no hot path in this module uses it.
func (b *Bus) DispatchAsync(event any) {
	t := reflect.TypeOf(event)

	b.mu.RLock()
	regs := append([]registration(nil), b.listeners[t]...)
	b.mu.RUnlock()

	for _, r := range regs {
		go b.safeCall(r.listener, event)
	}
}

// DispatchWithResult delivers event synchronously and reports how many
// listeners ran without panicking. Collected for interface completeness;
// no hot path in this module uses it.
func (b *Bus) DispatchWithResult(event any) (delivered int) {
	t := reflect.TypeOf(event)

	b.mu.RLock()
	regs := append([]registration(nil), b.listeners[t]...)
	b.mu.RUnlock()

	for _, r := range regs {
		if b.safeCall(r.listener, event) {
			delivered++
		}
	}
	return delivered
}

func (b *Bus) safeCall(l Listener, event any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("eventbus").Error().
				Interface("panic", r).
				Msg("event listener panicked")
			ok = false
		}
	}()
	l(event)
	return true
}
