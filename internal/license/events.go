package license

import (
	"sort"
	"sync"
)

// EventType identifies a lifecycle notification.
type EventType string

// Lifecycle events emitted by the Manager.
const (
	EventActivated   EventType = "activated"
	EventDeactivated EventType = "deactivated"
	EventExpiring    EventType = "activation-expiring"
)

// Event carries the payload of a lifecycle notification.
type Event struct {
	Type EventType `json:"type"`

	// Activation details, set for activated events.
	DeviceCount int    `json:"device_count,omitempty"`
	MaxDevices  int    `json:"max_devices,omitempty"`
	Validity    string `json:"validity,omitempty"`

	// DaysLeft is set for activation-expiring events.
	DaysLeft int `json:"days_left,omitempty"`
}

// eventRegistry is an explicit subscribe/unsubscribe registry. Handlers
// run synchronously on the goroutine that triggered the transition, in
// subscription order.
type eventRegistry struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Event)
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{
		handlers: make(map[int]func(Event)),
	}
}

// subscribe registers a handler and returns a function that removes it.
func (r *eventRegistry) subscribe(handler func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
	}
}

func (r *eventRegistry) emit(event Event) {
	r.mu.RLock()
	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, r.handlers[id])
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
