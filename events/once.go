// Package events provides the one-shot event primitive used to coordinate
// prediction cancellation. A Once fires at most one time and replays its
// payload to subscribers that register after the fire, so "cancel requested"
// and "prediction started" can be wired in either temporal order.
package events

import "sync"

type (
	// Once is a single-fire event. Subscribers registered before the fire are
	// invoked at emission; subscribers registered after the fire are invoked
	// immediately with the original payload. Every subscriber is invoked
	// exactly once. The zero value is not usable; construct with NewOnce.
	//
	// Thread-safe: Subscribe and the emit function may be called from any
	// goroutine. Handlers run synchronously on the calling goroutine (the
	// emitter's for pre-fire subscribers, the subscriber's own for post-fire
	// subscribers) and must not block.
	Once[T any] struct {
		mu       sync.Mutex
		fired    bool
		payload  T
		handlers []func(T)
	}
)

// NewOnce constructs a one-shot event and returns it together with its emit
// function. The emit function delivers the payload to all current subscribers
// and records it for future ones. Emissions after the first are ignored and
// never re-invoke handlers.
func NewOnce[T any]() (*Once[T], func(T)) {
	o := &Once[T]{}
	return o, o.emit
}

// Subscribe registers handler to receive the event payload exactly once. If
// the event already fired, handler runs immediately with the recorded payload.
func (o *Once[T]) Subscribe(handler func(T)) {
	o.mu.Lock()
	if o.fired {
		payload := o.payload
		o.mu.Unlock()
		handler(payload)
		return
	}
	o.handlers = append(o.handlers, handler)
	o.mu.Unlock()
}

// Fired reports whether the event has been emitted.
func (o *Once[T]) Fired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fired
}

func (o *Once[T]) emit(payload T) {
	o.mu.Lock()
	if o.fired {
		o.mu.Unlock()
		return
	}
	o.fired = true
	o.payload = payload
	handlers := o.handlers
	o.handlers = nil
	o.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}
