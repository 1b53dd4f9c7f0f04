// Package events provides the typed publish/subscribe facility used by the
// database and its collections.
//
// Delivery is an explicit constructor choice: NewEmitter delivers
// synchronously on the emitting goroutine, NewAsyncEmitter queues handler
// invocations to a dedicated worker. Nothing in this package is a process
// global; emitters are constructed, passed by reference, and torn down with
// Close.
package events

import (
	"sync"
)

// Event is the name under which handlers are registered.
type Event string

// Handler receives the arguments passed to Emit.
type Handler func(args ...any)

// Listener is the registration handle returned by On. It is the token
// required to deregister via Off.
type Listener struct {
	event Event
	id    uint64
	fn    Handler
}

// Event returns the event this listener is registered for.
func (l *Listener) Event() Event { return l.event }

// Emitter is a typed pub/sub hub keyed by event name.
//
// The zero value is not usable; construct with NewEmitter or NewAsyncEmitter.
type Emitter struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Event][]*Listener
	closed    bool

	// async delivery
	queue chan func()
	wg    sync.WaitGroup
	async bool
}

// NewEmitter creates an emitter with synchronous delivery: Emit invokes every
// handler on the calling goroutine before returning.
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[Event][]*Listener),
	}
}

// NewAsyncEmitter creates an emitter with deferred delivery: Emit enqueues
// handler invocations and returns immediately. A single worker goroutine
// drains the queue, preserving emission order. buffer bounds the queue; Emit
// blocks when it is full.
func NewAsyncEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 64
	}
	e := &Emitter{
		listeners: make(map[Event][]*Listener),
		queue:     make(chan func(), buffer),
		async:     true,
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for fn := range e.queue {
		fn()
	}
}

// On registers a handler for the given event and returns its listener handle.
func (e *Emitter) On(event Event, fn Handler) *Listener {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	l := &Listener{event: event, id: e.nextID, fn: fn}
	e.listeners[event] = append(e.listeners[event], l)
	return l
}

// Off removes a previously registered listener. Removing an unknown listener
// is a no-op.
func (e *Emitter) Off(l *Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[l.event]
	for i, cur := range ls {
		if cur.id == l.id {
			e.listeners[l.event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit publishes args to every handler registered for event.
//
// Synchronous emitters invoke handlers inline; asynchronous emitters enqueue
// the invocation and return. Handlers registered during delivery do not
// receive the in-flight emission. Emit after Close is a silent no-op.
func (e *Emitter) Emit(event Event, args ...any) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	ls := e.listeners[event]
	handlers := make([]Handler, len(ls))
	for i, l := range ls {
		handlers[i] = l.fn
	}

	if !e.async {
		e.mu.RUnlock()
		for _, fn := range handlers {
			fn(args...)
		}
		return
	}

	// Enqueue while still holding the read lock so Close cannot close the
	// queue between the closed check and the send.
	if len(handlers) > 0 {
		e.queue <- func() {
			for _, fn := range handlers {
				fn(args...)
			}
		}
	}
	e.mu.RUnlock()
}

// Flush blocks until every invocation enqueued before the call has been
// delivered. It is a no-op for synchronous emitters.
func (e *Emitter) Flush() {
	e.mu.RLock()
	if !e.async || e.closed {
		e.mu.RUnlock()
		return
	}
	ch := make(chan struct{})
	e.queue <- func() { close(ch) }
	e.mu.RUnlock()
	<-ch
}

// Close stops delivery. Asynchronous emitters drain their queue before Close
// returns. Close is idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.async {
		close(e.queue)
	}
	e.mu.Unlock()

	if e.async {
		e.wg.Wait()
	}
}
