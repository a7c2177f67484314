package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrBusClosed indicates the bus no longer accepts events.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Event is an outbound notification about a draft. Delivery is best-effort:
// a handler failure never affects the committed draft state.
type Event struct {
	Type    string                 // e.g. "draft_status_changed", "stage_activated"
	DraftID uint64                 // draft the event concerns
	Data    map[string]interface{} // event payload
}

// Handler consumes draft events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans draft events out to subscribed handlers. Async publishes go
// through a buffered channel drained by a single goroutine; handlers for one
// event run concurrently.
type Bus struct {
	handlers map[string][]Handler
	mu       sync.RWMutex

	eventCh chan Event
	wg      sync.WaitGroup

	errHandler func(event Event, err error)

	closed  bool
	closeMu sync.RWMutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the async event channel capacity.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler replaces the default handler-failure reporter.
func WithErrorHandler(handler func(event Event, err error)) Option {
	return func(b *Bus) {
		b.errHandler = handler
	}
}

// NewBus creates a Bus and starts its dispatch goroutine. The default
// channel capacity is 100.
func NewBus(options ...Option) *Bus {
	b := &Bus{
		handlers:   make(map[string][]Handler),
		eventCh:    make(chan Event, 100),
		errHandler: reportHandlerError,
	}
	for _, option := range options {
		option(b)
	}

	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeFunc registers a function as a handler for an event type.
func (b *Bus) SubscribeFunc(eventType string, fn func(ctx context.Context, event Event) error) {
	b.Subscribe(eventType, HandlerFunc(fn))
}

// HasSubscribers reports whether any handler is registered for the event type.
func (b *Bus) HasSubscribers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}

// Publish enqueues an event for asynchronous delivery. It never blocks:
// a full channel returns ErrChannelFull and the event is dropped.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.closeMu.RLock()
	closed := b.closed
	b.closeMu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	if !b.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers an event to all handlers and waits for them, collecting
// every handler error. Delivery is bounded by a 5-second timeout on top of ctx.
func (b *Bus) PublishSync(ctx context.Context, event Event) []error {
	b.closeMu.RLock()
	closed := b.closed
	b.closeMu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return runHandlers(timeoutCtx, handlers, event)
}

// Stop closes the bus and waits for the dispatch goroutine. Undelivered
// events are discarded.
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		for len(b.eventCh) > 0 {
			<-b.eventCh
		}
		close(b.eventCh)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for event := range b.eventCh {
		b.mu.RLock()
		handlers := b.handlers[event.Type]
		b.mu.RUnlock()
		if len(handlers) == 0 {
			continue
		}

		for _, err := range runHandlers(context.Background(), handlers, event) {
			b.errHandler(event, err)
		}
	}
}

// runHandlers invokes every handler concurrently and waits for all of them.
func runHandlers(ctx context.Context, handlers []Handler, event Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

func reportHandlerError(event Event, err error) {
	fmt.Printf("Error handling event %s (draft %d): %v\nStack: %s\n",
		event.Type, event.DraftID, err, debug.Stack())
}
