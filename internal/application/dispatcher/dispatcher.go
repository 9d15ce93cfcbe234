package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Dispatcher fans post-commit notifications out to registered side-effect
// handlers. Every handler is failure-isolated: a panic or error in one is
// logged and never reaches the caller or the other handlers, and nothing a
// handler does can roll back the committed transition.
type Dispatcher interface {
	// Subscribe registers a handler with a name for debugging
	Subscribe(topic, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(topic, name string)

	// Dispatch sends the notification to all handlers synchronously in
	// registration order. Handler errors are logged and swallowed.
	Dispatch(ctx context.Context, topic string, n *Notification)

	// DispatchAsync sends the notification to handlers asynchronously and
	// does not wait for them to complete.
	DispatchAsync(ctx context.Context, topic string, n *Notification)

	// ListHandlers returns registered handlers for a topic
	ListHandlers(topic string) []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// sideEffectDispatcher is the concrete implementation of Dispatcher
type sideEffectDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerInfo
	logger   Logger

	// For async dispatch
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*sideEffectDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *sideEffectDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new side-effect dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &sideEffectDispatcher{
		handlers: make(map[string][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler with a specific name for debugging
func (d *sideEffectDispatcher) Subscribe(topic, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[topic] = append(d.handlers[topic], HandlerInfo{
		Name:    name,
		Topic:   topic,
		Handler: handler,
	})

	if d.logger != nil {
		d.logger.Info("Side-effect handler registered",
			"topic", topic,
			"handler_name", name,
		)
	}
}

// Unsubscribe removes a handler by name
func (d *sideEffectDispatcher) Unsubscribe(topic, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[topic]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[topic] = filtered
}

// Dispatch sends the notification to all handlers synchronously. Errors are
// captured per handler; best-effort sequential dispatch, no short-circuit.
func (d *sideEffectDispatcher) Dispatch(ctx context.Context, topic string, n *Notification) {
	if d.closed.Load() {
		return
	}

	d.mu.RLock()
	handlers := d.handlers[topic]
	d.mu.RUnlock()

	d.dispatchTo(ctx, topic, handlers, n)
}

// DispatchAsync sends the notification to handlers asynchronously. The
// handler set is snapshotted before the goroutine starts, so a notification
// admitted before Close is delivered even if Close runs first.
func (d *sideEffectDispatcher) DispatchAsync(ctx context.Context, topic string, n *Notification) {
	if d.closed.Load() {
		if d.logger != nil {
			d.logger.Error("Cannot dispatch, dispatcher is closed",
				"topic", topic,
				"case_id", n.CaseID,
			)
		}
		return
	}

	d.mu.RLock()
	handlers := d.handlers[topic]
	d.mu.RUnlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatchTo(ctx, topic, handlers, n)
	}()
}

// dispatchTo runs the given handlers sequentially, best-effort, no
// short-circuit. Errors are captured per handler.
func (d *sideEffectDispatcher) dispatchTo(ctx context.Context, topic string, handlers []HandlerInfo, n *Notification) {
	for _, info := range handlers {
		if err := d.safeExecute(ctx, n, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Side-effect handler error",
					"topic", topic,
					"case_id", n.CaseID,
					"handler_name", info.Name,
					"error", err,
				)
			}
		}
	}
}

// ListHandlers returns registered handlers for a topic
func (d *sideEffectDispatcher) ListHandlers(topic string) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[topic]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:        h.Name,
			Topic:       h.Topic,
			Description: h.Description,
		}
	}
	return result
}

// Close shuts down the dispatcher and waits for async handlers to complete
func (d *sideEffectDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}
	d.wg.Wait()
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *sideEffectDispatcher) safeExecute(ctx context.Context, n *Notification, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return info.Handler(ctx, n)
}
