// Package dispatcher routes decoded room events and egress jobs to handlers
// registered per topic.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when dispatching to a buffered topic after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrUnknownTopic is returned for a topic nobody registered.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrQueueFull is returned when a non-blocking buffered topic is full.
	ErrQueueFull = errors.New("queue full")
)

// Event is one unit of work for a handler.
type Event struct {
	Topic     string
	Payload   any
	SenderID  int
	Timestamp time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger is satisfied by *slog.Logger and logging.DispatcherLogger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*options)

type options struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered runs the handler on its own goroutine behind a queue of size
// events. Events of one topic are handled in dispatch order.
func Buffered(size int) Option {
	return func(o *options) { o.bufferSize = size }
}

// Blocking makes Dispatch wait for room in a full queue instead of dropping.
func Blocking() Option {
	return func(o *options) { o.blocking = true }
}

// Logged logs every event and its outcome at debug level, failures at error.
func Logged() Option {
	return func(o *options) { o.logged = true }
}

// Dispatcher routes events to registered handlers. Unbuffered handlers run on
// the dispatching goroutine.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger
	metrics  *metrics

	mu      sync.RWMutex
	queues  map[string]chan Event
	closed  bool
	workers sync.WaitGroup
}

// New creates a Dispatcher reporting to the global OTel meter.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		queues:   make(map[string]chan Event),
		logger:   logger,
	}
	m, err := newMetrics(d.queueLens)
	if err != nil {
		return nil, err
	}
	d.metrics = m
	return d, nil
}

// Register sets the handler of a topic, replacing any previous one. It must
// not race with Dispatch.
func (d *Dispatcher) Register(topic string, h HandlerFunc, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logged {
		h = d.logged(topic, h)
	}
	if o.bufferSize > 0 {
		h = d.queued(topic, o, h)
	}
	d.handlers[topic] = h
}

// Dispatch stamps the event if needed and hands it to the topic's handler.
func (d *Dispatcher) Dispatch(e Event) error {
	h, ok := d.handlers[e.Topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, e.Topic)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(e)
}

// HasHandler reports whether topic has a handler.
func (d *Dispatcher) HasHandler(topic string) bool {
	_, ok := d.handlers[topic]
	return ok
}

// Close stops accepting buffered events and waits until the queued ones ran.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) queueLens() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lens := make(map[string]int, len(d.queues))
	for topic, q := range d.queues {
		lens[topic] = len(q)
	}
	return lens
}

func (d *Dispatcher) queued(topic string, o options, h HandlerFunc) HandlerFunc {
	q := make(chan Event, o.bufferSize)
	attr := topicAttr(topic)
	ctx := context.Background()

	d.mu.Lock()
	d.queues[topic] = q
	d.mu.Unlock()

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range q {
			if err := h(e); err != nil {
				d.metrics.failed.Add(ctx, 1, attr)
			}
			d.metrics.processed.Add(ctx, 1, attr)
		}
	}()

	return func(e Event) error {
		// the read lock keeps Close from closing q under a pending send
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return ErrClosed
		}
		if o.blocking {
			q <- e
			return nil
		}
		select {
		case q <- e:
			return nil
		default:
			d.metrics.dropped.Add(ctx, 1, attr)
			return fmt.Errorf("%w: %s", ErrQueueFull, topic)
		}
	}
}

func (d *Dispatcher) logged(topic string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "topic", topic, "sender", e.SenderID)
		if err := h(e); err != nil {
			d.logger.Error("event failed", "topic", topic, "sender", e.SenderID, "duration", time.Since(start), "error", err)
			return err
		}
		d.logger.Debug("event complete", "topic", topic, "duration", time.Since(start))
		return nil
	}
}
