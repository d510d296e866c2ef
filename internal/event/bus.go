// Package event carries scan, sync and watch notifications between the
// services that produce them and the clients that display them.
package event

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sydlexius/intake/internal/metrics"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	ScanProgress  Type = "scan.progress"
	ScanCompleted Type = "scan.completed"
	SyncCompleted Type = "sync.completed"
	FileDetected  Type = "fs.file.detected"
)

// Types lists every event type the application publishes.
var Types = []Type{ScanProgress, ScanCompleted, SyncCompleted, FileDetected}

// Event is one notification. Data holds JSON-friendly values only.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler processes one event. Handlers run on the bus goroutine and must
// not block for long.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events asynchronously through a bounded queue. Publishers
// never block: when the queue is full, or the bus has stopped, the event is
// dropped and counted.
type Bus struct {
	queue  chan Event
	logger *slog.Logger

	mu      sync.RWMutex
	subs    map[Type][]subscription
	nextID  uint64
	stopped bool
	done    chan struct{}
}

// NewBus creates a bus whose queue holds up to size pending events.
func NewBus(logger *slog.Logger, size int) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{
		queue:  make(chan Event, size),
		logger: logger.With("component", "event-bus"),
		subs:   make(map[Type][]subscription),
		done:   make(chan struct{}),
	}
}

// Subscribe registers h for each of types and returns a function that
// removes the registration again. Calling it more than once is harmless.
func (b *Bus) Subscribe(h Handler, types ...Type) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	for _, t := range types {
		b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id, types) })
	}
}

func (b *Bus) remove(id uint64, types []Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = slices.DeleteFunc(b.subs[t], func(s subscription) bool {
			return s.id == id
		})
	}
}

// Publish queues e for delivery and stamps it if no timestamp is set. A nil
// bus discards the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		metrics.EventsPublished.WithLabelValues(string(e.Type), metrics.OutcomeDropped).Inc()
		return
	}
	select {
	case b.queue <- e:
		metrics.EventsPublished.WithLabelValues(string(e.Type), metrics.OutcomeOK).Inc()
	default:
		metrics.EventsPublished.WithLabelValues(string(e.Type), metrics.OutcomeDropped).Inc()
		b.logger.Warn("event queue full, dropping event", "type", string(e.Type))
	}
}

// Start delivers queued events until Stop is called, then delivers whatever
// is still queued and returns. Run it in its own goroutine.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		case <-b.done:
			for {
				select {
				case e := <-b.queue:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop rejects further events and lets Start drain the queue.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	subs := slices.Clone(b.subs[e.Type])
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.handler, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
		}
	}()
	h(e)
}
