// Package bus implements the typed publish/subscribe event bus that every
// subsystem communicates through.
//
// A single dispatcher goroutine drains an unbounded FIFO queue and invokes
// handlers inline, so handlers for one event always run in registration
// order and no two handlers ever run concurrently. A second goroutine
// publishes a TIMER event once per second while the bus is running.
package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// EventType routes an event to its handlers.
type EventType string

const (
	EventTimer    EventType = "eTimer"
	EventLog      EventType = "eLog"
	EventTrade    EventType = "eTrade."
	EventOrder    EventType = "eOrder."
	EventPosition EventType = "ePosition."
	EventAccount  EventType = "eAccount."
	EventContract EventType = "eContract."
)

// Event pairs a type with an arbitrary payload.
type Event struct {
	Type EventType
	Data any
}

// LogData is the payload of LOG events: a record a component wants
// surfaced on the runtime log stream.
type LogData struct {
	Time   time.Time
	Level  slog.Level
	Source string
	Msg    string
}

// Handler consumes one event. Handlers run on the dispatcher goroutine and
// must not block for long.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
type Subscription int

type handlerEntry struct {
	sub Subscription
	fn  Handler
}

// Bus is the central event dispatcher.
type Bus struct {
	logger *slog.Logger

	interval time.Duration

	mu       sync.Mutex
	handlers map[EventType][]handlerEntry
	general  []handlerEntry
	nextSub  Subscription
	queue    []Event
	cond     *sync.Cond
	running  bool
	stopping bool
	stopCh   chan struct{}

	wg sync.WaitGroup
}

// New creates a bus with the standard 1-second timer interval.
func New(logger *slog.Logger) *Bus {
	return NewWithInterval(logger, time.Second)
}

// NewWithInterval creates a bus with a custom timer interval. Tests use
// short intervals to keep runs fast.
func NewWithInterval(logger *slog.Logger, interval time.Duration) *Bus {
	b := &Bus{
		logger:   logger.With("component", "bus"),
		interval: interval,
		handlers: make(map[EventType][]handlerEntry),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the dispatcher and timer goroutines. Starting an already
// running bus is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopping = false
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(2)
	go b.dispatchLoop()
	go b.timerLoop()
}

// Stop drains the queue, stops both goroutines, and waits for them.
// Stopping a bus that is not running is a no-op.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.stopping = true
	close(b.stopCh)
	b.cond.Signal()
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// Publish enqueues an event. Never blocks; events survive in order until
// the dispatcher picks them up.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	b.queue = append(b.queue, evt)
	b.cond.Signal()
	b.mu.Unlock()
}

// Subscribe registers a handler for one event type and returns its
// subscription token. Handlers fire in registration order.
func (b *Bus) Subscribe(t EventType, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.handlers[t] = append(b.handlers[t], handlerEntry{sub: b.nextSub, fn: fn})
	return b.nextSub
}

// SubscribeAll registers a handler that receives every event, after the
// type-specific handlers for that event.
func (b *Bus) SubscribeAll(fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.general = append(b.general, handlerEntry{sub: b.nextSub, fn: fn})
	return b.nextSub
}

// AttachLogSink writes every LOG event through the given logger, tagged
// with the publishing component. Payloads that are not LogData are
// dropped.
func (b *Bus) AttachLogSink(logger *slog.Logger) Subscription {
	return b.Subscribe(EventLog, func(evt Event) {
		rec, ok := evt.Data.(LogData)
		if !ok {
			return
		}
		logger.Log(context.Background(), rec.Level, rec.Msg, "component", rec.Source)
	})
}

// Unsubscribe removes a handler by token. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(t EventType, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = removeEntry(b.handlers[t], sub)
	b.general = removeEntry(b.general, sub)
}

func removeEntry(entries []handlerEntry, sub Subscription) []handlerEntry {
	for i, e := range entries {
		if e.sub == sub {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopping {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.stopping {
			b.mu.Unlock()
			return
		}
		evt := b.queue[0]
		b.queue = b.queue[1:]

		entries := make([]handlerEntry, 0, len(b.handlers[evt.Type])+len(b.general))
		entries = append(entries, b.handlers[evt.Type]...)
		entries = append(entries, b.general...)
		b.mu.Unlock()

		for _, e := range entries {
			b.invoke(e.fn, evt)
		}
	}
}

// invoke shields the dispatcher from handler panics. A crashing handler
// must not take down event delivery for everyone else.
func (b *Bus) invoke(fn Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				"event_type", string(evt.Type),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn(evt)
}

func (b *Bus) timerLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Publish(Event{Type: EventTimer, Data: time.Now()})
		case <-b.stopCh:
			return
		}
	}
}
