package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives events. Handlers run on the publisher's dispatch
// goroutine and must not block for long.
type Handler func(Event)

// Bus dispatches events to subscribers and logs every emission.
// Publishing never blocks the caller and never returns an error.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wildcard []Handler
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, h)
}

// Publish emits an event asynchronously. A panicking subscriber is logged
// and does not affect other subscribers or the publisher.
func (b *Bus) Publish(module string, data EventData) {
	event := Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	eventJSON, _ := json.Marshal(event)
	b.log.Info().
		Str("event_type", string(event.Type)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[event.Type])+len(b.wildcard))
	targets = append(targets, b.handlers[event.Type]...)
	targets = append(targets, b.wildcard...)
	b.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, h := range targets {
			b.dispatch(h, event)
		}
	}()
}

// Drain blocks until all in-flight dispatches finish. Used at shutdown
// and in tests.
func (b *Bus) Drain() {
	b.wg.Wait()
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
