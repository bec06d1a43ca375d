package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives one event. Handlers run synchronously on the emitting
// goroutine, in subscription order.
type Handler func(Event)

type subscription struct {
	id int64
	fn Handler
}

// Bus is an in-memory publish/subscribe registry keyed by event name.
// There is no buffering: a handler registered after Emit returns never
// sees that event.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   map[string][]subscription
	log    zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
		log:  log,
	}
}

// Subscribe registers fn for the given event name (or Wildcard for all
// names) and returns a function that removes the registration.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[name]
		for i, s := range list {
			if s.id == id {
				b.subs[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to every handler registered for its exact name, then to
// every wildcard handler, in subscription order. The handler list is
// resolved once up front, so unsubscribing during delivery does not affect
// the current pass. A panicking handler is logged and skipped; delivery
// continues with the next handler.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	pass := make([]subscription, 0, len(b.subs[ev.Name])+len(b.subs[Wildcard]))
	pass = append(pass, b.subs[ev.Name]...)
	pass = append(pass, b.subs[Wildcard]...)
	b.mu.Unlock()

	for _, s := range pass {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event", ev.Name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	s.fn(ev)
}
