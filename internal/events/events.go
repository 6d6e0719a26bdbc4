// Package events is the process-wide signal bus. Handlers run synchronously
// on the event loop in registration order.
package events

import "github.com/rs/zerolog"

// Signal names.
const (
	Navigate   = "navigate"
	Divert     = "divert"
	Search     = "search"
	Navigating = "navigating"
	Unloading  = "unloading"
	BuildStart = "build_start"
	Loaded     = "loaded"
	Title      = "title"
)

// Handler receives a signal payload.
type Handler func(payload any)

type subscription struct {
	id int
	fn Handler
}

// Bus dispatches named signals.
type Bus struct {
	subs   map[string][]subscription
	nextID int
	log    zerolog.Logger
}

// New creates an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{subs: make(map[string][]subscription), log: log}
}

// On registers fn for name and returns a function removing it.
func (b *Bus) On(name string, fn Handler) (off func()) {
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	return func() {
		subs := b.subs[name]
		for i, s := range subs {
			if s.id == id {
				b.subs[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Once registers fn for the next emission of name only.
func (b *Bus) Once(name string, fn Handler) {
	var off func()
	off = b.On(name, func(p any) {
		off()
		fn(p)
	})
}

// Emit calls every handler registered for name. Handlers added while
// emitting are not called for this emission.
func (b *Bus) Emit(name string, payload any) {
	subs := b.subs[name]
	b.log.Debug().Str("signal", name).Int("handlers", len(subs)).Msg("emit")
	for _, s := range subs {
		s.fn(payload)
	}
}
