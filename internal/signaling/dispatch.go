package signaling

import (
	"log/slog"
	"sync"

	"github.com/BioHazard786/huddle/internal/protocol"
)

type handler[F any] struct {
	id uint64
	fn F
}

// dispatcher fans inbound messages and state changes out to subscribers. A
// panicking subscriber is logged and skipped.
type dispatcher struct {
	mu       sync.Mutex
	next     uint64
	handlers map[protocol.Type][]handler[func(protocol.Message)]
	watchers []handler[func(State)]
	log      *slog.Logger
}

func newDispatcher(log *slog.Logger) *dispatcher {
	return &dispatcher{
		handlers: make(map[protocol.Type][]handler[func(protocol.Message)]),
		log:      log,
	}
}

func (d *dispatcher) handle(t protocol.Type, fn func(protocol.Message)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := d.next
	d.handlers[t] = append(d.handlers[t], handler[func(protocol.Message)]{id, fn})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.handlers[t] = without(d.handlers[t], id)
	}
}

func (d *dispatcher) watch(fn func(State)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := d.next
	d.watchers = append(d.watchers, handler[func(State)]{id, fn})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.watchers = without(d.watchers, id)
	}
}

func (d *dispatcher) dispatch(msg protocol.Message) {
	d.mu.Lock()
	hs := d.handlers[msg.Type()]
	d.mu.Unlock()

	for _, h := range hs {
		d.call(string(msg.Type()), func() { h.fn(msg) })
	}
}

func (d *dispatcher) notify(s State) {
	d.mu.Lock()
	ws := d.watchers
	d.mu.Unlock()

	for _, w := range ws {
		d.call("state", func() { w.fn(s) })
	}
}

func (d *dispatcher) call(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", "kind", kind, "panic", r)
		}
	}()
	fn()
}

// without returns a copy of hs minus id, so snapshots taken by dispatch stay
// valid.
func without[F any](hs []handler[F], id uint64) []handler[F] {
	out := make([]handler[F], 0, len(hs))
	for _, h := range hs {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}
