package device

import (
	"sync"

	"github.com/itohio/goowbus/pkg/dallas"
	"periph.io/x/conn/v3/onewire"
)

// Change is a channel value transition reported after a state read.
type Change struct {
	Addr    onewire.Address
	Family  dallas.Family
	Channel int
	Old     uint16
	New     uint16
}

// Observer receives device and scheduler notifications. Calls arrive from the
// polling goroutine with the bus lock released.
type Observer interface {
	ChannelChanged(c Change)
	ErrorOccurred(addr onewire.Address, err error)
	PassCompleted()
}

// Funcs adapts optional functions to Observer.
type Funcs struct {
	Changed func(Change)
	Error   func(onewire.Address, error)
	Pass    func()
}

func (f Funcs) ChannelChanged(c Change) {
	if f.Changed != nil {
		f.Changed(c)
	}
}

func (f Funcs) ErrorOccurred(addr onewire.Address, err error) {
	if f.Error != nil {
		f.Error(addr, err)
	}
}

func (f Funcs) PassCompleted() {
	if f.Pass != nil {
		f.Pass()
	}
}

type subscriber struct {
	id int
	o  Observer
}

// Hub fans notifications out to subscribed observers in subscription order.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

var _ Observer = (*Hub)(nil)

// Subscribe adds o and returns a function removing it.
func (h *Hub) Subscribe(o Observer) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs = append(h.subs, subscriber{id: id, o: o})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

func (h *Hub) observers() []Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Observer, len(h.subs))
	for i, s := range h.subs {
		out[i] = s.o
	}
	return out
}

func (h *Hub) ChannelChanged(c Change) {
	for _, o := range h.observers() {
		o.ChannelChanged(c)
	}
}

func (h *Hub) ErrorOccurred(addr onewire.Address, err error) {
	for _, o := range h.observers() {
		o.ErrorOccurred(addr, err)
	}
}

func (h *Hub) PassCompleted() {
	for _, o := range h.observers() {
		o.PassCompleted()
	}
}
