package device

import (
	"fmt"
	"sort"

	"github.com/itohio/goowbus/pkg/dallas"
	"periph.io/x/conn/v3/onewire"
)

// Factory creates a device of one family.
type Factory func(addr onewire.Address, env Env) Device

// Registry maps family codes to factories. It is filled before polling
// starts and only read afterwards.
type Registry struct {
	factories map[dallas.Family]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[dallas.Family]Factory)}
}

// DefaultRegistry knows every supported family.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	thermometer := func(addr onewire.Address, env Env) Device { return NewThermometer(addr, env) }
	r.Register(dallas.FamilyDS18B20, thermometer)
	r.Register(dallas.FamilyDS18S20, thermometer)
	r.Register(dallas.FamilyDS2408, func(addr onewire.Address, env Env) Device { return NewSwitchBank(addr, env) })
	r.Register(dallas.FamilyDS2450, func(addr onewire.Address, env Env) Device { return NewAdc(addr, env) })
	return r
}

// Register sets the factory for a family.
func (r *Registry) Register(f dallas.Family, fn Factory) {
	r.factories[f] = fn
}

// Supports reports whether a family has a factory.
func (r *Registry) Supports(f dallas.Family) bool {
	_, ok := r.factories[f]
	return ok
}

// Families lists the registered families in ascending order.
func (r *Registry) Families() []dallas.Family {
	out := make([]dallas.Family, 0, len(r.factories))
	for f := range r.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New creates the device at addr.
func (r *Registry) New(addr onewire.Address, env Env) (Device, error) {
	fn, ok := r.factories[dallas.FamilyOf(addr)]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFamily, dallas.FamilyOf(addr))
	}
	return fn(addr, env), nil
}
