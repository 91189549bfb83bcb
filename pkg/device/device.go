// Package device implements the configuration and state protocols of the
// supported 1-Wire device families.
package device

import (
	"sync"

	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/filter"
	"periph.io/x/conn/v3/onewire"
)

// DefaultSeriesLength is the number of ADC batches read per poll pass.
const DefaultSeriesLength = 4

// Device is a polled bus device.
//
// Every method taking the bus lock is a complete transaction; a failure is
// returned and also delivered to the observer, and leaves the previously read
// configuration and state untouched.
type Device interface {
	Address() onewire.Address
	Family() dallas.Family
	Channels() int

	ReadConfiguration() error
	WriteConfiguration() error
	ReadState() error

	Snapshot() Snapshot
}

// Preparer is implemented by families whose conversion can be started for
// all devices at once and fetched per device afterwards.
type Preparer interface {
	// PrepareState starts a conversion on every device of the family and
	// waits for it to finish.
	PrepareState() error
	// ReadPreparedState fetches the result of the last conversion.
	ReadPreparedState() error
}

// Outputs is implemented by devices with switchable outputs.
type Outputs interface {
	OutputActivated(ch int) bool
	SetOutputActivated(ch int, active bool) error
	ToggleOutput(ch int) error
}

// Env is what a device shares with the bus that owns it.
type Env struct {
	// Lock serializes bus transactions. Required.
	Lock *sync.Mutex
	// Transport executes transactions. Required.
	Transport dallas.Transport
	// Observer receives notifications; nil discards them.
	Observer Observer

	// SeriesLength is the number of ADC batches per read; 0 means default.
	SeriesLength int
	// Filter and Discreteness are the initial ADC channel filter settings.
	Filter       filter.Spec
	Discreteness float64
}

type nopObserver struct{}

func (nopObserver) ChannelChanged(Change)                {}
func (nopObserver) ErrorOccurred(onewire.Address, error) {}
func (nopObserver) PassCompleted()                       {}

type base struct {
	addr onewire.Address
	lock *sync.Mutex
	t    dallas.Transport
	obs  Observer

	// mu guards fields read by presentation code.
	mu sync.RWMutex
}

func (b *base) init(addr onewire.Address, env Env) {
	b.addr = addr
	b.lock = env.Lock
	b.t = env.Transport
	b.obs = env.Observer
	if b.obs == nil {
		b.obs = nopObserver{}
	}
}

func (b *base) Address() onewire.Address {
	return b.addr
}

func (b *base) Family() dallas.Family {
	return dallas.FamilyOf(b.addr)
}

// fail reports err and returns it.
func (b *base) fail(err error) error {
	b.obs.ErrorOccurred(b.addr, err)
	return err
}

func (b *base) notify(changes []Change) {
	for _, c := range changes {
		b.obs.ChannelChanged(c)
	}
}

func (b *base) change(ch int, old, new uint16) Change {
	return Change{Addr: b.addr, Family: b.Family(), Channel: ch, Old: old, New: new}
}

// Snapshot is an immutable view of a device for presentation.
type Snapshot struct {
	ID       string            `json:"id"`
	Family   string            `json:"family"`
	Channels []ChannelSnapshot `json:"channels"`
}

// ChannelSnapshot is one channel of a Snapshot.
type ChannelSnapshot struct {
	Channel    int     `json:"channel"`
	Raw        uint16  `json:"raw"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Text       string  `json:"text"`
	Resolution int     `json:"resolution,omitempty"`
	Range      string  `json:"range,omitempty"`
	Output     *bool   `json:"output_active,omitempty"`
}
