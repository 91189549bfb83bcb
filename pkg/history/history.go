// Package history keeps a time window of channel values for trend display.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/onewire"

	"github.com/itohio/goowbus/pkg/device"
)

// Point is one channel value at a pass.
type Point struct {
	Time  time.Time
	Value float64
}

// Key identifies a channel.
type Key struct {
	ID      string
	Channel int
}

// Series is the buffered window of one channel.
// Rates correspond to point pairs: Rates[i] = (Points[i+1]-Points[i]) / dt.
type Series struct {
	Key    Key
	Unit   string
	Points []Point
	Rates  []float64
}

// Source lists the devices to sample after every pass.
type Source func() []device.Device

// Option configures a History.
type Option func(*History)

// WithClock sets the clock used to timestamp points.
func WithClock(c clock.Clock) Option {
	return func(h *History) { h.clk = c }
}

// History samples every channel after each poll pass and keeps the points
// that fall inside the window. It is a device.Observer.
type History struct {
	source Source
	clk    clock.Clock
	window time.Duration

	mu     sync.RWMutex
	series map[Key]*Series

	cbMu      sync.RWMutex
	callbacks []func(series []Series)
}

var _ device.Observer = (*History)(nil)

// New creates a history with the given window.
func New(window time.Duration, source Source, opts ...Option) *History {
	h := &History{
		source: source,
		clk:    clock.New(),
		window: window,
		series: make(map[Key]*Series),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Window returns the window duration.
func (h *History) Window() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.window
}

// SetWindow changes the window; older points are dropped on the next record.
func (h *History) SetWindow(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.window = d
}

func (h *History) ChannelChanged(device.Change)         {}
func (h *History) ErrorOccurred(onewire.Address, error) {}
func (h *History) PassCompleted() {
	if h.source == nil {
		return
	}
	snaps := make([]device.Snapshot, 0)
	for _, d := range h.source() {
		snaps = append(snaps, d.Snapshot())
	}
	h.Record(snaps)
}

// Record appends one point per channel of snaps and notifies callbacks.
func (h *History) Record(snaps []device.Snapshot) {
	now := h.clk.Now()

	h.mu.Lock()
	for _, s := range snaps {
		for _, ch := range s.Channels {
			k := Key{ID: s.ID, Channel: ch.Channel}
			sr, ok := h.series[k]
			if !ok {
				sr = &Series{Key: k}
				h.series[k] = sr
			}
			sr.Unit = ch.Unit
			h.appendPoint(sr, Point{Time: now, Value: ch.Value})
		}
	}
	// Channels of removed devices age out like any other.
	cutoff := now.Add(-h.window)
	for k, sr := range h.series {
		h.trim(sr, cutoff)
		if len(sr.Points) == 0 {
			delete(h.series, k)
		}
	}
	h.mu.Unlock()

	h.notifyCallbacks()
}

func (h *History) appendPoint(sr *Series, p Point) {
	if n := len(sr.Points); n > 0 {
		prev := sr.Points[n-1]
		dt := p.Time.Sub(prev.Time).Seconds()
		if dt <= 0 {
			// Same timestamp: replace the value instead of stacking points.
			sr.Points[n-1].Value = p.Value
			if n > 1 {
				sr.Rates[n-2] = rate(sr.Points[n-2], sr.Points[n-1])
			}
			return
		}
		sr.Rates = append(sr.Rates, (p.Value-prev.Value)/dt)
	}
	sr.Points = append(sr.Points, p)
}

func rate(a, b Point) float64 {
	dt := b.Time.Sub(a.Time).Seconds()
	if dt <= 0 {
		return 0
	}
	return (b.Value - a.Value) / dt
}

// trim removes points at or before cutoff and their rates.
func (h *History) trim(sr *Series, cutoff time.Time) {
	idx := sort.Search(len(sr.Points), func(i int) bool {
		return sr.Points[i].Time.After(cutoff)
	})
	if idx == 0 {
		return
	}
	sr.Points = sr.Points[idx:]
	if idx <= len(sr.Rates) {
		sr.Rates = sr.Rates[idx:]
	} else {
		sr.Rates = sr.Rates[:0]
	}
}

// Keys returns the buffered channels sorted by device and channel.
func (h *History) Keys() []Key {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]Key, 0, len(h.series))
	for k := range h.series {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
}

func (k Key) less(o Key) bool {
	if k.ID != o.ID {
		return k.ID < o.ID
	}
	return k.Channel < o.Channel
}

// Series returns a copy of one channel's window.
func (h *History) Series(k Key) (Series, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sr, ok := h.series[k]
	if !ok {
		return Series{}, false
	}
	return sr.clone(), true
}

// All returns copies of every window sorted by key.
func (h *History) All() []Series {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Series, 0, len(h.series))
	for _, sr := range h.series {
		out = append(out, sr.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

func (s *Series) clone() Series {
	c := Series{Key: s.Key, Unit: s.Unit}
	c.Points = append([]Point(nil), s.Points...)
	c.Rates = append([]float64(nil), s.Rates...)
	return c
}

// Clear drops every buffered point.
func (h *History) Clear() {
	h.mu.Lock()
	h.series = make(map[Key]*Series)
	h.mu.Unlock()
	h.notifyCallbacks()
}

// OnUpdate registers a callback invoked after every record with copies of all
// windows. The callback should return quickly.
func (h *History) OnUpdate(callback func(series []Series)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.callbacks = append(h.callbacks, callback)
}

func (h *History) notifyCallbacks() {
	h.cbMu.RLock()
	callbacks := make([]func([]Series), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.cbMu.RUnlock()
	if len(callbacks) == 0 {
		return
	}

	series := h.All()
	for _, cb := range callbacks {
		if cb != nil {
			cb(series)
		}
	}
}
