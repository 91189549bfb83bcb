// Package bus polls the devices of one 1-Wire bus.
package bus

import (
	"context"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/onewire"

	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
	"github.com/itohio/goowbus/pkg/filter"
)

// idleWait is the pause between passes over an empty bus.
const idleWait = 100 * time.Millisecond

// Stats describes the polling progress.
type Stats struct {
	Running         bool
	Devices         int
	Passes          uint64
	LastPass        time.Duration
	LastPassAt      time.Time
	LastSearchError error
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithClock sets the clock used for pass timing and waits.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clk = c }
}

// WithRegistry sets the device factories.
func WithRegistry(r *device.Registry) Option {
	return func(b *Bus) { b.registry = r }
}

// WithYield sets the pause after each device read. Zero yields the processor
// without sleeping.
func WithYield(d time.Duration) Option {
	return func(b *Bus) { b.yield = d }
}

// WithSeriesLength sets the number of ADC conversions per read.
func WithSeriesLength(n int) Option {
	return func(b *Bus) { b.series = n }
}

// WithFilter sets the initial filter and quantization step of ADC channels.
func WithFilter(spec filter.Spec, discreteness float64) Option {
	return func(b *Bus) {
		b.filter = spec
		b.discreteness = discreteness
	}
}

// Bus owns the devices on one port and polls them in the background.
//
// Transactions are serialized by a single lock shared with every device.
// The lock does not order related transactions, so foreground configuration
// must run with polling paused (see Paused).
type Bus struct {
	t            dallas.Transport
	registry     *device.Registry
	log          zerolog.Logger
	clk          clock.Clock
	yield        time.Duration
	filter       filter.Spec
	discreteness float64

	lock sync.Mutex // bus transactions
	hub  device.Hub

	ctl sync.Mutex // control operations

	mu          sync.RWMutex
	port        string
	series      int
	devices     []device.Device
	initialized bool
	cancel      context.CancelFunc
	done        chan struct{}
	stats       Stats
}

// New creates a bus on port using transport t.
func New(t dallas.Transport, port string, opts ...Option) *Bus {
	b := &Bus{
		t:        t,
		port:     port,
		registry: device.DefaultRegistry(),
		log:      zerolog.Nop(),
		clk:      clock.New(),
		series:   device.DefaultSeriesLength,
		filter:   filter.DefaultSpec,
	}
	for _, o := range opts {
		o(b)
	}
	if b.series < 1 {
		b.series = 1
	}
	return b
}

// Subscribe registers an observer for device and pass notifications.
func (b *Bus) Subscribe(o device.Observer) func() {
	return b.hub.Subscribe(o)
}

// Port returns the port searched by SearchDevices.
func (b *Bus) Port() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.port
}

// SetPort changes the port used by the next search.
func (b *Bus) SetPort(port string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.port = port
}

// SeriesLength returns the number of ADC conversions per read.
func (b *Bus) SeriesLength() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.series
}

// SetSeriesLength changes the number of ADC conversions per read for
// current and future devices.
func (b *Bus) SetSeriesLength(n int) {
	if n < 1 {
		n = 1
	}
	b.mu.Lock()
	b.series = n
	devices := b.devices
	b.mu.Unlock()
	for _, d := range devices {
		if s, ok := d.(interface{ SetSeriesLength(int) }); ok {
			s.SetSeriesLength(n)
		}
	}
}

// Devices returns the devices in discovery order.
func (b *Bus) Devices() []device.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]device.Device(nil), b.devices...)
}

// Device looks a device up by address.
func (b *Bus) Device(addr onewire.Address) (device.Device, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, d := range b.devices {
		if d.Address() == addr {
			return d, true
		}
	}
	return nil, false
}

// Stats returns a copy of the polling statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.stats
	s.Running = b.cancel != nil
	s.Devices = len(b.devices)
	return s
}

// Running reports whether the poll loop is active.
func (b *Bus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cancel != nil
}

// Start runs the poll loop in the background. Starting a running bus does nothing.
func (b *Bus) Start() {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	b.start()
}

// Stop ends the poll loop and waits for the pass in flight to finish.
func (b *Bus) Stop() {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	b.stop()
}

// Paused runs fn with polling stopped and restores the previous state.
// fn must not call Start, Stop, SearchDevices, Paused or Close.
func (b *Bus) Paused(fn func() error) error {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	if b.stop() {
		defer b.start()
	}
	return fn()
}

func (b *Bus) start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	go b.run(ctx, done)
	b.log.Debug().Msg("polling started")
}

// stop reports whether the loop was running.
func (b *Bus) stop() bool {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	b.log.Debug().Msg("polling stopped")
	return true
}

func (b *Bus) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if len(b.Devices()) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-b.clk.After(idleWait):
			}
			continue
		}
		b.PollOnce(ctx)
	}
}

// PollOnce reads every device once. Devices of a family that can be prepared
// share one conversion per pass; if it fails they read whatever results the
// devices hold. A device failure does not end the pass. The pass completed
// notification is sent unless ctx ends the pass early.
func (b *Bus) PollOnce(ctx context.Context) error {
	start := b.clk.Now()
	prepared := make(map[dallas.Family]bool)
	for _, d := range b.Devices() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if p, ok := d.(device.Preparer); ok {
			f := d.Family()
			if !prepared[f] {
				prepared[f] = true
				if perr := p.PrepareState(); perr != nil {
					b.log.Warn().Err(perr).Stringer("family", f).Msg("prepare failed, reading last results")
				}
			}
			err = p.ReadPreparedState()
		} else {
			err = d.ReadState()
		}
		if err != nil {
			b.log.Debug().Err(err).Str("device", dallas.RomString(d.Address())).Msg("read failed")
		}
		b.yieldNow(ctx)
	}

	now := b.clk.Now()
	b.mu.Lock()
	b.stats.Passes++
	b.stats.LastPass = now.Sub(start)
	b.stats.LastPassAt = now
	b.mu.Unlock()
	b.hub.PassCompleted()
	return nil
}

func (b *Bus) yieldNow(ctx context.Context) {
	if b.yield <= 0 {
		runtime.Gosched()
		return
	}
	select {
	case <-ctx.Done():
	case <-b.clk.After(b.yield):
	}
}

// SearchDevices stops polling, drops all devices, reinitializes the transport
// and creates a device for every address of a registered family. New devices
// read their configuration and state once. Init or enumeration failures leave
// the bus without devices. The error of the last failing initial read is
// returned; such devices are kept. Polling stays stopped.
func (b *Bus) SearchDevices() error {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	b.stop()

	b.mu.Lock()
	b.devices = nil
	port, series := b.port, b.series
	b.mu.Unlock()

	addrs, err := b.enumerate(port)
	if err != nil {
		b.log.Error().Err(err).Str("port", port).Msg("search failed")
		b.setSearchError(err)
		return err
	}

	env := device.Env{
		Lock:         &b.lock,
		Transport:    b.t,
		Observer:     &b.hub,
		SeriesLength: series,
		Filter:       b.filter,
		Discreteness: b.discreteness,
	}
	var devices []device.Device
	var last error
	for _, a := range addrs {
		d, err := b.registry.New(a, env)
		if err != nil {
			b.log.Debug().Str("device", dallas.RomString(a)).Msg("skipping unsupported device")
			continue
		}
		if err := d.ReadConfiguration(); err != nil {
			last = err
		}
		if err := d.ReadState(); err != nil {
			last = err
		}
		devices = append(devices, d)
	}

	b.mu.Lock()
	b.devices = devices
	b.mu.Unlock()
	b.setSearchError(last)
	b.log.Info().Str("port", port).Int("found", len(addrs)).Int("devices", len(devices)).Msg("search completed")
	return last
}

func (b *Bus) enumerate(port string) ([]onewire.Address, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.initialized {
		if err := b.t.Deinit(); err != nil {
			b.log.Warn().Err(err).Msg("deinit failed")
		}
		b.initialized = false
	}
	if err := b.t.Init(port); err != nil {
		return nil, err
	}
	b.initialized = true
	return b.t.Search()
}

func (b *Bus) setSearchError(err error) {
	b.mu.Lock()
	b.stats.LastSearchError = err
	b.mu.Unlock()
}

// Close stops polling and releases the transport.
func (b *Bus) Close() error {
	b.ctl.Lock()
	defer b.ctl.Unlock()
	b.stop()

	b.lock.Lock()
	defer b.lock.Unlock()
	var err error
	if b.initialized {
		err = multierr.Append(err, b.t.Deinit())
		b.initialized = false
	}
	if c, ok := b.t.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
