package device

import (
	"fmt"

	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/filter"
	"periph.io/x/conn/v3/onewire"
)

// ADC resolution limits.
const (
	MinAdcResolution     = 1
	MaxAdcResolution     = 16
	DefaultAdcResolution = 8
	// MinNoisyResolution is the lowest resolution where conversion noise shows.
	MinNoisyResolution = 9
)

// NoisyResolution reports whether results at res bits carry conversion noise.
func NoisyResolution(res uint8) bool {
	return res >= MinNoisyResolution
}

// AdcChannel is the configuration of one DS2450 channel. Range, Resolution
// and Output live on the device; Filter and Discreteness are local.
type AdcChannel struct {
	Range        dallas.Range  `json:"range"`
	Resolution   uint8         `json:"resolution"`
	Output       dallas.Output `json:"output"`
	Filter       filter.Spec   `json:"filter"`
	Discreteness float64       `json:"discreteness"`
}

// AdcSettings is the configuration of all channels.
type AdcSettings [dallas.AdcChannels]AdcChannel

// Adc is a DS2450 4 channel A/D converter. Each read takes a series of
// conversions and runs every sample through the channel filter chain.
type Adc struct {
	base
	series int

	cfg    AdcSettings
	chains [dallas.AdcChannels]*filter.Chain
	values [dallas.AdcChannels]uint16
	volts  [dallas.AdcChannels]float64
}

var (
	_ Device   = (*Adc)(nil)
	_ Preparer = (*Adc)(nil)
	_ Outputs  = (*Adc)(nil)
)

// NewAdc creates an ADC at addr. An invalid env.Filter falls back to no filtering.
func NewAdc(addr onewire.Address, env Env) *Adc {
	a := &Adc{series: env.SeriesLength}
	if a.series <= 0 {
		a.series = DefaultSeriesLength
	}
	a.init(addr, env)
	spec := env.Filter
	if _, err := filter.New(spec); err != nil {
		spec = filter.Spec{Kind: filter.KindNone}
	}
	for ch := range a.cfg {
		a.cfg[ch] = AdcChannel{
			Range:        dallas.Range2V56,
			Resolution:   DefaultAdcResolution,
			Output:       dallas.OutputOff,
			Filter:       spec,
			Discreteness: env.Discreteness,
		}
		a.chains[ch], _ = filter.NewChain(spec, env.Discreteness)
	}
	return a
}

func (a *Adc) Channels() int { return dallas.AdcChannels }

func validAdcChannel(ch int) error {
	if ch < 0 || ch >= dallas.AdcChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	return nil
}

// SeriesLength is the number of conversions per read.
func (a *Adc) SeriesLength() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.series
}

// SetSeriesLength changes the number of conversions per read.
func (a *Adc) SetSeriesLength(n int) {
	if n < 1 {
		n = 1
	}
	a.mu.Lock()
	a.series = n
	a.mu.Unlock()
}

// Settings returns a copy of the configuration for editing.
func (a *Adc) Settings() AdcSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Validate checks s without applying it.
func (s AdcSettings) Validate() error {
	for ch, c := range s {
		if c.Resolution < MinAdcResolution || c.Resolution > MaxAdcResolution {
			return fmt.Errorf("%w: channel %d: %d bits", ErrInvalidResolution, ch, c.Resolution)
		}
		if c.Range != dallas.Range2V56 && c.Range != dallas.Range5V12 {
			return fmt.Errorf("%w: channel %d: %d", ErrInvalidRange, ch, c.Range)
		}
		if c.Output > dallas.OutputHigh {
			return fmt.Errorf("%w: channel %d: output %d", ErrProtocol, ch, c.Output)
		}
		if _, err := filter.New(c.Filter); err != nil {
			return fmt.Errorf("%w: channel %d: %v", ErrInvalidFilter, ch, err)
		}
		if c.Discreteness < 0 {
			return fmt.Errorf("%w: channel %d: negative discreteness", ErrProtocol, ch)
		}
	}
	return nil
}

// Apply replaces the in-memory configuration. On error nothing changes.
// Device settings are stored by WriteConfiguration.
func (a *Adc) Apply(s AdcSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.assign(s)
	return nil
}

// assign installs s and resets the chains it invalidates. The bus lock must be held.
func (a *Adc) assign(s AdcSettings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range s {
		old, c := a.cfg[ch], s[ch]
		chain := a.chains[ch]
		if old.Filter != c.Filter {
			if err := chain.SetSpec(c.Filter); err != nil {
				c.Filter = old.Filter
			}
		}
		if old.Resolution != c.Resolution {
			chain.Reset()
		}
		if old.Discreteness != c.Discreteness || old.Range != c.Range {
			chain.SetStep(c.Discreteness)
		}
		a.cfg[ch] = c
	}
}

func (a *Adc) update(ch int, fn func(*AdcChannel)) error {
	if err := validAdcChannel(ch); err != nil {
		return err
	}
	s := a.Settings()
	fn(&s[ch])
	return a.Apply(s)
}

func (a *Adc) SetRange(ch int, r dallas.Range) error {
	return a.update(ch, func(c *AdcChannel) { c.Range = r })
}

func (a *Adc) SetResolution(ch int, bits uint8) error {
	return a.update(ch, func(c *AdcChannel) { c.Resolution = bits })
}

func (a *Adc) SetFilter(ch int, spec filter.Spec) error {
	return a.update(ch, func(c *AdcChannel) { c.Filter = spec })
}

func (a *Adc) SetDiscreteness(ch int, step float64) error {
	return a.update(ch, func(c *AdcChannel) { c.Discreteness = step })
}

func (a *Adc) OutputActivated(ch int) bool {
	if validAdcChannel(ch) != nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg[ch].Output == dallas.OutputLow
}

// SetOutputActivated switches the output transistor on (conducting) or off.
func (a *Adc) SetOutputActivated(ch int, active bool) error {
	out := dallas.OutputHigh
	if active {
		out = dallas.OutputLow
	}
	return a.update(ch, func(c *AdcChannel) { c.Output = out })
}

func (a *Adc) ToggleOutput(ch int) error {
	return a.SetOutputActivated(ch, !a.OutputActivated(ch))
}

// FilteredValue returns the left aligned 16-bit filtered result.
func (a *Adc) FilteredValue(ch int) uint16 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[ch]
}

// Value returns the filtered result at the channel resolution.
func (a *Adc) Value(ch int) uint16 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[ch] >> (MaxAdcResolution - a.cfg[ch].Resolution)
}

// Volts returns the quantized channel voltage.
func (a *Adc) Volts(ch int) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.volts[ch]
}

// MaxValue is the largest Value at the channel resolution.
func (a *Adc) MaxValue(ch int) uint16 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint16(1<<a.cfg[ch].Resolution - 1)
}

// StepVolts is the voltage of one least significant bit.
func (a *Adc) StepVolts(ch int) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := a.cfg[ch]
	return adcToVolts(1<<(MaxAdcResolution-c.Resolution), c.Range)
}

// MaxVolts is the voltage of MaxValue.
func (a *Adc) MaxVolts(ch int) float64 {
	m := a.MaxValue(ch)
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := a.cfg[ch]
	return adcToVolts(m<<(MaxAdcResolution-c.Resolution), c.Range)
}

func (a *Adc) ReadConfiguration() error {
	a.lock.Lock()
	ds, err := a.t.ReadAdcSettings(a.addr)
	if err != nil {
		a.lock.Unlock()
		return a.fail(err)
	}
	s := a.Settings()
	for ch := range s {
		s[ch].Range = ds.Range[ch]
		s[ch].Resolution = ds.Resolution[ch]
		s[ch].Output = ds.Output[ch]
	}
	a.assign(s)
	a.lock.Unlock()
	return nil
}

func (a *Adc) WriteConfiguration() error {
	s := a.Settings()
	var ds dallas.AdcSettings
	for ch, c := range s {
		ds.Range[ch] = c.Range
		ds.Resolution[ch] = c.Resolution
		ds.Output[ch] = c.Output
	}
	a.lock.Lock()
	err := a.t.WriteAdcSettings(a.addr, ds)
	a.lock.Unlock()
	if err != nil {
		return a.fail(err)
	}
	return nil
}

func (a *Adc) PrepareState() error {
	return a.convert(dallas.AllDevices)
}

func (a *Adc) convert(addr onewire.Address) error {
	a.lock.Lock()
	err := a.t.StartConversion(dallas.FamilyDS2450, addr)
	if err == nil {
		err = a.t.WaitUntilDone()
	}
	a.lock.Unlock()
	if err != nil {
		return a.fail(err)
	}
	return nil
}

// ReadPreparedState fetches the prepared results, then runs the rest of the
// series on this device alone. The whole series is read before any sample
// goes through the filter chains, so a failed batch leaves them untouched;
// one change per channel is reported for the settled value.
func (a *Adc) ReadPreparedState() error {
	series := a.SeriesLength()
	cfg := a.Settings()

	var filtered [dallas.AdcChannels]uint16
	var volts [dallas.AdcChannels]float64
	samples := make([][dallas.AdcChannels]uint16, 0, series)

	a.lock.Lock()
	for i := 0; i < series; i++ {
		if i > 0 {
			err := a.t.StartConversion(dallas.FamilyDS2450, a.addr)
			if err == nil {
				err = a.t.WaitUntilDone()
			}
			if err != nil {
				a.lock.Unlock()
				return a.fail(err)
			}
		}
		raw, err := a.t.ReadAdcResults(a.addr)
		if err != nil {
			a.lock.Unlock()
			return a.fail(err)
		}
		samples = append(samples, raw)
	}
	for _, raw := range samples {
		for ch, v := range raw {
			filtered[ch] = a.chains[ch].Filter(v)
		}
	}
	for ch, v := range filtered {
		volts[ch] = a.chains[ch].Quantize(adcToVolts(v, cfg[ch].Range))
	}
	a.lock.Unlock()

	a.mu.Lock()
	old := a.values
	a.values = filtered
	a.volts = volts
	a.mu.Unlock()

	var changes []Change
	for ch := range filtered {
		if filtered[ch] != old[ch] {
			changes = append(changes, a.change(ch, old[ch], filtered[ch]))
		}
	}
	a.notify(changes)
	return nil
}

// ReadState converts on this device only and reads the series.
func (a *Adc) ReadState() error {
	if err := a.convert(a.addr); err != nil {
		return err
	}
	return a.ReadPreparedState()
}

func (a *Adc) Snapshot() Snapshot {
	a.mu.RLock()
	cfg, values, volts := a.cfg, a.values, a.volts
	a.mu.RUnlock()
	snap := Snapshot{
		ID:       dallas.RomString(a.addr),
		Family:   a.Family().String(),
		Channels: make([]ChannelSnapshot, dallas.AdcChannels),
	}
	for ch, c := range cfg {
		active := c.Output == dallas.OutputLow
		snap.Channels[ch] = ChannelSnapshot{
			Channel:    ch,
			Raw:        values[ch] >> (MaxAdcResolution - c.Resolution),
			Value:      volts[ch],
			Unit:       "V",
			Text:       VoltsText(volts[ch]),
			Resolution: int(c.Resolution),
			Range:      c.Range.String(),
			Output:     &active,
		}
	}
	return snap
}
