package device

import (
	"fmt"
	"time"

	"github.com/itohio/goowbus/pkg/dallas"
	"periph.io/x/conn/v3/onewire"
)

// Thermometer resolution limits.
const (
	MinThermometerResolution = 9
	MaxThermometerResolution = 12
)

// Thermometer is a DS18B20 temperature sensor with one channel. A DS18S20 is
// read the same way but its resolution is fixed at 9 bits.
type Thermometer struct {
	base
	resolution uint8
	raw        uint16
}

var (
	_ Device   = (*Thermometer)(nil)
	_ Preparer = (*Thermometer)(nil)
)

// NewThermometer creates a thermometer at addr.
func NewThermometer(addr onewire.Address, env Env) *Thermometer {
	t := &Thermometer{resolution: MaxThermometerResolution, raw: PowerOnTemperature}
	if dallas.FamilyOf(addr) == dallas.FamilyDS18S20 {
		t.resolution = MinThermometerResolution
	}
	t.init(addr, env)
	return t
}

func (t *Thermometer) Channels() int { return 1 }

// Resolution returns the configured resolution in bits.
func (t *Thermometer) Resolution() uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolution
}

// SetResolution changes the in-memory resolution; WriteConfiguration stores it.
func (t *Thermometer) SetResolution(bits uint8) error {
	if bits < MinThermometerResolution || bits > MaxThermometerResolution {
		return fmt.Errorf("%w: %d bits", ErrInvalidResolution, bits)
	}
	if t.Family() == dallas.FamilyDS18S20 && bits != MinThermometerResolution {
		return fmt.Errorf("%w: %v is fixed at %d bits", ErrInvalidResolution, t.Family(), MinThermometerResolution)
	}
	t.mu.Lock()
	t.resolution = bits
	t.mu.Unlock()
	return nil
}

// Value returns the raw reading in 1/16 C.
func (t *Thermometer) Value() uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.raw
}

// Temperature returns the last reading in degrees Celsius.
func (t *Thermometer) Temperature() float64 {
	return rawToCelsius(t.Value())
}

// StepSize is the temperature step at the configured resolution.
func (t *Thermometer) StepSize() float64 {
	return 1 / float64(uint(1)<<(t.Resolution()-8))
}

// ConversionTime is the conversion time at the configured resolution.
func (t *Thermometer) ConversionTime() time.Duration {
	return dallas.ThermometerConversionTime(t.Resolution())
}

func (t *Thermometer) ReadConfiguration() error {
	t.lock.Lock()
	res, err := t.t.ReadThermometerResolution(t.addr)
	t.lock.Unlock()
	if err != nil {
		return t.fail(err)
	}
	t.mu.Lock()
	t.resolution = res
	t.mu.Unlock()
	return nil
}

func (t *Thermometer) WriteConfiguration() error {
	if t.Family() == dallas.FamilyDS18S20 {
		return nil
	}
	res := t.Resolution()
	t.lock.Lock()
	err := t.t.WriteThermometerResolution(t.addr, res)
	t.lock.Unlock()
	if err != nil {
		return t.fail(err)
	}
	return nil
}

func (t *Thermometer) PrepareState() error {
	return t.convert(dallas.AllDevices)
}

func (t *Thermometer) convert(a onewire.Address) error {
	t.lock.Lock()
	err := t.t.StartConversion(t.Family(), a)
	if err == nil {
		err = t.t.WaitUntilDone()
	}
	t.lock.Unlock()
	if err != nil {
		return t.fail(err)
	}
	return nil
}

func (t *Thermometer) ReadPreparedState() error {
	t.lock.Lock()
	raw, err := t.t.ReadTemperature(t.addr)
	t.lock.Unlock()
	if err != nil {
		return t.fail(err)
	}

	t.mu.Lock()
	old := t.raw
	t.raw = raw
	t.mu.Unlock()
	if raw != old {
		t.notify([]Change{t.change(0, old, raw)})
	}
	return nil
}

// ReadState converts on this device only and reads the result.
func (t *Thermometer) ReadState() error {
	if err := t.convert(t.addr); err != nil {
		return err
	}
	return t.ReadPreparedState()
}

func (t *Thermometer) Snapshot() Snapshot {
	t.mu.RLock()
	raw, res := t.raw, t.resolution
	t.mu.RUnlock()
	c := rawToCelsius(raw)
	return Snapshot{
		ID:     dallas.RomString(t.addr),
		Family: t.Family().String(),
		Channels: []ChannelSnapshot{{
			Raw:        raw,
			Value:      c,
			Unit:       "°C",
			Text:       TemperatureText(c),
			Resolution: int(res),
		}},
	}
}
