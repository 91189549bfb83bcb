package dallas

import (
	"time"

	"periph.io/x/conn/v3/onewire"
)

// AdcChannels is the number of DS2450 inputs.
const AdcChannels = 4

// SwitchChannels is the number of DS2408 PIO lines.
const SwitchChannels = 8

// Range is the DS2450 input range of a channel.
type Range uint8

const (
	Range2V56 Range = iota
	Range5V12
)

// MilliVolts returns the full scale of the range.
func (r Range) MilliVolts() int {
	if r == Range5V12 {
		return 5120
	}
	return 2560
}

func (r Range) String() string {
	if r == Range5V12 {
		return "5.12V"
	}
	return "2.56V"
}

// Output is the state of a DS2450 channel output transistor.
type Output uint8

const (
	// OutputOff disables the output; the pin is an input only.
	OutputOff Output = iota
	// OutputLow conducts to ground (activated).
	OutputLow
	// OutputHigh is enabled but not conducting.
	OutputHigh
)

// AdcSettings is the control page of a DS2450.
type AdcSettings struct {
	Resolution [AdcChannels]uint8
	Range      [AdcChannels]Range
	Output     [AdcChannels]Output
}

// Transport executes device transactions on a 1-Wire bus.
// Implementations are not safe for concurrent use; callers hold the bus lock.
type Transport interface {
	Init(port string) error
	Deinit() error
	Search() ([]onewire.Address, error)

	// StartConversion begins a conversion on one device, or on all devices
	// of the family when a is AllDevices.
	StartConversion(f Family, a onewire.Address) error
	// WaitUntilDone blocks until the last started conversion completes.
	WaitUntilDone() error

	ReadTemperature(a onewire.Address) (uint16, error)
	ReadThermometerResolution(a onewire.Address) (uint8, error)
	WriteThermometerResolution(a onewire.Address, bits uint8) error

	ReadSwitchInputs(a onewire.Address) (uint8, error)
	ReadSwitchOutputs(a onewire.Address) (uint8, error)
	WriteSwitchOutputs(a onewire.Address, v uint8) error

	ReadAdcSettings(a onewire.Address) (AdcSettings, error)
	WriteAdcSettings(a onewire.Address, s AdcSettings) error
	ReadAdcResults(a onewire.Address) ([AdcChannels]uint16, error)
}

// ThermometerConversionTime is the DS18B20 conversion time at a resolution.
func ThermometerConversionTime(bits uint8) time.Duration {
	if bits < 9 || bits > 12 {
		bits = 12
	}
	return 750 * time.Millisecond >> (12 - bits)
}

// AdcConversionTime is the DS2450 time to convert all channels at the given
// resolutions.
func AdcConversionTime(res [AdcChannels]uint8) time.Duration {
	d := 160 * time.Microsecond
	for _, r := range res {
		if r == 0 || r > 16 {
			r = 16
		}
		d += 80 * time.Microsecond * time.Duration(r)
	}
	return d
}
