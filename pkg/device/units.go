package device

import (
	"fmt"

	"github.com/itohio/goowbus/pkg/dallas"
)

// PowerOnTemperature is the DS18B20 scratchpad value before the first conversion (85 C).
const PowerOnTemperature uint16 = 0x0550

// adcToVolts converts a left aligned 16-bit DS2450 result to volts.
func adcToVolts(v uint16, r dallas.Range) float64 {
	return float64(r.MilliVolts()) * float64(v) / (1 << 16) / 1000
}

// rawToCelsius converts a two's complement 1/16 C reading.
func rawToCelsius(raw uint16) float64 {
	return float64(int16(raw)) / 16
}

// TemperatureText formats degrees Celsius for display.
func TemperatureText(c float64) string {
	return fmt.Sprintf("%.4f °C", c)
}

// VoltsText formats volts for display.
func VoltsText(v float64) string {
	return fmt.Sprintf("%.3f V", v)
}

// LevelText formats a switch input bit.
func LevelText(high bool) string {
	if high {
		return "high"
	}
	return "low"
}
