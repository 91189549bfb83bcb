// Package adapter opens the 1-Wire master selected in the configuration.
package adapter

import (
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/devices/v3/ds248x"
	"periph.io/x/host/v3"

	"github.com/itohio/goowbus/pkg/config"
	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/ds2480"
)

// PortName maps a 1-based port number to the serial device name of the host.
func PortName(n int) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("COM%d", n)
	}
	return fmt.Sprintf("/dev/ttyUSB%d", n-1)
}

// ResolvePort accepts either a device name or a port number.
func ResolvePort(port string) string {
	if n, err := strconv.Atoi(port); err == nil && n > 0 {
		return PortName(n)
	}
	return port
}

// New creates the transport for cfg. The port is opened by Transport.Init.
func New(cfg *config.Config, log zerolog.Logger) (dallas.Transport, error) {
	opts := []dallas.Option{dallas.WithThermometerConversion(cfg.Thermometer.ConversionTime)}

	switch cfg.Serial.Adapter {
	case config.AdapterSim:
		log.Info().
			Int("thermometers", cfg.Sim.Thermometers).
			Int("switches", cfg.Sim.Switches).
			Int("adcs", cfg.Sim.Adcs).
			Msg("using simulated bus")
		return dallas.Demo(cfg.Sim.Thermometers, cfg.Sim.Switches, cfg.Sim.Adcs, cfg.Sim.Noise), nil
	case config.AdapterDS2480:
		return dallas.New(OpenDS2480, opts...), nil
	case config.AdapterDS2482:
		return dallas.New(DS2482Opener(cfg.Serial.I2CAddress), opts...), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", cfg.Serial.Adapter)
	}
}

// OpenDS2480 opens a DS2480B serial line driver.
func OpenDS2480(port string) (onewire.Bus, io.Closer, error) {
	a, err := ds2480.Open(ResolvePort(port))
	if err != nil {
		return nil, nil, err
	}
	return a, a, nil
}

// DS2482Opener returns an opener for a DS2482 I2C master at addr. The port is
// the I2C bus name; empty selects the first bus.
func DS2482Opener(addr uint16) dallas.Opener {
	return func(port string) (onewire.Bus, io.Closer, error) {
		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("host init: %w", err)
		}
		i2cBus, err := i2creg.Open(port)
		if err != nil {
			return nil, nil, fmt.Errorf("open i2c %q: %w", port, err)
		}
		dev, err := ds248x.New(i2cBus, addr, &ds248x.DefaultOpts)
		if err != nil {
			i2cBus.Close()
			return nil, nil, fmt.Errorf("ds2482 at 0x%02x: %w", addr, err)
		}
		return dev, i2cBus, nil
	}
}
