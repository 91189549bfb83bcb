package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/goowbus/pkg/filter"
)

// Bus adapters.
const (
	AdapterDS2480 = "ds2480"
	AdapterDS2482 = "ds2482"
	AdapterSim    = "sim"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Polling     PollingConfig     `yaml:"polling"`
	Adc         AdcConfig         `yaml:"adc"`
	Thermometer ThermometerConfig `yaml:"thermometer"`
	History     HistoryConfig     `yaml:"history"`
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Sim         SimConfig         `yaml:"sim"`
}

// SerialConfig selects the bus adapter.
type SerialConfig struct {
	Port       string `yaml:"port"`        // serial device, port number or I2C bus name
	Adapter    string `yaml:"adapter"`     // ds2480, ds2482 or sim
	I2CAddress uint16 `yaml:"i2c_address"` // DS2482 address
}

// PollingConfig contains scheduler parameters.
type PollingConfig struct {
	SamplingSeriesLength int           `yaml:"sampling_series_length"` // ADC conversions per pass
	Yield                time.Duration `yaml:"yield"`                  // pause after each device, 0 = yield only
	AutoStart            bool          `yaml:"auto_start"`             // start polling after the first search
}

// AdcConfig contains the initial filter settings of ADC channels.
type AdcConfig struct {
	Filter       filter.Spec `yaml:"filter"`
	Discreteness float64     `yaml:"discreteness"` // quantization step (V), 0 = disabled
}

// ThermometerConfig contains thermometer parameters.
type ThermometerConfig struct {
	ConversionTime time.Duration `yaml:"conversion_time"` // broadcast conversion wait
}

// HistoryConfig contains trend display parameters.
type HistoryConfig struct {
	WindowSeconds float64 `yaml:"window_seconds"`
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Format   string `yaml:"format"`   // json or text
	Output   string `yaml:"output"`   // stdout, stderr or file path
	Activity string `yaml:"activity"` // JSON lines file of changes and errors, empty = off
}

// HTTPConfig contains the control API parameters.
type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// MQTTConfig contains the event publisher parameters.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty = disabled
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// SimConfig describes the simulated bus used with -mock.
type SimConfig struct {
	Thermometers int     `yaml:"thermometers"`
	Switches     int     `yaml:"switches"`
	Adcs         int     `yaml:"adcs"`
	Noise        float64 `yaml:"noise"` // ADC noise amplitude (V)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:       "/dev/ttyUSB0", // "COM1" on Windows
			Adapter:    AdapterDS2480,
			I2CAddress: 0x18,
		},
		Polling: PollingConfig{
			SamplingSeriesLength: 4,
		},
		Adc: AdcConfig{
			Filter:       filter.DefaultSpec,
			Discreteness: 0,
		},
		Thermometer: ThermometerConfig{
			ConversionTime: 750 * time.Millisecond,
		},
		History: HistoryConfig{
			WindowSeconds: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			ClientID:    "goowbus",
			TopicPrefix: "owbus",
		},
		Sim: SimConfig{
			Thermometers: 2,
			Switches:     1,
			Adcs:         2,
			Noise:        0.02,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch c.Serial.Adapter {
	case AdapterDS2480, AdapterDS2482, AdapterSim:
	default:
		return fmt.Errorf("invalid serial adapter %q", c.Serial.Adapter)
	}
	if _, err := filter.New(c.Adc.Filter); err != nil {
		return fmt.Errorf("invalid adc filter: %w", err)
	}
	if c.Adc.Discreteness < 0 {
		return fmt.Errorf("invalid adc discreteness %g", c.Adc.Discreteness)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Adapter == "" {
		c.Serial.Adapter = def.Serial.Adapter
	}
	if c.Serial.I2CAddress == 0 {
		c.Serial.I2CAddress = def.Serial.I2CAddress
	}

	if c.Polling.SamplingSeriesLength <= 0 {
		c.Polling.SamplingSeriesLength = def.Polling.SamplingSeriesLength
	}

	if c.Adc.Filter.Kind == "" {
		c.Adc.Filter = def.Adc.Filter
	}

	if c.Thermometer.ConversionTime == 0 {
		c.Thermometer.ConversionTime = def.Thermometer.ConversionTime
	}

	if c.History.WindowSeconds == 0 {
		c.History.WindowSeconds = def.History.WindowSeconds
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Log.Output
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
}
