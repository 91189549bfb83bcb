package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goowbus/pkg/filter"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, AdapterDS2480, cfg.Serial.Adapter)
	assert.Equal(t, uint16(0x18), cfg.Serial.I2CAddress)
	assert.Equal(t, 4, cfg.Polling.SamplingSeriesLength)
	assert.Equal(t, time.Duration(0), cfg.Polling.Yield)
	assert.Equal(t, filter.DefaultSpec, cfg.Adc.Filter)
	assert.Equal(t, 750*time.Millisecond, cfg.Thermometer.ConversionTime)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "", cfg.HTTP.Listen)
	assert.Equal(t, "owbus", cfg.MQTT.TopicPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyS1"
  adapter: ds2482
  i2c_address: 0x19

polling:
  sampling_series_length: 8
  yield: 5ms

adc:
  filter:
    type: median
    median_window: 7
  discreteness: 0.01

thermometer:
  conversion_time: 200ms

log:
  level: debug
  format: json
  output: stdout
  activity: /tmp/activity.log

http:
  listen: ":8080"

mqtt:
  broker: tcp://localhost:1883
  topic_prefix: home/onewire
  qos: 1
`)

	cfg, err := Load(name)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyS1", cfg.Serial.Port)
	assert.Equal(t, AdapterDS2482, cfg.Serial.Adapter)
	assert.Equal(t, uint16(0x19), cfg.Serial.I2CAddress)
	assert.Equal(t, 8, cfg.Polling.SamplingSeriesLength)
	assert.Equal(t, 5*time.Millisecond, cfg.Polling.Yield)
	assert.Equal(t, filter.KindMedian, cfg.Adc.Filter.Kind)
	assert.Equal(t, 7, cfg.Adc.Filter.MedianWindow)
	assert.Equal(t, 0.01, cfg.Adc.Discreteness)
	assert.Equal(t, 200*time.Millisecond, cfg.Thermometer.ConversionTime)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/activity.log", cfg.Log.Activity)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "goowbus", cfg.MQTT.ClientID) // default
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := writeTemp(t, "invalid: yaml: content: [")

	cfg, err := Load(name)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"adapter", "serial:\n  adapter: usb\n"},
		{"filter", "adc:\n  filter:\n    type: kalman\n"},
		{"median window", "adc:\n  filter:\n    type: median\n    median_window: 0\n"},
		{"discreteness", "adc:\n  discreteness: -1\n"},
		{"qos", "mqtt:\n  qos: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_PartialYAML(t *testing.T) {
	name := writeTemp(t, `
serial:
  port: "/dev/ttyACM0"
polling:
  sampling_series_length: 0
`)

	cfg, err := Load(name)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, AdapterDS2480, cfg.Serial.Adapter)        // default
	assert.Equal(t, 4, cfg.Polling.SamplingSeriesLength)      // default
	assert.Equal(t, filter.KindAdaptive, cfg.Adc.Filter.Kind) // default
	assert.Equal(t, float64(60), cfg.History.WindowSeconds)   // default
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB1"
	cfg.Polling.SamplingSeriesLength = 6
	cfg.Adc.Filter = filter.Spec{Kind: filter.KindLowPass, LogWindow: 3}

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", loaded.Serial.Port)
	assert.Equal(t, 6, loaded.Polling.SamplingSeriesLength)
	assert.Equal(t, cfg.Adc.Filter, loaded.Adc.Filter)
}
