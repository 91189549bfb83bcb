package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/goowbus/pkg/device"
)

func TestThrottle(t *testing.T) {
	th := newThrottle(100 * time.Millisecond)
	t0 := time.Unix(1000, 0)

	assert.True(t, th.allow(t0))
	assert.False(t, th.allow(t0.Add(50*time.Millisecond)))
	assert.True(t, th.allow(t0.Add(100*time.Millisecond)))
	assert.False(t, th.allow(t0.Add(150*time.Millisecond)))
}

func TestChannelText(t *testing.T) {
	active := true
	inactive := false
	tests := []struct {
		name string
		ch   device.ChannelSnapshot
		want string
	}{
		{"thermometer", device.ChannelSnapshot{Channel: 0, Text: "21.5000 °C"}, "ch 0: 21.5000 °C"},
		{"switch active", device.ChannelSnapshot{Channel: 3, Text: "low", Output: &active}, "ch 3: low [output active]"},
		{"switch released", device.ChannelSnapshot{Channel: 4, Text: "high", Output: &inactive}, "ch 4: high"},
		{"adc", device.ChannelSnapshot{Channel: 1, Text: "1.234 V", Range: "2.56V", Resolution: 12, Output: &inactive}, "ch 1: 1.234 V (2.56V, 12 bit)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, channelText(tt.ch))
		})
	}
}
