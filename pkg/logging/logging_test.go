package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goowbus/pkg/config"
	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantErr bool
	}{
		{"defaults", config.LogConfig{Level: "info"}, false},
		{"json stdout", config.LogConfig{Level: "debug", Format: "json", Output: "stdout"}, false},
		{"upper case level", config.LogConfig{Level: "WARN"}, false},
		{"bad level", config.LogConfig{Level: "loud"}, true},
		{"bad format", config.LogConfig{Level: "info", Format: "xml"}, true},
		{"bad file", config.LogConfig{Level: "info", Output: "/nonexistent/dir/log"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, c.Close())
		})
	}
}

func TestNew_File(t *testing.T) {
	name := filepath.Join(t.TempDir(), "owbus.log")
	log, c, err := New(config.LogConfig{Level: "info", Format: "json", Output: name})
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Str("port", "sim").Msg("bus opened")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "sim", entry["port"])
	assert.Equal(t, "bus opened", entry["message"])
}

func TestActivity(t *testing.T) {
	var buf bytes.Buffer
	a := NewActivity(&buf)
	addr := dallas.MakeRom(dallas.FamilyDS2450, 7)

	a.ChannelChanged(device.Change{Addr: addr, Family: dallas.FamilyDS2450, Channel: 2, Old: 100, New: 200})
	a.ErrorOccurred(addr, &dallas.Error{Op: "read", Addr: addr, Code: dallas.CRC})
	a.ErrorOccurred(addr, errors.New("boom"))
	a.PassCompleted()
	assert.NoError(t, a.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var change map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &change))
	assert.Equal(t, "change", change["event"])
	assert.Equal(t, dallas.RomString(addr), change["rom"])
	assert.Equal(t, "DS2450", change["family"])
	assert.EqualValues(t, 2, change["channel"])
	assert.EqualValues(t, 100, change["old"])
	assert.EqualValues(t, 200, change["new"])
	assert.Contains(t, change, "time")

	var failure map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failure))
	assert.Equal(t, "error", failure["event"])
	assert.Equal(t, dallas.CRC.String(), failure["code"])
	assert.Contains(t, failure["error"], "dallas: read")

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &failure))
	assert.Equal(t, dallas.BadResponse.String(), failure["code"])
}

func TestOpenActivity(t *testing.T) {
	name := filepath.Join(t.TempDir(), "activity.jsonl")
	a, err := OpenActivity(name)
	require.NoError(t, err)
	a.ChannelChanged(device.Change{Channel: 1, New: 1})
	require.NoError(t, a.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"change"`)

	_, err = OpenActivity("/nonexistent/dir/activity")
	assert.Error(t, err)
}
