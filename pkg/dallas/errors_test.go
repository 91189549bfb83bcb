package dallas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type shortedErr struct{}

func (shortedErr) Error() string   { return "shorted" }
func (shortedErr) IsShorted() bool { return true }

type noDevicesErr struct{}

func (noDevicesErr) Error() string   { return "no devices" }
func (noDevicesErr) NoDevices() bool { return true }

type timeoutErr struct{}

func (timeoutErr) Error() string { return "read timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, NoError},
		{"dallas error", &Error{Op: "x", Code: CRC}, CRC},
		{"wrapped", fmt.Errorf("outer: %w", &Error{Op: "x", Code: Busy}), Busy},
		{"foreign", errors.New("boom"), BadResponse},
		{"shorted", wrap("search", AllDevices, shortedErr{}), Shorted},
		{"no devices", wrap("search", AllDevices, noDevicesErr{}), NotFound},
		{"timeout", wrap("read", AllDevices, timeoutErr{}), Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("poll: %w", &Error{Op: "read", Addr: 0x28, Code: Timeout})
	assert.ErrorIs(t, err, &Error{Code: Timeout})
	assert.NotErrorIs(t, err, &Error{Code: CRC})
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: "read adc results", Addr: 0x3a0000012345ab20, Code: CRC}
	assert.Equal(t, "dallas: read adc results 3a-0000012345ab-20: CRC error", err.Error())

	err = &Error{Op: "init", Code: PortFailure, Err: errors.New("no such file")}
	assert.Equal(t, "dallas: init: cannot open port: no such file", err.Error())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "timeout", Timeout.String())
	assert.Equal(t, "error 200", Code(200).String())
}
