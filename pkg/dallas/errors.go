package dallas

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/onewire"
)

// Code is the outcome of a bus transaction.
type Code uint8

const (
	NoError Code = iota
	PortFailure
	NotInitialized
	NotFound
	Shorted
	Timeout
	CRC
	Busy
	BadResponse
	Unsupported
)

var codeText = [...]string{
	NoError:        "no error",
	PortFailure:    "cannot open port",
	NotInitialized: "bus not initialized",
	NotFound:       "device not found",
	Shorted:        "bus shorted",
	Timeout:        "timeout",
	CRC:            "CRC error",
	Busy:           "bus busy",
	BadResponse:    "bad response",
	Unsupported:    "unsupported operation",
}

func (c Code) String() string {
	if int(c) < len(codeText) {
		return codeText[c]
	}
	return fmt.Sprintf("error %d", uint8(c))
}

// Error is a failed bus transaction.
type Error struct {
	Op   string
	Addr onewire.Address
	Code Code
	Err  error
}

func (e *Error) Error() string {
	msg := "dallas: " + e.Op
	if e.Addr != AllDevices {
		msg += " " + RomString(e.Addr)
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so errors.Is(err,
// &Error{Code: CRC}) tests for a CRC failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Code == e.Code
}

// CodeOf extracts the transaction code from err.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return BadResponse
}

// classify maps adapter errors onto codes.
func classify(err error) Code {
	var nd onewire.NoDevicesError
	if errors.As(err, &nd) && nd.NoDevices() {
		return NotFound
	}
	var sh onewire.ShortedBusError
	if errors.As(err, &sh) && sh.IsShorted() {
		return Shorted
	}
	var to interface{ Timeout() bool }
	if errors.As(err, &to) && to.Timeout() {
		return Timeout
	}
	return BadResponse
}

func wrap(op string, a onewire.Address, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Addr: a, Code: classify(err), Err: err}
}
