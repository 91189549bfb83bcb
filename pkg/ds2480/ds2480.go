// Package ds2480 drives a DS2480B serial 1-Wire line driver.
package ds2480

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/onewire"
)

const (
	// DefaultBaudRate is the DS2480B power-on rate.
	DefaultBaudRate = 9600
	// DefaultTimeout bounds a single response read.
	DefaultTimeout = 100 * time.Millisecond

	breakDuration = 2 * time.Millisecond
)

// Commands in command mode.
const (
	modeData    = 0xE1
	modeCommand = 0xE3
	cmdReset    = 0xC1
	cmdPulse    = 0xED
	cmdBit      = 0x81
)

// Flexible speed configuration: slew rate 1.37V/us, write-1 low time 10us,
// data sample offset 8us, then a bit read to sync.
var configSequence = []byte{0x17, 0x45, 0x5B, 0x0F, 0x91}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

type timeoutError struct{}

func (timeoutError) Error() string { return "ds2480: response timeout" }
func (timeoutError) Timeout() bool { return true }

type busError struct {
	msg     string
	shorted bool
	none    bool
}

func (e busError) Error() string   { return "ds2480: " + e.msg }
func (e busError) IsShorted() bool { return e.shorted }
func (e busError) NoDevices() bool { return e.none }
func (e busError) BusError() bool  { return true }

// Adapter is a DS2480B bus master. It implements onewire.BusSearcher.
type Adapter struct {
	mu   sync.Mutex
	rw   io.ReadWriter
	name string
	data bool
}

var _ onewire.BusSearcher = (*Adapter)(nil)

// Open opens a serial port, resets the DS2480B and configures it.
func Open(name string) (*Adapter, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := p.SetReadTimeout(DefaultTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	// master reset
	if err := p.Break(breakDuration); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to reset %s: %w", name, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", name, err)
	}
	a, err := New(name, p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return a, nil
}

// New configures a DS2480B reachable through rw. The chip must be freshly
// reset; the first byte sent calibrates its baud rate detection.
func New(name string, rw io.ReadWriter) (*Adapter, error) {
	a := &Adapter{rw: rw, name: name}
	if _, err := rw.Write([]byte{cmdReset}); err != nil {
		return nil, fmt.Errorf("failed to calibrate %s: %w", name, err)
	}
	resp, err := a.exchange(configSequence, len(configSequence))
	if err != nil {
		return nil, fmt.Errorf("failed to configure %s: %w", name, err)
	}
	for i := 0; i < 3; i++ {
		if resp[i] != configSequence[i]&^1 {
			return nil, fmt.Errorf("failed to configure %s: parameter 0x%02x answered 0x%02x", name, configSequence[i], resp[i])
		}
	}
	if resp[4]&0xFC != configSequence[4]&0xFC {
		return nil, fmt.Errorf("failed to configure %s: bit answered 0x%02x", name, resp[4])
	}
	return a, nil
}

func (a *Adapter) String() string {
	return "DS2480B(" + a.name + ")"
}

// Close closes the underlying port if it can be closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Tx resets the bus, writes w, reads len(r) bytes and optionally applies a
// strong pullup pulse.
func (a *Adapter) Tx(w, r []byte, power onewire.Pullup) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.reset(); err != nil {
		return err
	}
	if len(w)+len(r) > 0 {
		out := make([]byte, 0, 1+2*(len(w)+len(r)))
		out = append(out, modeData)
		for _, b := range w {
			out = append(out, b)
			if b == modeCommand {
				out = append(out, b)
			}
		}
		for range r {
			out = append(out, 0xFF)
		}
		a.data = true
		resp, err := a.exchange(out, len(w)+len(r))
		if err != nil {
			return err
		}
		copy(r, resp[len(w):])
	}
	if power == onewire.StrongPullup {
		if _, err := a.command(cmdPulse); err != nil {
			return err
		}
	}
	return nil
}

// Search enumerates devices using the triplet primitive.
func (a *Adapter) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(a, alarmOnly)
}

// SearchTriplet reads an id bit and its complement and writes the chosen
// direction.
func (a *Adapter) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var res onewire.TripletResult
	b1, err := a.bit(1)
	if err != nil {
		return res, err
	}
	b2, err := a.bit(1)
	if err != nil {
		return res, err
	}
	res.GotZero = b1 == 0
	res.GotOne = b2 == 0
	switch {
	case res.GotZero && !res.GotOne:
		res.Taken = 0
	case res.GotOne && !res.GotZero:
		res.Taken = 1
	default:
		res.Taken = direction & 1
	}
	if _, err := a.bit(res.Taken); err != nil {
		return res, err
	}
	return res, nil
}

func (a *Adapter) reset() error {
	resp, err := a.command(cmdReset)
	if err != nil {
		return err
	}
	switch resp & 0x03 {
	case 0:
		return busError{msg: "bus shorted", shorted: true}
	case 3:
		return busError{msg: "no presence pulse", none: true}
	}
	return nil
}

func (a *Adapter) bit(v byte) (byte, error) {
	resp, err := a.command(cmdBit | (v&1)<<4)
	if err != nil {
		return 0, err
	}
	return resp & 1, nil
}

// command sends one command-mode byte and returns its response.
func (a *Adapter) command(cmd byte) (byte, error) {
	out := []byte{cmd}
	if a.data {
		out = []byte{modeCommand, cmd}
		a.data = false
	}
	resp, err := a.exchange(out, 1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

func (a *Adapter) exchange(out []byte, n int) ([]byte, error) {
	if _, err := a.rw.Write(out); err != nil {
		return nil, fmt.Errorf("ds2480: write: %w", err)
	}
	resp := make([]byte, n)
	for got := 0; got < n; {
		m, err := a.rw.Read(resp[got:])
		if err != nil {
			return nil, fmt.Errorf("ds2480: read: %w", err)
		}
		if m == 0 {
			return nil, timeoutError{}
		}
		got += m
	}
	return resp, nil
}
