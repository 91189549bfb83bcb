package dallas

import (
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/onewire"
)

// ROM and function commands.
const (
	cmdSkipRom = 0xCC

	cmdConvertT        = 0x44
	cmdReadScratchpad  = 0xBE
	cmdWriteScratchpad = 0x4E
	cmdCopyScratchpad  = 0x48

	cmdReadPIO      = 0xF0
	cmdChannelWrite = 0x5A
	pioConfirm      = 0xAA

	cmdReadMemory  = 0xAA
	cmdWriteMemory = 0x55
	cmdConvert     = 0x3C
)

const (
	thermoNoAlarmHigh = 0x7F
	thermoNoAlarmLow  = 0x80
	eepromWriteTime   = 10 * time.Millisecond

	adcResultsPage = 0x00
	adcControlPage = 0x08
	adcAllChannels = 0x0F
)

// Opener opens the adapter behind a port name.
type Opener func(port string) (onewire.Bus, io.Closer, error)

// Option configures a Dallas transport.
type Option func(*Dallas)

// WithClock sets the clock used for conversion waits.
func WithClock(c clock.Clock) Option {
	return func(d *Dallas) { d.clk = c }
}

// WithThermometerConversion overrides the temperature conversion time of
// broadcast conversions and of devices whose resolution was never read.
func WithThermometerConversion(t time.Duration) Option {
	return func(d *Dallas) { d.thermoTime = t }
}

// Dallas is a Transport on top of a periph 1-Wire bus adapter.
type Dallas struct {
	open       Opener
	clk        clock.Clock
	thermoTime time.Duration

	bus       onewire.Bus
	closer    io.Closer
	port      string
	done      time.Time
	adcRes    map[onewire.Address][AdcChannels]uint8
	thermoRes map[onewire.Address]uint8
}

// New creates a transport that opens its adapter with open.
func New(open Opener, opts ...Option) *Dallas {
	d := &Dallas{
		open:       open,
		clk:        clock.New(),
		thermoTime: ThermometerConversionTime(12),
		adcRes:     make(map[onewire.Address][AdcChannels]uint8),
		thermoRes:  make(map[onewire.Address]uint8),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Port returns the port of the open adapter.
func (d *Dallas) Port() string {
	return d.port
}

func (d *Dallas) Init(port string) error {
	if d.bus != nil {
		if err := d.Deinit(); err != nil {
			return err
		}
	}
	bus, closer, err := d.open(port)
	if err != nil {
		return &Error{Op: "init", Code: PortFailure, Err: err}
	}
	d.bus, d.closer, d.port = bus, closer, port
	return nil
}

func (d *Dallas) Deinit() error {
	if d.bus == nil {
		return nil
	}
	var err error
	if d.closer != nil {
		err = d.closer.Close()
	}
	d.bus, d.closer, d.port = nil, nil, ""
	d.done = time.Time{}
	if err != nil {
		return &Error{Op: "deinit", Code: PortFailure, Err: err}
	}
	return nil
}

func (d *Dallas) Search() ([]onewire.Address, error) {
	if d.bus == nil {
		return nil, &Error{Op: "search", Code: NotInitialized}
	}
	addrs, err := d.bus.Search(false)
	if err != nil {
		return nil, wrap("search", AllDevices, err)
	}
	for _, a := range addrs {
		var b [8]byte
		for i := range b {
			b[i] = byte(a >> (8 * i))
		}
		if !onewire.CheckCRC(b[:]) {
			return addrs, &Error{Op: "search", Addr: a, Code: CRC}
		}
	}
	return addrs, nil
}

func (d *Dallas) StartConversion(f Family, a onewire.Address) error {
	if d.bus == nil {
		return &Error{Op: "convert", Addr: a, Code: NotInitialized}
	}
	switch f {
	case FamilyDS18B20, FamilyDS18S20:
		if err := d.tx(a, []byte{cmdConvertT}, nil, onewire.StrongPullup); err != nil {
			return wrap("convert", a, err)
		}
		d.done = d.clk.Now().Add(d.thermometerConversionTime(a))
	case FamilyDS2450:
		w := []byte{cmdConvert, adcAllChannels, 0x00}
		r := make([]byte, 2)
		if err := d.tx(a, w, r, onewire.StrongPullup); err != nil {
			return wrap("convert", a, err)
		}
		if !checkCRC16(crc16(w), r[0], r[1]) {
			return &Error{Op: "convert", Addr: a, Code: CRC}
		}
		d.done = d.clk.Now().Add(d.adcConversionTime(a))
	default:
		return &Error{Op: "convert", Addr: a, Code: Unsupported, Err: fmt.Errorf("family %v", f)}
	}
	return nil
}

func (d *Dallas) WaitUntilDone() error {
	if d.bus == nil {
		return &Error{Op: "wait", Code: NotInitialized}
	}
	if left := d.done.Sub(d.clk.Now()); left > 0 {
		d.clk.Sleep(left)
	}
	d.done = time.Time{}
	return nil
}

func (d *Dallas) thermometerConversionTime(a onewire.Address) time.Duration {
	if a != AllDevices {
		if res, ok := d.thermoRes[a]; ok {
			return ThermometerConversionTime(res)
		}
	}
	return d.thermoTime
}

func (d *Dallas) adcConversionTime(a onewire.Address) time.Duration {
	if a != AllDevices {
		if res, ok := d.adcRes[a]; ok {
			return AdcConversionTime(res)
		}
	}
	return AdcConversionTime([AdcChannels]uint8{})
}

// tx runs a transaction on one device, or on all devices when a is AllDevices.
func (d *Dallas) tx(a onewire.Address, w, r []byte, pull onewire.Pullup) error {
	if a == AllDevices {
		return d.bus.Tx(append([]byte{cmdSkipRom}, w...), r, pull)
	}
	dev := onewire.Dev{Bus: d.bus, Addr: a}
	if pull == onewire.StrongPullup {
		return dev.TxPower(w, r)
	}
	return dev.Tx(w, r)
}

func (d *Dallas) scratchpad(op string, a onewire.Address) ([]byte, error) {
	if d.bus == nil {
		return nil, &Error{Op: op, Addr: a, Code: NotInitialized}
	}
	buf := make([]byte, 9)
	if err := d.tx(a, []byte{cmdReadScratchpad}, buf, onewire.WeakPullup); err != nil {
		return nil, wrap(op, a, err)
	}
	if !onewire.CheckCRC(buf) {
		return nil, &Error{Op: op, Addr: a, Code: CRC}
	}
	return buf, nil
}

func (d *Dallas) ReadTemperature(a onewire.Address) (uint16, error) {
	buf, err := d.scratchpad("read temperature", a)
	if err != nil {
		return 0, err
	}
	raw := uint16(buf[0]) | uint16(buf[1])<<8
	if FamilyOf(a) == FamilyDS18S20 {
		// half degree steps; rescale to 1/16 degree
		raw <<= 3
	}
	return raw, nil
}

func (d *Dallas) ReadThermometerResolution(a onewire.Address) (uint8, error) {
	if FamilyOf(a) == FamilyDS18S20 {
		return 9, nil
	}
	buf, err := d.scratchpad("read resolution", a)
	if err != nil {
		return 0, err
	}
	res := (buf[4]>>5)&3 + 9
	d.thermoRes[a] = res
	return res, nil
}

func (d *Dallas) WriteThermometerResolution(a onewire.Address, bits uint8) error {
	if bits < 9 || bits > 12 || FamilyOf(a) == FamilyDS18S20 {
		return &Error{Op: "write resolution", Addr: a, Code: Unsupported, Err: fmt.Errorf("%d bits", bits)}
	}
	if d.bus == nil {
		return &Error{Op: "write resolution", Addr: a, Code: NotInitialized}
	}
	cfg := (bits-9)<<5 | 0x1F
	if err := d.tx(a, []byte{cmdWriteScratchpad, thermoNoAlarmHigh, thermoNoAlarmLow, cfg}, nil, onewire.WeakPullup); err != nil {
		return wrap("write resolution", a, err)
	}
	if err := d.tx(a, []byte{cmdCopyScratchpad}, nil, onewire.StrongPullup); err != nil {
		return wrap("write resolution", a, err)
	}
	d.clk.Sleep(eepromWriteTime)
	d.thermoRes[a] = bits
	return nil
}

// pio reads the PIO logic state and output latch registers.
func (d *Dallas) pio(op string, a onewire.Address) (state, latch uint8, err error) {
	if d.bus == nil {
		return 0, 0, &Error{Op: op, Addr: a, Code: NotInitialized}
	}
	w := []byte{cmdReadPIO, 0x88, 0x00}
	r := make([]byte, 10)
	if err := d.tx(a, w, r, onewire.WeakPullup); err != nil {
		return 0, 0, wrap(op, a, err)
	}
	if !checkCRC16(crc16(w, r[:8]), r[8], r[9]) {
		return 0, 0, &Error{Op: op, Addr: a, Code: CRC}
	}
	return r[0], r[1], nil
}

func (d *Dallas) ReadSwitchInputs(a onewire.Address) (uint8, error) {
	state, _, err := d.pio("read inputs", a)
	return state, err
}

func (d *Dallas) ReadSwitchOutputs(a onewire.Address) (uint8, error) {
	_, latch, err := d.pio("read outputs", a)
	return latch, err
}

func (d *Dallas) WriteSwitchOutputs(a onewire.Address, v uint8) error {
	if d.bus == nil {
		return &Error{Op: "write outputs", Addr: a, Code: NotInitialized}
	}
	r := make([]byte, 2)
	if err := d.tx(a, []byte{cmdChannelWrite, v, ^v}, r, onewire.WeakPullup); err != nil {
		return wrap("write outputs", a, err)
	}
	if r[0] != pioConfirm {
		return &Error{Op: "write outputs", Addr: a, Code: BadResponse, Err: fmt.Errorf("confirmation 0x%02x", r[0])}
	}
	return nil
}

func (d *Dallas) readPage(op string, a onewire.Address, addr uint8) ([]byte, error) {
	if d.bus == nil {
		return nil, &Error{Op: op, Addr: a, Code: NotInitialized}
	}
	w := []byte{cmdReadMemory, addr, 0x00}
	r := make([]byte, 10)
	if err := d.tx(a, w, r, onewire.WeakPullup); err != nil {
		return nil, wrap(op, a, err)
	}
	if !checkCRC16(crc16(w, r[:8]), r[8], r[9]) {
		return nil, &Error{Op: op, Addr: a, Code: CRC}
	}
	return r[:8], nil
}

func (d *Dallas) ReadAdcSettings(a onewire.Address) (AdcSettings, error) {
	var s AdcSettings
	page, err := d.readPage("read adc settings", a, adcControlPage)
	if err != nil {
		return s, err
	}
	for ch := 0; ch < AdcChannels; ch++ {
		b0, b1 := page[2*ch], page[2*ch+1]
		s.Resolution[ch] = b0 & 0x0F
		if s.Resolution[ch] == 0 {
			s.Resolution[ch] = 16
		}
		switch {
		case b0&0x80 == 0:
			s.Output[ch] = OutputOff
		case b0&0x40 == 0:
			s.Output[ch] = OutputLow
		default:
			s.Output[ch] = OutputHigh
		}
		s.Range[ch] = Range(b1 & 0x01)
	}
	d.adcRes[a] = s.Resolution
	return s, nil
}

func encodeAdcSettings(s AdcSettings) []byte {
	page := make([]byte, 8)
	for ch := 0; ch < AdcChannels; ch++ {
		b0 := s.Resolution[ch] & 0x0F
		switch s.Output[ch] {
		case OutputLow:
			b0 |= 0x80
		case OutputHigh:
			b0 |= 0xC0
		}
		page[2*ch] = b0
		page[2*ch+1] = byte(s.Range[ch] & 0x01)
	}
	return page
}

func (d *Dallas) WriteAdcSettings(a onewire.Address, s AdcSettings) error {
	if d.bus == nil {
		return &Error{Op: "write adc settings", Addr: a, Code: NotInitialized}
	}
	for ch, res := range s.Resolution {
		if res < 1 || res > 16 {
			return &Error{Op: "write adc settings", Addr: a, Code: Unsupported, Err: fmt.Errorf("channel %d resolution %d", ch, res)}
		}
	}
	for i, b := range encodeAdcSettings(s) {
		w := []byte{cmdWriteMemory, adcControlPage + uint8(i), 0x00, b}
		r := make([]byte, 3)
		if err := d.tx(a, w, r, onewire.WeakPullup); err != nil {
			return wrap("write adc settings", a, err)
		}
		if !checkCRC16(crc16(w), r[0], r[1]) {
			return &Error{Op: "write adc settings", Addr: a, Code: CRC}
		}
		if r[2] != b {
			return &Error{Op: "write adc settings", Addr: a, Code: BadResponse, Err: fmt.Errorf("readback 0x%02x, want 0x%02x", r[2], b)}
		}
	}
	d.adcRes[a] = s.Resolution
	return nil
}

func (d *Dallas) ReadAdcResults(a onewire.Address) ([AdcChannels]uint16, error) {
	var v [AdcChannels]uint16
	page, err := d.readPage("read adc results", a, adcResultsPage)
	if err != nil {
		return v, err
	}
	for ch := range v {
		v[ch] = uint16(page[2*ch]) | uint16(page[2*ch+1])<<8
	}
	return v, nil
}
