package dallas

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"periph.io/x/conn/v3/onewire"
)

// Op names a Sim transaction for failure injection and call counting.
type Op string

const (
	OpInit             Op = "init"
	OpSearch           Op = "search"
	OpConvert          Op = "convert"
	OpWait             Op = "wait"
	OpReadTemperature  Op = "read temperature"
	OpReadResolution   Op = "read resolution"
	OpWriteResolution  Op = "write resolution"
	OpReadInputs       Op = "read inputs"
	OpReadOutputs      Op = "read outputs"
	OpWriteOutputs     Op = "write outputs"
	OpReadAdcSettings  Op = "read adc settings"
	OpWriteAdcSettings Op = "write adc settings"
	OpReadAdcResults   Op = "read adc results"
)

// Signal produces a physical value (degrees C or volts) for the n-th conversion.
type Signal func(n int) float64

// Constant returns a Signal that always yields v.
func Constant(v float64) Signal {
	return func(int) float64 { return v }
}

type simDevice struct {
	addr onewire.Address

	temp       Signal
	resolution uint8
	tempRaw    uint16

	inputs func(n int) uint8
	latch  uint8
	reads  int

	adc         [AdcChannels]Signal
	adcSettings AdcSettings
	adcRaw      [AdcChannels]uint16

	conversions int
}

// Sim is an in-memory 1-Wire bus with scripted devices. Conversions latch the
// device signals, so results read after a failed conversion are the previous ones.
type Sim struct {
	mu       sync.Mutex
	devices  []*simDevice
	failures map[Op][]Code
	calls    map[Op]int
	open     bool
	port     string
}

var _ Transport = (*Sim)(nil)

// NewSim creates an empty simulated bus.
func NewSim() *Sim {
	return &Sim{
		failures: make(map[Op][]Code),
		calls:    make(map[Op]int),
	}
}

// AddThermometer attaches a DS18B20 reading temp.
func (s *Sim) AddThermometer(a onewire.Address, temp Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := uint8(12)
	if FamilyOf(a) == FamilyDS18S20 {
		res = 9
	}
	s.devices = append(s.devices, &simDevice{addr: a, temp: temp, resolution: res, tempRaw: 0x0550})
}

// AddSwitch attaches a DS2408 whose external inputs are driven by inputs.
// All outputs start released (latch 0xFF).
func (s *Sim) AddSwitch(a onewire.Address, inputs func(n int) uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, &simDevice{addr: a, inputs: inputs, latch: 0xFF})
}

// AddAdc attaches a DS2450 with one signal per channel, in volts.
func (s *Sim) AddAdc(a onewire.Address, ch [AdcChannels]Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &simDevice{addr: a, adc: ch}
	for i := range d.adcSettings.Resolution {
		d.adcSettings.Resolution[i] = 16
	}
	s.devices = append(s.devices, d)
}

// AddUnknown attaches a device of a family nobody handles.
func (s *Sim) AddUnknown(a onewire.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, &simDevice{addr: a})
}

// Remove detaches a device.
func (s *Sim) Remove(a onewire.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.devices {
		if d.addr == a {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			return
		}
	}
}

// FailNext makes the next call of op fail with code. Calls queue up.
func (s *Sim) FailNext(op Op, code Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], code)
}

// Calls returns how many times op was invoked.
func (s *Sim) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Conversions returns how many conversions a device has run.
func (s *Sim) Conversions(a onewire.Address) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.find(a); d != nil {
		return d.conversions
	}
	return 0
}

// Outputs returns the output latch of a switch, or the ADC output states.
func (s *Sim) Outputs(a onewire.Address) (uint8, [AdcChannels]Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.find(a); d != nil {
		return d.latch, d.adcSettings.Output
	}
	return 0, [AdcChannels]Output{}
}

func (s *Sim) find(a onewire.Address) *simDevice {
	for _, d := range s.devices {
		if d.addr == a {
			return d
		}
	}
	return nil
}

// begin counts the call and returns an injected or state failure.
func (s *Sim) begin(op Op, a onewire.Address) error {
	s.calls[op]++
	if q := s.failures[op]; len(q) > 0 {
		code := q[0]
		s.failures[op] = q[1:]
		return &Error{Op: string(op), Addr: a, Code: code}
	}
	if op != OpInit && !s.open {
		return &Error{Op: string(op), Addr: a, Code: NotInitialized}
	}
	return nil
}

func (s *Sim) device(op Op, a onewire.Address, f Family) (*simDevice, error) {
	if err := s.begin(op, a); err != nil {
		return nil, err
	}
	d := s.find(a)
	if d == nil {
		return nil, &Error{Op: string(op), Addr: a, Code: NotFound}
	}
	if FamilyOf(a) != f {
		return nil, &Error{Op: string(op), Addr: a, Code: Unsupported}
	}
	return d, nil
}

func (s *Sim) Init(port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpInit, AllDevices); err != nil {
		return err
	}
	s.open, s.port = true, port
	return nil
}

func (s *Sim) Deinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open, s.port = false, ""
	return nil
}

func (s *Sim) Search() ([]onewire.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpSearch, AllDevices); err != nil {
		return nil, err
	}
	addrs := make([]onewire.Address, 0, len(s.devices))
	for _, d := range s.devices {
		addrs = append(addrs, d.addr)
	}
	return addrs, nil
}

func (s *Sim) StartConversion(f Family, a onewire.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(OpConvert, a); err != nil {
		return err
	}
	if a != AllDevices {
		d := s.find(a)
		if d == nil || FamilyOf(a) != f {
			return &Error{Op: string(OpConvert), Addr: a, Code: NotFound}
		}
		d.convert()
		return nil
	}
	for _, d := range s.devices {
		if FamilyOf(d.addr) == f {
			d.convert()
		}
	}
	return nil
}

func (s *Sim) WaitUntilDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin(OpWait, AllDevices)
}

func (d *simDevice) convert() {
	n := d.conversions
	d.conversions++
	switch FamilyOf(d.addr) {
	case FamilyDS18B20, FamilyDS18S20:
		raw := uint16(int16(math.Round(d.temp(n) * 16)))
		d.tempRaw = raw &^ (1<<(12-d.resolution) - 1)
	case FamilyDS2450:
		for ch, sig := range d.adc {
			if sig == nil {
				continue
			}
			full := float64(d.adcSettings.Range[ch].MilliVolts()) / 1000
			v := math.Round(sig(n) / full * 65536)
			v = math.Max(0, math.Min(v, 65535))
			res := d.adcSettings.Resolution[ch]
			d.adcRaw[ch] = uint16(v) &^ (1<<(16-res) - 1)
		}
	}
}

func (s *Sim) ReadTemperature(a onewire.Address) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.thermometer(OpReadTemperature, a)
	if err != nil {
		return 0, err
	}
	return d.tempRaw, nil
}

func (s *Sim) thermometer(op Op, a onewire.Address) (*simDevice, error) {
	if FamilyOf(a) == FamilyDS18S20 {
		return s.device(op, a, FamilyDS18S20)
	}
	return s.device(op, a, FamilyDS18B20)
}

func (s *Sim) ReadThermometerResolution(a onewire.Address) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.thermometer(OpReadResolution, a)
	if err != nil {
		return 0, err
	}
	return d.resolution, nil
}

func (s *Sim) WriteThermometerResolution(a onewire.Address, bits uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.thermometer(OpWriteResolution, a)
	if err != nil {
		return err
	}
	if bits < 9 || bits > 12 || FamilyOf(a) == FamilyDS18S20 {
		return &Error{Op: string(OpWriteResolution), Addr: a, Code: Unsupported, Err: fmt.Errorf("%d bits", bits)}
	}
	d.resolution = bits
	return nil
}

func (s *Sim) ReadSwitchInputs(a onewire.Address) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(OpReadInputs, a, FamilyDS2408)
	if err != nil {
		return 0, err
	}
	in := uint8(0xFF)
	if d.inputs != nil {
		in = d.inputs(d.reads)
	}
	d.reads++
	// a conducting output pulls its line low
	return in & d.latch, nil
}

func (s *Sim) ReadSwitchOutputs(a onewire.Address) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(OpReadOutputs, a, FamilyDS2408)
	if err != nil {
		return 0, err
	}
	return d.latch, nil
}

func (s *Sim) WriteSwitchOutputs(a onewire.Address, v uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(OpWriteOutputs, a, FamilyDS2408)
	if err != nil {
		return err
	}
	d.latch = v
	return nil
}

func (s *Sim) ReadAdcSettings(a onewire.Address) (AdcSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(OpReadAdcSettings, a, FamilyDS2450)
	if err != nil {
		return AdcSettings{}, err
	}
	return d.adcSettings, nil
}

func (s *Sim) WriteAdcSettings(a onewire.Address, settings AdcSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(OpWriteAdcSettings, a, FamilyDS2450)
	if err != nil {
		return err
	}
	for ch, res := range settings.Resolution {
		if res < 1 || res > 16 {
			return &Error{Op: string(OpWriteAdcSettings), Addr: a, Code: Unsupported, Err: fmt.Errorf("channel %d resolution %d", ch, res)}
		}
	}
	d.adcSettings = settings
	return nil
}

func (s *Sim) ReadAdcResults(a onewire.Address) ([AdcChannels]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(OpReadAdcResults, a, FamilyDS2450)
	if err != nil {
		return [AdcChannels]uint16{}, err
	}
	return d.adcRaw, nil
}

// Noisy adds uniform noise of the given amplitude to a signal.
func Noisy(sig Signal, amplitude float64, seed int64) Signal {
	rng := rand.New(rand.NewSource(seed))
	return func(n int) float64 {
		return sig(n) + (rng.Float64()*2-1)*amplitude
	}
}

// Sine is a slow sine wave around offset with the given period in conversions.
func Sine(offset, amplitude float64, period int) Signal {
	return func(n int) float64 {
		return offset + amplitude*math.Sin(2*math.Pi*float64(n)/float64(period))
	}
}

// Demo builds a bus with the given number of each device, driven by noisy
// sine waves. Serials are deterministic.
func Demo(thermometers, switches, adcs int, noise float64) *Sim {
	s := NewSim()
	serial := uint64(1)
	for i := 0; i < thermometers; i++ {
		s.AddThermometer(MakeRom(FamilyDS18B20, serial), Noisy(Sine(22+float64(i), 3, 600), 0.05, int64(serial)))
		serial++
	}
	for i := 0; i < switches; i++ {
		period := 40 + 10*i
		s.AddSwitch(MakeRom(FamilyDS2408, serial), func(n int) uint8 {
			return ^uint8(1 << ((n / period) % SwitchChannels))
		})
		serial++
	}
	for i := 0; i < adcs; i++ {
		var ch [AdcChannels]Signal
		for c := range ch {
			ch[c] = Noisy(Sine(1.2, 0.8, 200+50*c), noise, int64(serial)*10+int64(c))
		}
		s.AddAdc(MakeRom(FamilyDS2450, serial), ch)
		serial++
	}
	return s
}
