package device

import (
	"fmt"

	"github.com/itohio/goowbus/pkg/dallas"
	"periph.io/x/conn/v3/onewire"
)

// SwitchBank is a DS2408 8 channel addressable switch. Inputs are the PIO
// logic levels; an output is activated when its latch bit is 0.
type SwitchBank struct {
	base
	inputs  uint8
	outputs uint8
}

var (
	_ Device  = (*SwitchBank)(nil)
	_ Outputs = (*SwitchBank)(nil)
)

// NewSwitchBank creates a switch bank at addr with all outputs released.
func NewSwitchBank(addr onewire.Address, env Env) *SwitchBank {
	s := &SwitchBank{outputs: 0xFF}
	s.init(addr, env)
	return s
}

func (s *SwitchBank) Channels() int { return dallas.SwitchChannels }

func validSwitchChannel(ch int) error {
	if ch < 0 || ch >= dallas.SwitchChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	return nil
}

// InputHigh reports the last read level of an input.
func (s *SwitchBank) InputHigh(ch int) bool {
	if validSwitchChannel(ch) != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputs&(1<<ch) != 0
}

// Inputs returns the last read input levels.
func (s *SwitchBank) Inputs() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputs
}

// OutputLatch returns the in-memory output latch.
func (s *SwitchBank) OutputLatch() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputs
}

func (s *SwitchBank) OutputActivated(ch int) bool {
	if validSwitchChannel(ch) != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputs&(1<<ch) == 0
}

// SetOutputActivated changes the in-memory latch; WriteConfiguration stores it.
func (s *SwitchBank) SetOutputActivated(ch int, active bool) error {
	if err := validSwitchChannel(ch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.outputs &^= 1 << ch
	} else {
		s.outputs |= 1 << ch
	}
	return nil
}

func (s *SwitchBank) ToggleOutput(ch int) error {
	return s.SetOutputActivated(ch, !s.OutputActivated(ch))
}

func (s *SwitchBank) ReadConfiguration() error {
	s.lock.Lock()
	v, err := s.t.ReadSwitchOutputs(s.addr)
	s.lock.Unlock()
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.outputs = v
	s.mu.Unlock()
	return nil
}

func (s *SwitchBank) WriteConfiguration() error {
	v := s.OutputLatch()
	s.lock.Lock()
	err := s.t.WriteSwitchOutputs(s.addr, v)
	s.lock.Unlock()
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// ReadState reads the inputs and reports every bit that changed.
func (s *SwitchBank) ReadState() error {
	s.lock.Lock()
	v, err := s.t.ReadSwitchInputs(s.addr)
	s.lock.Unlock()
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	old := s.inputs
	s.inputs = v
	s.mu.Unlock()

	var changes []Change
	for ch := 0; ch < dallas.SwitchChannels; ch++ {
		if (old^v)&(1<<ch) != 0 {
			changes = append(changes, s.change(ch, uint16(old>>ch&1), uint16(v>>ch&1)))
		}
	}
	s.notify(changes)
	return nil
}

func (s *SwitchBank) Snapshot() Snapshot {
	s.mu.RLock()
	in, out := s.inputs, s.outputs
	s.mu.RUnlock()
	snap := Snapshot{
		ID:       dallas.RomString(s.addr),
		Family:   s.Family().String(),
		Channels: make([]ChannelSnapshot, dallas.SwitchChannels),
	}
	for ch := range snap.Channels {
		high := in&(1<<ch) != 0
		active := out&(1<<ch) == 0
		v := 0.0
		if high {
			v = 1
		}
		snap.Channels[ch] = ChannelSnapshot{
			Channel: ch,
			Raw:     uint16(in >> ch & 1),
			Value:   v,
			Text:    LevelText(high),
			Output:  &active,
		}
	}
	return snap
}
