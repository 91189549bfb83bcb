package filter

// Chain is the per-channel filter chain: an integer Filter followed by a
// Quantizer in physical units. Both stages are seeded from the first sample
// they see after construction or a Reset.
type Chain struct {
	spec    Spec
	f       Filter
	q       *Quantizer
	seeded  bool
	qSeeded bool
}

// NewChain builds a chain with the integer filter described by spec and a
// quantizer with the given step.
func NewChain(spec Spec, step float64) (*Chain, error) {
	f, err := New(spec)
	if err != nil {
		return nil, err
	}
	return &Chain{spec: spec, f: f, q: NewQuantizer(step)}, nil
}

// Spec returns the integer filter description.
func (c *Chain) Spec() Spec {
	return c.spec
}

// SetSpec replaces the integer filter. The new filter starts unseeded.
func (c *Chain) SetSpec(spec Spec) error {
	f, err := New(spec)
	if err != nil {
		return err
	}
	c.spec = spec
	c.f = f
	c.seeded = false
	return nil
}

// Step returns the quantizer step.
func (c *Chain) Step() float64 {
	return c.q.Step()
}

// SetStep changes the quantizer step and reseeds it on the next value.
func (c *Chain) SetStep(step float64) {
	c.q.SetStep(step)
	c.qSeeded = false
}

// Reset discards the state of both stages.
func (c *Chain) Reset() {
	c.seeded = false
	c.qSeeded = false
}

// Filter runs one raw sample through the integer stage.
func (c *Chain) Filter(raw uint16) uint16 {
	if !c.seeded {
		c.f.Init(raw)
		c.seeded = true
	}
	return c.f.Filter(raw)
}

// Quantize runs one physical value through the quantizer.
func (c *Chain) Quantize(v float64) float64 {
	if !c.qSeeded {
		c.q.Init(v)
		c.qSeeded = true
	}
	return c.q.Filter(v)
}
