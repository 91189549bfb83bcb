package filter

import "math"

// Quantizer is a hysteresis filter in physical units. The output moves only
// when the input drifts more than one step away from it, and then snaps to the
// nearest multiple of the step. A step <= 0 disables it.
type Quantizer struct {
	step float64
	y    float64
}

// NewQuantizer creates a quantizer with the given step.
func NewQuantizer(step float64) *Quantizer {
	return &Quantizer{step: step}
}

// Step returns the quantization step.
func (q *Quantizer) Step() float64 {
	return q.step
}

// SetStep changes the quantization step; the held output is kept.
func (q *Quantizer) SetStep(step float64) {
	q.step = step
}

// Init seeds the held output with v rounded to the step.
func (q *Quantizer) Init(v float64) {
	q.y = q.round(v)
}

// Filter returns the quantized value for v.
func (q *Quantizer) Filter(v float64) float64 {
	if q.step <= 0 {
		q.y = v
	} else if math.Abs(q.y-v) > q.step {
		q.y = q.round(v)
	}
	return q.y
}

func (q *Quantizer) round(v float64) float64 {
	if q.step <= 0 {
		return v
	}
	return math.Floor(v/q.step+0.5) * q.step
}
