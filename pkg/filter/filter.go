package filter

import (
	"fmt"
	"slices"
	"sort"
)

// Filter is a single-input single-output filter over unsigned 16-bit samples.
// Calls against one instance must be sequential.
type Filter interface {
	// Init resets the internal state as if seed had been observed forever.
	Init(seed uint16)
	// Filter consumes one raw sample and returns one filtered sample.
	Filter(x uint16) uint16
}

var (
	_ Filter = Passthrough{}
	_ Filter = (*MovingAverage)(nil)
	_ Filter = (*LowPass)(nil)
	_ Filter = (*Median)(nil)
	_ Filter = (*MedianLowPass)(nil)
	_ Filter = (*Hysteresis)(nil)
	_ Filter = (*Combined)(nil)
)

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Init(uint16) {}

func (Passthrough) Filter(x uint16) uint16 { return x }

// MovingAverage is the boxcar average of the last 2^logSize samples.
type MovingAverage struct {
	x       *Window[uint16]
	sum     uint32
	logSize uint
}

// NewMovingAverage creates a moving average over 2^logSize samples.
func NewMovingAverage(logSize uint) *MovingAverage {
	if logSize > 15 {
		logSize = 15
	}
	return &MovingAverage{
		x:       NewWindow[uint16](1 << logSize),
		logSize: logSize,
	}
}

func (f *MovingAverage) Init(seed uint16) {
	f.sum = uint32(seed) << f.logSize
	f.x.Fill(seed)
}

func (f *MovingAverage) Filter(x uint16) uint16 {
	f.sum += uint32(x) - uint32(f.x.Oldest())
	f.x.Push(x)
	return uint16(f.sum >> f.logSize)
}

// LowPass is a first-order RC low-pass filter with tau = 2^logK samples.
// It keeps k*y instead of y so that rounding errors do not accumulate.
type LowPass struct {
	ky   uint32
	logK uint
}

// NewLowPass creates a low-pass filter with time constant 2^logK samples.
func NewLowPass(logK uint) *LowPass {
	if logK > 16 {
		logK = 16
	}
	return &LowPass{logK: logK}
}

func (f *LowPass) Init(seed uint16) {
	f.ky = uint32(seed) << f.logK
}

func (f *LowPass) Filter(x uint16) uint16 {
	// k*y(n) = k*y(n-1) + x(n) - y(n-1)
	f.ky += uint32(x) - (f.ky >> f.logK)
	return uint16(f.ky >> f.logK)
}

// Median returns the median of the last size samples.
type Median struct {
	x       *Window[uint16]
	ordered []uint16
}

// NewMedian creates a median filter over size samples.
func NewMedian(size int) *Median {
	if size < 1 {
		size = 1
	}
	return &Median{
		x:       NewWindow[uint16](size),
		ordered: make([]uint16, size),
	}
}

func (f *Median) Init(seed uint16) {
	f.x.Fill(seed)
	for i := range f.ordered {
		f.ordered[i] = seed
	}
}

func (f *Median) Filter(x uint16) uint16 {
	old := f.x.Oldest()
	i := upperBound(f.ordered, old) - 1
	f.ordered = slices.Delete(f.ordered, i, i+1)
	f.ordered = slices.Insert(f.ordered, upperBound(f.ordered, x), x)
	f.x.Push(x)
	return f.ordered[len(f.ordered)>>1]
}

func upperBound(s []uint16, v uint16) int {
	return sort.Search(len(s), func(i int) bool { return s[i] > v })
}

const (
	adaptiveDifWindow        = 8
	adaptiveMinLogK          = 2
	adaptiveMaxLogK          = 8
	smallStepsToDecreaseLogK = 3
)

// MedianLowPass combines a median pre-filter with a low-pass filter whose
// time constant adapts to the signal. Deltas larger than 2^noiseBits are
// treated as real transitions and tracked at once; smaller ones are noise
// and get smoothed harder the more they oscillate.
type MedianLowPass struct {
	noiseBits uint
	ky        int32 // y scaled by 2^adaptiveMaxLogK
	logK      uint
	steps     int
	difSum    int32
	dif       *Window[int32]
	median    *Median
}

// NewMedianLowPass creates an adaptive filter with a median window of
// medianSize samples and a noise band of 2^noiseBits.
func NewMedianLowPass(medianSize int, noiseBits uint) *MedianLowPass {
	if noiseBits > 15 {
		noiseBits = 15
	}
	return &MedianLowPass{
		noiseBits: noiseBits,
		logK:      adaptiveMinLogK,
		dif:       NewWindow[int32](adaptiveDifWindow),
		median:    NewMedian(medianSize),
	}
}

// LogK returns the current smoothing rate.
func (f *MedianLowPass) LogK() uint {
	return f.logK
}

func (f *MedianLowPass) Init(seed uint16) {
	f.ky = int32(seed) << adaptiveMaxLogK
	f.logK = adaptiveMinLogK
	f.steps = 0
	f.difSum = 0
	f.dif.Fill(0)
	f.median.Init(seed)
}

func (f *MedianLowPass) Filter(x uint16) uint16 {
	u := int32(f.median.Filter(x)) << adaptiveMaxLogK
	cur := int32(x)<<adaptiveMaxLogK - f.ky
	shift := adaptiveMaxLogK + f.noiseBits

	if abs32(cur)>>shift != 0 {
		if abs32(u-f.ky)>>shift != 0 {
			f.ky = u
		}
		f.logK = adaptiveMinLogK
		f.steps = 0
		return uint16(f.ky >> adaptiveMaxLogK)
	}

	if f.difSum <= 0 && cur >= 0 || f.difSum >= 0 && cur <= 0 {
		if f.logK < adaptiveMaxLogK {
			f.steps = 0
			f.logK++
		}
	} else if f.steps == smallStepsToDecreaseLogK {
		if f.logK > adaptiveMinLogK {
			f.steps = 0
			f.logK--
		}
	}
	if f.steps < smallStepsToDecreaseLogK {
		f.steps++
	}

	f.ky += cur >> f.logK
	f.difSum += cur - f.dif.Oldest()
	f.dif.Push(cur)
	return uint16(f.ky >> adaptiveMaxLogK)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Hysteresis holds its output until the input moves by 2^noiseBits or more,
// then snaps to the input rounded to a multiple of 2^noiseBits.
type Hysteresis struct {
	noiseBits uint
	increment uint32
	mask      uint16
	y         uint16
}

// NewHysteresis creates a hysteresis filter; noiseBits must be in [1, 15].
func NewHysteresis(noiseBits uint) *Hysteresis {
	if noiseBits < 1 {
		noiseBits = 1
	} else if noiseBits > 15 {
		noiseBits = 15
	}
	return &Hysteresis{
		noiseBits: noiseBits,
		increment: 1 << (noiseBits - 1),
		mask:      0xFFFF >> noiseBits << noiseBits,
	}
}

func (f *Hysteresis) Init(seed uint16) {
	f.y = seed
}

func (f *Hysteresis) Filter(x uint16) uint16 {
	d := f.y - x
	if x > f.y {
		d = x - f.y
	}
	if d>>f.noiseBits != 0 {
		r := uint32(x) + f.increment
		if r > 0xFFFF {
			r = 0xFFFF
		}
		f.y = uint16(r) & f.mask
	}
	return f.y
}

// Combined feeds the output of Pre into Post.
type Combined struct {
	Pre, Post Filter
}

func (f *Combined) Init(seed uint16) {
	f.Pre.Init(seed)
	f.Post.Init(seed)
}

func (f *Combined) Filter(x uint16) uint16 {
	return f.Post.Filter(f.Pre.Filter(x))
}

// Kind names a filter variant in configuration.
type Kind string

const (
	KindNone       Kind = "none"
	KindAverage    Kind = "average"
	KindLowPass    Kind = "lowpass"
	KindMedian     Kind = "median"
	KindAdaptive   Kind = "adaptive"
	KindHysteresis Kind = "hysteresis"
)

// Spec describes a filter variant and its parameters.
type Spec struct {
	Kind         Kind `yaml:"type" json:"type"`
	LogWindow    uint `yaml:"log_window" json:"log_window"`       // average, lowpass
	MedianWindow int  `yaml:"median_window" json:"median_window"` // median, adaptive
	NoiseBits    uint `yaml:"noise_bits" json:"noise_bits"`       // adaptive, hysteresis
}

// DefaultSpec is the adaptive median/low-pass filter tuned for 16-bit
// left-aligned converter results.
var DefaultSpec = Spec{
	Kind:         KindAdaptive,
	LogWindow:    3,
	MedianWindow: 5,
	NoiseBits:    6,
}

// New builds the filter described by s.
func New(s Spec) (Filter, error) {
	switch s.Kind {
	case KindNone, "":
		return Passthrough{}, nil
	case KindAverage:
		return NewMovingAverage(s.LogWindow), nil
	case KindLowPass:
		return NewLowPass(s.LogWindow), nil
	case KindMedian:
		if s.MedianWindow < 1 {
			return nil, fmt.Errorf("median window must be positive, got %d", s.MedianWindow)
		}
		return NewMedian(s.MedianWindow), nil
	case KindAdaptive:
		if s.MedianWindow < 1 {
			return nil, fmt.Errorf("median window must be positive, got %d", s.MedianWindow)
		}
		return NewMedianLowPass(s.MedianWindow, s.NoiseBits), nil
	case KindHysteresis:
		if s.NoiseBits < 1 {
			return nil, fmt.Errorf("hysteresis needs at least one noise bit")
		}
		return NewHysteresis(s.NoiseBits), nil
	default:
		return nil, fmt.Errorf("unknown filter type %q", s.Kind)
	}
}
