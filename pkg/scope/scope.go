// Package scope draws channel trends in an oscilloscope-style Fyne widget.
package scope

import (
	"image/color"
	"math"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/chewxy/math32"

	"github.com/itohio/goowbus/pkg/history"
)

// maxDisplayPoints limits the points drawn per trace.
const maxDisplayPoints = 1000

// trace is one downsampled series ready for drawing.
type trace struct {
	key    history.Key
	unit   string
	points []history.Point
	rates  []float64
	color  color.Color
}

// ScopeWidget is a custom Fyne widget that displays channel trends.
// With a channel selected it also draws the channel's rate of change.
type ScopeWidget struct {
	widget.BaseWidget

	window time.Duration

	// Data (protected by mu)
	mu       sync.RWMutex
	traces   []trace
	selected *history.Key
	view     viewport
}

// New creates a new ScopeWidget with the given minimum time window.
func New(window time.Duration) *ScopeWidget {
	s := &ScopeWidget{window: window}
	s.view = autoScale(nil, false, window, time.Now())
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// Select limits the display to one channel; nil shows all channels.
func (s *ScopeWidget) Select(k *history.Key) {
	s.mu.Lock()
	if k != nil {
		c := *k
		k = &c
	}
	s.selected = k
	s.view = autoScale(s.traces, s.selected != nil, s.window, time.Now())
	s.mu.Unlock()
	s.Refresh()
}

// Selected returns the selected channel, if any.
func (s *ScopeWidget) Selected() (history.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return history.Key{}, false
	}
	return *s.selected, true
}

// UpdateData replaces the displayed series.
// This should be called from the history callback using fyne.Do().
func (s *ScopeWidget) UpdateData(series []history.Series) {
	s.mu.Lock()
	old := s.traces
	traces := make([]trace, 0, len(series))
	for i, sr := range series {
		if s.selected != nil && sr.Key != *s.selected {
			continue
		}
		var t trace
		if j := len(traces); j < len(old) {
			// reuse display buffers
			t.points, t.rates = old[j].points, old[j].rates
		}
		t.key, t.unit, t.color = sr.Key, sr.Unit, palette[i%len(palette)]
		t.points = history.Downsample(t.points, sr.Points, maxDisplayPoints)
		t.rates = history.Downsample(t.rates, sr.Rates, maxDisplayPoints)
		traces = append(traces, t)
	}
	s.traces = traces
	s.view = autoScale(s.traces, s.selected != nil, s.window, time.Now())
	s.mu.Unlock()

	// Refresh the widget (must be outside lock to avoid potential deadlock)
	s.Refresh()
}

// viewport is the data range mapped onto the plot area.
type viewport struct {
	yMin, yMax float64
	xMin, xMax time.Time
}

// autoScale computes the range of traces with a 10% vertical margin and at
// least window of time. Rates count only when withRates is set.
func autoScale(traces []trace, withRates bool, window time.Duration, now time.Time) viewport {
	v := viewport{yMin: math.Inf(1), yMax: math.Inf(-1)}
	first := true
	for _, t := range traces {
		for _, p := range t.points {
			v.include(p.Value)
			if first || p.Time.Before(v.xMin) {
				v.xMin = p.Time
			}
			if first || p.Time.After(v.xMax) {
				v.xMax = p.Time
			}
			first = false
		}
		if withRates {
			for _, r := range t.rates {
				v.include(r)
			}
		}
	}

	if first {
		return viewport{yMin: 0, yMax: 1, xMin: now, xMax: now.Add(window)}
	}

	span := v.yMax - v.yMin
	if span == 0 {
		span = 1
	}
	margin := span * 0.1
	v.yMin -= margin
	v.yMax += margin

	if v.xMax.Sub(v.xMin) < window {
		v.xMax = v.xMin.Add(window)
	}
	return v
}

func (v *viewport) include(f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}
	v.yMin = math.Min(v.yMin, f)
	v.yMax = math.Max(v.yMax, f)
}

// pos maps a sample onto a plot of the given geometry.
func (v viewport) pos(plotX, plotY, plotWidth, plotHeight float32, t time.Time, value float64) fyne.Position {
	dx := float32(v.xMax.Sub(v.xMin).Seconds())
	dy := float32(v.yMax - v.yMin)
	fx, fy := float32(0), float32(0)
	if dx > 0 {
		fx = float32(t.Sub(v.xMin).Seconds()) / dx
	}
	if dy > 0 {
		fy = float32(value-v.yMin) / dy
	}
	fx = math32.Max(0, math32.Min(1, fx))
	fy = math32.Max(0, math32.Min(1, fy))
	return fyne.NewPos(plotX+fx*plotWidth, plotY+plotHeight-fy*plotHeight)
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255}) // Dark background
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
