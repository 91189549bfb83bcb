package scope

import (
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"github.com/stretchr/testify/assert"

	"github.com/itohio/goowbus/pkg/history"
)

func TestAutoScale_Empty(t *testing.T) {
	now := time.Unix(1000, 0)
	v := autoScale(nil, false, time.Minute, now)
	assert.Equal(t, 0.0, v.yMin)
	assert.Equal(t, 1.0, v.yMax)
	assert.Equal(t, now, v.xMin)
	assert.Equal(t, now.Add(time.Minute), v.xMax)
}

func TestAutoScale(t *testing.T) {
	t0 := time.Unix(1000, 0)
	traces := []trace{
		{points: []history.Point{{Time: t0, Value: 1}, {Time: t0.Add(2 * time.Second), Value: 3}}, rates: []float64{10}},
		{points: []history.Point{{Time: t0.Add(time.Second), Value: 2}}},
	}

	v := autoScale(traces, false, time.Second, t0)
	assert.InDelta(t, 0.8, v.yMin, 1e-9)
	assert.InDelta(t, 3.2, v.yMax, 1e-9)
	assert.Equal(t, t0, v.xMin)
	assert.Equal(t, t0.Add(2*time.Second), v.xMax)

	// rates widen the range and the window extends the time axis
	v = autoScale(traces, true, time.Minute, t0)
	assert.InDelta(t, 10.9, v.yMax, 1e-9)
	assert.Equal(t, t0.Add(time.Minute), v.xMax)
}

func TestAutoScale_Flat(t *testing.T) {
	t0 := time.Unix(1000, 0)
	traces := []trace{{points: []history.Point{{Time: t0, Value: 5}, {Time: t0.Add(time.Second), Value: 5}}}}
	v := autoScale(traces, false, 0, t0)
	assert.InDelta(t, 4.9, v.yMin, 1e-9)
	assert.InDelta(t, 5.1, v.yMax, 1e-9)
}

func TestViewportPos(t *testing.T) {
	t0 := time.Unix(1000, 0)
	v := viewport{yMin: 0, yMax: 10, xMin: t0, xMax: t0.Add(10 * time.Second)}

	tests := []struct {
		name  string
		at    time.Time
		value float64
		want  fyne.Position
	}{
		{"origin", t0, 0, fyne.NewPos(10, 120)},
		{"center", t0.Add(5 * time.Second), 5, fyne.NewPos(60, 70)},
		{"top right", t0.Add(10 * time.Second), 10, fyne.NewPos(110, 20)},
		{"clamped", t0.Add(20 * time.Second), -5, fyne.NewPos(110, 120)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := v.pos(10, 20, 100, 100, tt.at, tt.value)
			assert.InDelta(t, tt.want.X, p.X, 1e-3)
			assert.InDelta(t, tt.want.Y, p.Y, 1e-3)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1.235V", formatValue(1.2346, "V"))
	assert.Equal(t, "0.000°C", formatValue(-0.0001, "°C"))
	assert.Equal(t, "2.000", formatValue(2, ""))
	assert.Equal(t, "0.50s", formatTime(500*time.Millisecond))
	assert.Equal(t, "12.0s", formatTime(12*time.Second))
}
