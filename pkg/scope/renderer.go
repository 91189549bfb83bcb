package scope

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
)

var palette = []color.Color{
	color.RGBA{R: 255, G: 165, B: 0, A: 255},   // orange
	color.RGBA{R: 100, G: 200, B: 255, A: 255}, // light blue
	color.RGBA{R: 120, G: 220, B: 120, A: 255}, // green
	color.RGBA{R: 240, G: 100, B: 100, A: 255}, // red
	color.RGBA{R: 200, G: 140, B: 255, A: 255}, // violet
	color.RGBA{R: 240, G: 230, B: 120, A: 255}, // yellow
}

var (
	gridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	rateColor  = color.RGBA{R: 0, G: 100, B: 200, A: 255}
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	// Background
	grid *canvas.Rectangle

	// Objects list for Fyne
	objects []fyne.CanvasObject

	// Track last size to detect changes
	lastSize fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh rebuilds the plot from the current traces.
func (r *scopeRenderer) Refresh() {
	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	// Clear old objects (but keep grid)
	r.objects = []fyne.CanvasObject{r.grid}

	marginLeft := float32(60.0)
	marginRight := float32(20.0)
	marginTop := float32(20.0)
	marginBottom := float32(40.0)

	plotX, plotY := marginLeft, marginTop
	plotWidth := size.Width - marginLeft - marginRight
	plotHeight := size.Height - marginTop - marginBottom

	// Traces share their buffers with UpdateData; draw under the read lock.
	r.scope.mu.RLock()
	defer r.scope.mu.RUnlock()
	v := r.scope.view
	unit := ""
	if len(r.scope.traces) > 0 {
		unit = r.scope.traces[0].unit
	}

	r.drawGrid(plotX, plotY, plotWidth, plotHeight, v, unit)
	for i, t := range r.scope.traces {
		r.drawTrace(plotX, plotY, plotWidth, plotHeight, v, t)
		r.drawLegend(plotX, plotY, i, t)
	}
	if r.scope.selected != nil && len(r.scope.traces) == 1 {
		r.drawRates(plotX, plotY, plotWidth, plotHeight, v, r.scope.traces[0])
	}
}

// drawGrid draws the oscilloscope-style grid.
func (r *scopeRenderer) drawGrid(plotX, plotY, plotWidth, plotHeight float32, v viewport, unit string) {
	numHLines := 8
	for i := range numHLines + 1 {
		y := plotY + float32(i)*plotHeight/float32(numHLines)
		r.line(gridColor, 1, fyne.NewPos(plotX, y), fyne.NewPos(plotX+plotWidth, y))

		value := v.yMax - float64(i)*(v.yMax-v.yMin)/float64(numHLines)
		r.text(formatValue(value, unit), labelColor, 10, fyne.TextAlignTrailing, fyne.NewPos(plotX-5, y-6))
	}

	numVLines := 10
	span := v.xMax.Sub(v.xMin)
	for i := range numVLines + 1 {
		x := plotX + float32(i)*plotWidth/float32(numVLines)
		r.line(gridColor, 1, fyne.NewPos(x, plotY), fyne.NewPos(x, plotY+plotHeight))

		offset := span * time.Duration(i) / time.Duration(numVLines)
		r.text(formatTime(offset), labelColor, 10, fyne.TextAlignCenter, fyne.NewPos(x-20, plotY+plotHeight+5))
	}
}

// drawTrace draws one channel as connected line segments.
func (r *scopeRenderer) drawTrace(plotX, plotY, plotWidth, plotHeight float32, v viewport, t trace) {
	for i := 1; i < len(t.points); i++ {
		a, b := t.points[i-1], t.points[i]
		r.line(t.color, 1.5,
			v.pos(plotX, plotY, plotWidth, plotHeight, a.Time, a.Value),
			v.pos(plotX, plotY, plotWidth, plotHeight, b.Time, b.Value))
	}
}

// drawRates draws the rate of change between point pairs at their midpoints.
func (r *scopeRenderer) drawRates(plotX, plotY, plotWidth, plotHeight float32, v viewport, t trace) {
	var prev fyne.Position
	for i, rate := range t.rates {
		if i+1 >= len(t.points) {
			break
		}
		mid := t.points[i].Time.Add(t.points[i+1].Time.Sub(t.points[i].Time) / 2)
		p := v.pos(plotX, plotY, plotWidth, plotHeight, mid, rate)
		if i > 0 {
			r.line(rateColor, 2.5, prev, p)
		}
		prev = p
	}
}

func (r *scopeRenderer) drawLegend(plotX, plotY float32, i int, t trace) {
	label := fmt.Sprintf("%s/%d", t.key.ID, t.key.Channel)
	if n := len(t.points); n > 0 {
		label += " " + formatValue(t.points[n-1].Value, t.unit)
	}
	r.text(label, t.color, 11, fyne.TextAlignLeading, fyne.NewPos(plotX+10, plotY+10+float32(i)*14))
}

func (r *scopeRenderer) line(c color.Color, width float32, p1, p2 fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1, l.Position2 = p1, p2
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *scopeRenderer) text(s string, c color.Color, size float32, align fyne.TextAlign, pos fyne.Position) {
	t := canvas.NewText(s, c)
	t.TextSize = size
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatValue(v float64, unit string) string {
	if math.Abs(v) < 0.0005 {
		v = 0
	}
	if unit == "" {
		return fmt.Sprintf("%.3f", v)
	}
	return fmt.Sprintf("%.3f%s", v, unit)
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
