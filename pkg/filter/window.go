package filter

// Window is a fixed-capacity ring buffer indexed backwards from the most
// recently pushed sample: At(0) is the newest, At(Len()-1) the oldest.
// It is not safe for concurrent use.
type Window[T any] struct {
	buf []T
	pos int
}

// NewWindow creates a window holding size samples (at least one).
func NewWindow[T any](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{buf: make([]T, size)}
}

// Len returns the capacity of the window.
func (w *Window[T]) Len() int {
	return len(w.buf)
}

// Fill overwrites every slot with v.
func (w *Window[T]) Fill(v T) {
	for i := range w.buf {
		w.buf[i] = v
	}
}

// Push overwrites the oldest slot with v.
func (w *Window[T]) Push(v T) {
	if w.pos == 0 {
		w.pos = len(w.buf)
	}
	w.pos--
	w.buf[w.pos] = v
}

// At returns the sample i steps older than the newest one.
// i is clamped to [0, Len()-1].
func (w *Window[T]) At(i int) T {
	n := len(w.buf)
	if i < 0 {
		i = 0
	} else if i >= n {
		i = n - 1
	}
	i += w.pos
	if i >= n {
		i -= n
	}
	return w.buf[i]
}

// Oldest returns the sample that the next Push overwrites.
func (w *Window[T]) Oldest() T {
	return w.At(len(w.buf) - 1)
}
