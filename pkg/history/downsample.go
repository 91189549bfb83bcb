package history

// Downsample reduces src to at most maxPoints elements by decimation.
// Destination-based: reuses dst if it has sufficient capacity.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	if maxPoints <= 0 {
		return dst[:0]
	}
	if len(src) <= maxPoints {
		if cap(dst) >= len(src) {
			dst = dst[:len(src)]
			copy(dst, src)
			return dst
		}
		return append([]T(nil), src...)
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(src)) / float64(maxPoints)
	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(src) {
			dst = append(dst, src[idx])
		}
	}
	return dst
}
