package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownsample(t *testing.T) {
	src := make([]int, 100)
	for i := range src {
		src[i] = i
	}

	tests := []struct {
		name      string
		src       []int
		maxPoints int
		want      []int
	}{
		{"fits", src[:3], 5, []int{0, 1, 2}},
		{"decimate", src[:10], 5, []int{0, 2, 4, 6, 8}},
		{"uneven", src[:10], 4, []int{0, 2, 5, 7}},
		{"zero", src, 0, []int{}},
		{"empty", nil, 5, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Downsample(nil, tt.src, tt.maxPoints)
			assert.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i], got[i])
			}
		})
	}
}

func TestDownsample_ReusesDst(t *testing.T) {
	src := []Point{{Value: 1}, {Value: 2}, {Value: 3}, {Value: 4}}
	dst := make([]Point, 0, 8)

	got := Downsample(dst, src, 2)
	assert.Len(t, got, 2)
	assert.Same(t, &dst[:1][0], &got[0])
	assert.Equal(t, 3.0, got[1].Value)

	got = Downsample(got, src, 10)
	assert.Len(t, got, 4)
	assert.Same(t, &dst[:1][0], &got[0])
}
