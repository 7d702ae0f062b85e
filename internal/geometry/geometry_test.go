package geometry

import (
	"smartlocate/internal/entity"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x, y, w, h float64) entity.BoundaryBox {
	return entity.BoundaryBox{X: x, Y: y, Width: w, Height: h, ElementRef: entity.NoElementRef}
}

func candidate(ref int, tag string, x, y, w, h float64) entity.BoundaryBox {
	return entity.BoundaryBox{X: x, Y: y, Width: w, Height: h, TagName: tag, ElementRef: ref}
}

func TestIoU(t *testing.T) {
	testCases := []struct {
		name string
		a, b entity.BoundaryBox
		want float64
	}{
		{name: "identical", a: box(10, 10, 50, 20), b: box(10, 10, 50, 20), want: 1},
		{name: "disjoint", a: box(0, 0, 10, 10), b: box(20, 20, 10, 10), want: 0},
		{name: "touching edges", a: box(0, 0, 10, 10), b: box(10, 0, 10, 10), want: 0},
		{name: "half overlap", a: box(0, 0, 100, 100), b: box(0, 25, 100, 50), want: 0.5},
		{name: "zero area", a: box(5, 5, 0, 0), b: box(5, 5, 0, 0), want: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, IoU(tc.a, tc.b), 1e-9)
			assert.InDelta(t, IoU(tc.a, tc.b), IoU(tc.b, tc.a), 1e-9, "IoU must be symmetric")
		})
	}
}

func TestOverlap(t *testing.T) {
	assert.Equal(t, 25.0, Overlap(box(0, 0, 10, 10), box(5, 5, 10, 10)))
	assert.Zero(t, Overlap(box(0, 0, 10, 10), box(10, 10, 5, 5)), "touching corners")
	assert.Zero(t, Overlap(box(0, 0, 10, 10), box(30, 0, 5, 5)))
}

func TestCenterHitIsBoundaryExclusive(t *testing.T) {
	predicted := box(0, 0, 100, 100)

	assert.True(t, CenterHit(predicted, box(40, 40, 20, 20)))
	assert.False(t, CenterHit(predicted, box(50, 0, 50, 100)), "center on the left edge")
	assert.False(t, CenterHit(predicted, box(0, 0, 50, 50)), "center on the corner")
}

func TestNormalize(t *testing.T) {
	got := Normalize(box(200, 100, 50, 40), 2)
	assert.Equal(t, box(100, 50, 25, 20), got)

	assert.Equal(t, box(1, 2, 3, 4), Normalize(box(1, 2, 3, 4), 0))
}

func TestMatchExcludesCornerOverlap(t *testing.T) {
	predicted := box(0, 0, 100, 100)
	corner := candidate(0, "div", 80, 80, 100, 100)

	require.Greater(t, IoU(predicted, corner), 0.0)

	_, ok := Match(predicted, []entity.BoundaryBox{corner}, 1)
	assert.False(t, ok)
}

func TestMatchPrefersInteractiveWithinHalfOfBest(t *testing.T) {
	predicted := box(0, 0, 100, 100)

	div := candidate(0, "div", 0, 0, 100, 90)
	input := candidate(1, "input", 0, 25, 100, 50)

	require.InDelta(t, 0.9, IoU(predicted, div), 1e-9)
	require.InDelta(t, 0.5, IoU(predicted, input), 1e-9)

	got, ok := Match(predicted, []entity.BoundaryBox{div, input}, 1)
	require.True(t, ok)
	assert.Equal(t, 1, got.ElementRef)
}

func TestMatchKeepsBestWhenInteractiveTooWeak(t *testing.T) {
	predicted := box(0, 0, 100, 100)

	div := candidate(0, "div", 0, 0, 100, 90)
	input := candidate(1, "INPUT", 0, 35, 100, 30)

	require.InDelta(t, 0.3, IoU(predicted, input), 1e-9)

	got, ok := Match(predicted, []entity.BoundaryBox{div, input}, 1)
	require.True(t, ok)
	assert.Equal(t, 0, got.ElementRef)
}

func TestMatchNormalizesDevicePixels(t *testing.T) {
	predicted := box(200, 200, 100, 60)
	button := candidate(3, "BUTTON", 100, 100, 50, 30)

	got, ok := Match(predicted, []entity.BoundaryBox{candidate(0, "div", 0, 0, 10, 10), button}, 2)
	require.True(t, ok)
	assert.Equal(t, 3, got.ElementRef)
}

func TestMatchTieKeepsInputOrder(t *testing.T) {
	predicted := box(0, 0, 100, 100)
	first := candidate(7, "span", 0, 0, 100, 100)
	second := candidate(8, "span", 0, 0, 100, 100)

	for i := 0; i < 5; i++ {
		got, ok := Match(predicted, []entity.BoundaryBox{first, second}, 1)
		require.True(t, ok)
		assert.Equal(t, 7, got.ElementRef)
	}
}

func TestMatchNoCandidates(t *testing.T) {
	_, ok := Match(box(0, 0, 10, 10), nil, 1)
	assert.False(t, ok)
}
