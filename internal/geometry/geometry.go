// Package geometry matches a predicted bounding box to on-page elements.
package geometry

import (
	"smartlocate/internal/entity"
	"sort"
	"strings"
)

// interactiveRatio is the share of the best IoU an input or button needs to
// win over a better-scoring non-interactive element.
const interactiveRatio = 0.5

type scored struct {
	score float64
	box   entity.BoundaryBox
}

// Normalize converts a device-pixel box into CSS pixels.
func Normalize(box entity.BoundaryBox, pixelRatio float64) entity.BoundaryBox {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}

	return entity.BoundaryBox{
		X:          box.X / pixelRatio,
		Y:          box.Y / pixelRatio,
		Width:      box.Width / pixelRatio,
		Height:     box.Height / pixelRatio,
		TagName:    box.TagName,
		ElementRef: box.ElementRef,
	}
}

// Overlap is the intersection area of two rectangles, 0 when they only touch.
func Overlap(a, b entity.BoundaryBox) float64 {
	dx := min(a.X+a.Width, b.X+b.Width) - max(a.X, b.X)
	dy := min(a.Y+a.Height, b.Y+b.Height) - max(a.Y, b.Y)

	if dx <= 0 || dy <= 0 {
		return 0
	}

	return dx * dy
}

// IoU is the intersection-over-union of two rectangles. A zero denominator
// yields 0.
func IoU(a, b entity.BoundaryBox) float64 {
	overlap := Overlap(a, b)
	union := a.Area() + b.Area() - overlap

	if union <= 0 {
		return 0
	}

	return overlap / union
}

// CenterHit reports whether the center of box lies strictly inside target.
func CenterHit(box, target entity.BoundaryBox) bool {
	cx, cy := box.Center()

	return cx > target.X &&
		cx < target.X+target.Width &&
		cy > target.Y &&
		cy < target.Y+target.Height
}

func isInteractive(tag string) bool {
	switch strings.ToLower(tag) {
	case "input", "button":
		return true
	default:
		return false
	}
}

// Match picks the candidate that best corresponds to predicted. predicted is
// in device pixels and is normalized with pixelRatio before comparison.
// Candidates with equal scores keep their input order.
func Match(predicted entity.BoundaryBox, candidates []entity.BoundaryBox, pixelRatio float64) (entity.BoundaryBox, bool) {
	target := Normalize(predicted, pixelRatio)

	ranked := make([]scored, 0, len(candidates))

	for _, candidate := range candidates {
		score := IoU(target, candidate)
		if score <= 0 {
			continue
		}

		if !CenterHit(target, candidate) {
			continue
		}

		ranked = append(ranked, scored{score: score, box: candidate})
	}

	if len(ranked) == 0 {
		return entity.BoundaryBox{}, false
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	best := ranked[0].score

	for _, r := range ranked {
		if isInteractive(r.box.TagName) && r.score >= best*interactiveRatio {
			return r.box, true
		}
	}

	return ranked[0].box, true
}
