package room

import "math"

// EraseHitTester answers point/shape containment questions for the eraser
// tool. The closest-point-on-AABB and clamp technique mirrors the teacher's
// own spatial index, which used the same math to intersect a query circle
// against stroke bounding boxes.
type EraseHitTester struct{}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// StrokeHit reports whether any point of the stroke lies within the circle.
func (EraseHitTester) StrokeHit(s *Stroke, cx, cy, r float64) bool {
	if s.Locked {
		return false
	}
	r2 := r * r
	for _, p := range s.Points {
		dx := p.X - cx
		dy := p.Y - cy
		if dx*dx+dy*dy <= r2 {
			return true
		}
	}
	return false
}

// ShapeHit reports whether the shape is struck by the eraser circle.
func (EraseHitTester) ShapeHit(s *Shape, cx, cy, r float64) bool {
	if s.Locked {
		return false
	}
	switch s.Type {
	case ShapeLine:
		return circleIntersectsSegment(cx, cy, r, s.X1, s.Y1, s.X2, s.Y2)
	case ShapeRect:
		minX, maxX := math.Min(s.X1, s.X2), math.Max(s.X1, s.X2)
		minY, maxY := math.Min(s.Y1, s.Y2), math.Max(s.Y1, s.Y2)
		closestX := clamp(cx, minX, maxX)
		closestY := clamp(cy, minY, maxY)
		dx := cx - closestX
		dy := cy - closestY
		return dx*dx+dy*dy <= r*r
	case ShapeCircle:
		radius := math.Hypot(s.X2-s.X1, s.Y2-s.Y1)
		dx := cx - s.X1
		dy := cy - s.Y1
		dist := math.Hypot(dx, dy)
		return dist <= radius+r
	default:
		return false
	}
}

func circleIntersectsSegment(cx, cy, r, x1, y1, x2, y2 float64) bool {
	closestX := clamp(cx, math.Min(x1, x2), math.Max(x1, x2))
	closestY := clamp(cy, math.Min(y1, y2), math.Max(y1, y2))
	// Project the center onto the segment, not just its bounding box, so a
	// diagonal line is tested against its actual closest point.
	dx, dy := x2-x1, y2-y1
	lengthSq := dx*dx + dy*dy
	if lengthSq > 0 {
		t := ((cx-x1)*dx + (cy-y1)*dy) / lengthSq
		t = clamp(t, 0, 1)
		closestX = x1 + t*dx
		closestY = y1 + t*dy
	}
	ddx := cx - closestX
	ddy := cy - closestY
	return ddx*ddx+ddy*ddy <= r*r
}

// Strokes returns the ids of every unlocked stroke struck by the circle.
func (h EraseHitTester) Strokes(state *RoomState, cx, cy, r float64) []string {
	var hit []string
	for id, s := range state.Strokes {
		if h.StrokeHit(s, cx, cy, r) {
			hit = append(hit, id)
		}
	}
	return hit
}

// Shapes returns the ids of every unlocked shape struck by the circle.
func (h EraseHitTester) Shapes(state *RoomState, cx, cy, r float64) []string {
	var hit []string
	for id, s := range state.Shapes {
		if h.ShapeHit(s, cx, cy, r) {
			hit = append(hit, id)
		}
	}
	return hit
}
