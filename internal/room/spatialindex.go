package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/rtree"
)

// BoundingBox is an axis-aligned box in board space.
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// indexedEntity is what lives in the R-tree leaves: just enough to answer a
// viewport/selection query without re-touching RoomState.
type indexedEntity struct {
	ID   string
	Kind string // "stroke" or "shape"
	BBox BoundingBox
}

// SpatialIndex is a per-room, non-authoritative cache over stroke/shape
// bounding boxes. It exists purely to answer read-only viewport and
// selection-circle queries cheaply; RoomState remains the source of truth
// and this index is rebuilt from it on room load.
type SpatialIndex struct {
	mu   sync.RWMutex
	tree rtree.RTree
}

// NewSpatialIndex returns an empty index.
func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{}
}

func strokeBBox(s *Stroke) BoundingBox {
	if len(s.Points) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{X1: s.Points[0].X, Y1: s.Points[0].Y, X2: s.Points[0].X, Y2: s.Points[0].Y}
	for _, p := range s.Points[1:] {
		if p.X < b.X1 {
			b.X1 = p.X
		}
		if p.X > b.X2 {
			b.X2 = p.X
		}
		if p.Y < b.Y1 {
			b.Y1 = p.Y
		}
		if p.Y > b.Y2 {
			b.Y2 = p.Y
		}
	}
	return b
}

func shapeBBox(s *Shape) BoundingBox {
	minX, maxX := s.X1, s.X2
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := s.Y1, s.Y2
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return BoundingBox{X1: minX, Y1: minY, X2: maxX, Y2: maxY}
}

func (si *SpatialIndex) insert(e *indexedEntity) {
	min := [2]float64{e.BBox.X1, e.BBox.Y1}
	max := [2]float64{e.BBox.X2, e.BBox.Y2}
	si.tree.Insert(min, max, e)
}

// RebuildFromState clears the index and reinserts every stroke and shape's
// bounding box, locked or not; used when a room is first materialized from
// the store and after undo/redo.
func (si *SpatialIndex) RebuildFromState(state *RoomState) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.tree = rtree.RTree{}
	for id, s := range state.Strokes {
		si.insert(&indexedEntity{ID: id, Kind: "stroke", BBox: strokeBBox(s)})
	}
	for id, s := range state.Shapes {
		si.insert(&indexedEntity{ID: id, Kind: "shape", BBox: shapeBBox(s)})
	}
}

// UpsertStroke (re)inserts a stroke's bounding box.
func (si *SpatialIndex) UpsertStroke(id string, s *Stroke) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.removeUnsafe(id, "stroke")
	si.insert(&indexedEntity{ID: id, Kind: "stroke", BBox: strokeBBox(s)})
}

// UpsertShape (re)inserts a shape's bounding box.
func (si *SpatialIndex) UpsertShape(id string, s *Shape) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.removeUnsafe(id, "shape")
	si.insert(&indexedEntity{ID: id, Kind: "shape", BBox: shapeBBox(s)})
}

// Remove drops an entity (stroke or shape) of the given kind by id.
func (si *SpatialIndex) Remove(id, kind string) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.removeUnsafe(id, kind)
}

func (si *SpatialIndex) removeUnsafe(id, kind string) {
	var found *indexedEntity
	var fmin, fmax [2]float64
	si.tree.Scan(func(min, max [2]float64, item interface{}) bool {
		e := item.(*indexedEntity)
		if e.ID == id && e.Kind == kind {
			found = e
			fmin, fmax = min, max
			return false
		}
		return true
	})
	if found != nil {
		si.tree.Delete(fmin, fmax, found)
	}
}

// QueryViewportResult is the set of ids visible in a queried viewport.
type QueryViewportResult struct {
	StrokeIDs   []string  `json:"stroke_ids"`
	ShapeIDs    []string  `json:"shape_ids"`
	QueryTimeNs int64     `json:"query_time_ns"`
	Viewport    BoundingBox `json:"viewport"`
}

// QueryViewport returns the ids of entities whose bounding box intersects
// the given viewport.
func (si *SpatialIndex) QueryViewport(viewport BoundingBox) (*QueryViewportResult, error) {
	if viewport.X1 >= viewport.X2 || viewport.Y1 >= viewport.Y2 {
		return nil, fmt.Errorf("invalid viewport bounds: %+v", viewport)
	}
	start := time.Now()
	si.mu.RLock()
	defer si.mu.RUnlock()

	res := &QueryViewportResult{Viewport: viewport}
	min := [2]float64{viewport.X1, viewport.Y1}
	max := [2]float64{viewport.X2, viewport.Y2}
	si.tree.Search(min, max, func(min, max [2]float64, item interface{}) bool {
		e := item.(*indexedEntity)
		if e.Kind == "stroke" {
			res.StrokeIDs = append(res.StrokeIDs, e.ID)
		} else {
			res.ShapeIDs = append(res.ShapeIDs, e.ID)
		}
		return true
	})
	res.QueryTimeNs = time.Since(start).Nanoseconds()
	return res, nil
}

// QueryCircle returns the ids of entities whose bounding box intersects the
// square that bounds a selection circle. No exact circle test is applied, so
// entities near the square's corners but outside the circle are included.
func (si *SpatialIndex) QueryCircle(cx, cy, r float64) (*QueryViewportResult, error) {
	viewport := BoundingBox{X1: cx - r, Y1: cy - r, X2: cx + r, Y2: cy + r}
	candidate, err := si.QueryViewport(viewport)
	if err != nil {
		return nil, err
	}
	return candidate, nil
}

// Stats reports coarse index size: the number of indexed strokes and shapes.
func (si *SpatialIndex) Stats() map[string]interface{} {
	si.mu.RLock()
	defer si.mu.RUnlock()
	var strokes, shapes int
	si.tree.Scan(func(min, max [2]float64, item interface{}) bool {
		e := item.(*indexedEntity)
		if e.Kind == "stroke" {
			strokes++
		} else {
			shapes++
		}
		return true
	})
	return map[string]interface{}{
		"strokes": strokes,
		"shapes":  shapes,
	}
}
