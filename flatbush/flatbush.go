// Package flatbush implements a static, Hilbert-packed R-tree over a fixed
// number of rectangles: all items must be declared up front, inserted
// exactly once each, and the index built before it can be queried. In
// exchange for that rigidity, queries walk a flat array of parent/child
// ranges instead of a pointer-chasing node graph.
package flatbush

import (
	"math"

	"github.com/obermaier/rtreeflat/geom"
	"github.com/obermaier/rtreeflat/spatialerr"
)

const (
	minNodeSize     = 2
	maxNodeSize     = 65535
	defaultNodeSize = 16
)

// Flatbush is a static spatial index over numItems rectangles, built once
// via a sequence of Insert calls followed by Build.
type Flatbush[T any] struct {
	numItems int
	nodeSize int

	boxes       []geom.Envelope
	indices     []int
	items       []T
	levelBounds []int
	bounds      geom.Envelope

	pos   int
	built bool
}

// New creates a Flatbush with room for exactly numItems rectangles.
// nodeSize is clamped to [2, 65535]; a non-positive value selects the
// default of 16.
func New[T any](numItems, nodeSize int) (*Flatbush[T], error) {
	if numItems <= 0 {
		return nil, spatialerr.NewArgumentError("flatbush.New", "numItems must be > 0, got %d", numItems)
	}
	if nodeSize <= 0 {
		nodeSize = defaultNodeSize
	}
	if nodeSize < minNodeSize {
		nodeSize = minNodeSize
	}
	if nodeSize > maxNodeSize {
		nodeSize = maxNodeSize
	}

	n := numItems
	numNodes := n
	levelBounds := []int{n}
	for {
		n = int(math.Ceil(float64(n) / float64(nodeSize)))
		numNodes += n
		levelBounds = append(levelBounds, numNodes)
		if n == 1 {
			break
		}
	}

	return &Flatbush[T]{
		numItems:    numItems,
		nodeSize:    nodeSize,
		levelBounds: levelBounds,
		boxes:       make([]geom.Envelope, numNodes),
		indices:     make([]int, numNodes),
		items:       make([]T, numItems),
		bounds:      geom.NullEnvelope(),
	}, nil
}

// NumItems returns the declared item capacity.
func (f *Flatbush[T]) NumItems() int { return f.numItems }

// NodeSize returns the effective node size (after clamping).
func (f *Flatbush[T]) NodeSize() int { return f.nodeSize }

// Bounds returns the union envelope of every inserted item.
func (f *Flatbush[T]) Bounds() geom.Envelope { return f.bounds }

// Count returns the number of items inserted so far (equal to numItems once
// filling is complete).
func (f *Flatbush[T]) Count() int {
	if f.pos > f.numItems {
		return f.numItems
	}
	return f.pos
}

// Insert adds one (bounds, item) pair, returning its zero-based insertion
// index. Legal only before Build and only up to the declared numItems.
func (f *Flatbush[T]) Insert(bounds geom.Envelope, item T) (int, error) {
	if f.built {
		return 0, spatialerr.NewStateError("flatbush.Insert", "index already built")
	}
	if f.pos >= f.numItems {
		return 0, spatialerr.NewStateError("flatbush.Insert", "declared capacity %d exceeded", f.numItems)
	}

	index := f.pos
	f.boxes[index] = bounds
	f.indices[index] = index
	f.items[index] = item
	f.bounds.ExpandToInclude(bounds)
	f.pos++
	return index, nil
}

// Build packs the inserted items into Hilbert-curve order and constructs
// the internal node levels on top of them. Idempotent once built. Returns
// a StateError if fewer than numItems items were inserted.
func (f *Flatbush[T]) Build() error {
	if f.built {
		return nil
	}
	if f.pos != f.numItems {
		return spatialerr.NewStateError("flatbush.Build", "inserted %d of %d declared items", f.pos, f.numItems)
	}

	if f.numItems <= f.nodeSize {
		f.boxes[f.pos] = f.bounds
		f.indices[f.pos] = 0
		f.pos++
		f.built = true
		return nil
	}

	width := f.bounds.Width()
	if width == 0 {
		width = 1
	}
	height := f.bounds.Height()
	if height == 0 {
		height = 1
	}

	hilbertValues := make([]uint32, f.numItems)
	for i := 0; i < f.numItems; i++ {
		cx, cy := f.boxes[i].Centre()
		hx := uint32(math.Floor(hilbertMax * (cx - f.bounds.MinX) / width))
		hy := uint32(math.Floor(hilbertMax * (cy - f.bounds.MinY) / height))
		hilbertValues[i] = hilbertValue(hx, hy)
	}

	sortByHilbertValue(hilbertValues, f.boxes[:f.numItems], f.indices[:f.numItems], 0, f.numItems-1)

	pos := 0
	for level := 0; level < len(f.levelBounds)-1; level++ {
		end := f.levelBounds[level]
		for pos < end {
			nodeIndex := pos
			nodeBounds := geom.NullEnvelope()
			last := minInt(pos+f.nodeSize, end)
			for pos < last {
				nodeBounds.ExpandToInclude(f.boxes[pos])
				pos++
			}
			f.boxes[f.pos] = nodeBounds
			f.indices[f.pos] = nodeIndex
			f.pos++
		}
	}

	f.built = true
	return nil
}

// Remove is always a no-op: Flatbush does not support removal. Present so
// Flatbush satisfies the same shape of interface as RTree.
func (f *Flatbush[T]) Remove(geom.Envelope, T) bool {
	return false
}

// Query returns every item whose bounds intersect search, building the
// index first if it has not been built yet.
func (f *Flatbush[T]) Query(search geom.Envelope) []T {
	var out []T
	f.QueryVisitor(search, func(item T) bool {
		out = append(out, item)
		return true
	})
	return out
}

// QueryVisitor streams every item whose bounds intersect search to visit,
// stopping early if visit returns false. Building the index first if
// necessary (Query implicitly transitions Filling -> Built).
func (f *Flatbush[T]) QueryVisitor(search geom.Envelope, visit func(item T) bool) {
	if !f.built {
		if err := f.Build(); err != nil {
			return
		}
	}
	if len(f.boxes) == 0 {
		return
	}

	type frame struct {
		nodeIndex int
		level     int
	}
	stack := []frame{{len(f.boxes) - 1, len(f.levelBounds) - 1}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		end := minInt(top.nodeIndex+f.nodeSize, f.levelBounds[top.level])
		for pos := top.nodeIndex; pos < end; pos++ {
			if !search.Intersects(f.boxes[pos]) {
				continue
			}
			if top.nodeIndex < f.numItems {
				if !visit(f.items[f.indices[pos]]) {
					return
				}
			} else {
				stack = append(stack, frame{f.indices[pos], top.level - 1})
			}
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
