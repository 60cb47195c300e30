// Package rbush implements a dynamic R-tree over axis-aligned rectangles,
// supporting incremental insert, delete, bulk-load (OMT packing), and
// window queries. Node splitting follows the R*-tree heuristics: minimum
// total margin to choose the split axis, minimum overlap (then minimum
// area) to choose the split index.
package rbush

import (
	"math"
	"reflect"
	"sort"

	"github.com/obermaier/rtreeflat/geom"
	"github.com/obermaier/rtreeflat/internal/quickselect"
)

// defaultMaxEntries is the branching factor used when New is called with a
// non-positive maxEntries.
const defaultMaxEntries = 9

// EqualFunc compares two payloads for identity during Remove. If nil is
// passed to New, reflect.DeepEqual is used instead.
type EqualFunc[T any] func(a, b T) bool

// RTree is a dynamic R-tree storing (envelope, payload) pairs.
type RTree[T any] struct {
	maxEntries, minEntries int
	equals                 EqualFunc[T]
	root                   *node[T]
}

// New creates an empty RTree. maxEntries <= 0 selects the default of 9.
// equals may be nil, in which case reflect.DeepEqual is used by Remove.
func New[T any](maxEntries int, equals EqualFunc[T]) *RTree[T] {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if maxEntries < 4 {
		maxEntries = 4
	}
	if equals == nil {
		equals = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	t := &RTree[T]{
		maxEntries: maxEntries,
		minEntries: maxInt(2, int(math.Ceil(float64(maxEntries)*0.4))),
		equals:     equals,
	}
	t.Clear()
	return t
}

// Clear removes all items, resetting the tree to an empty root leaf of
// height 1.
func (t *RTree[T]) Clear() *RTree[T] {
	t.root = newNode[T]()
	return t
}

// Height returns the current height of the tree (1 for an empty tree or a
// tree with only leaf-level items).
func (t *RTree[T]) Height() int {
	return t.root.height
}

// Count returns the number of items currently stored, computed by
// traversal.
func (t *RTree[T]) Count() int {
	count := 0
	stack := []*node[T]{t.root}
	for len(stack) > 0 {
		n := popNode(&stack)
		count += len(n.items)
		stack = append(stack, n.children...)
	}
	return count
}

// Insert adds a single (bounds, item) pair.
func (t *RTree[T]) Insert(bounds geom.Envelope, item T) *RTree[T] {
	level := t.root.height - 1

	leaf, path := t.chooseSubtree(bounds, t.root, level)
	leaf.items = append(leaf.items, Boundable[T]{Bounds: bounds, Item: item})
	leaf.bounds.ExpandToInclude(bounds)

	level = t.splitNodes(path, level)
	t.adjustParentBBoxes(path, bounds, level)
	return t
}

// Load bulk-loads a batch of (envelope, payload) pairs using the OMT
// (overlap-minimizing top-down) packing algorithm, then merges the
// resulting subtree into the existing tree.
func (t *RTree[T]) Load(batch []Boundable[T]) *RTree[T] {
	if len(batch) == 0 {
		return t
	}
	if len(batch) < t.minEntries {
		for _, b := range batch {
			t.Insert(b.Bounds, b.Item)
		}
		return t
	}

	newTree := t.build(batch, 0, len(batch)-1, 0)

	if t.root.entries() == 0 {
		t.root = newTree
	} else if t.root.height == newTree.height {
		t.splitRoot(t.root, newTree)
	} else {
		if t.root.height < newTree.height {
			t.root, newTree = newTree, t.root
		}
		t.insertNode(newTree, t.root.height-newTree.height-1)
	}
	return t
}

// Remove deletes the first item equal to item (per the tree's EqualFunc)
// found in a leaf reached through nodes whose bounds contain bounds. The
// stored item's own bounds are not compared with bounds. Returns true if an
// item was removed.
func (t *RTree[T]) Remove(bounds geom.Envelope, item T) bool {
	var path []*node[T]
	var childIndexes []int
	var parent *node[T]
	var childIdx int

	goingUp := false

	cur := t.root
	for cur != nil || len(path) > 0 {
		if cur == nil {
			cur = popNode(&path)
			parent = t.root
			if len(path) > 1 {
				parent = path[len(path)-1]
			}
			childIdx = popInt(&childIndexes)
			goingUp = true
		}

		if cur.leaf {
			if removeChildItem(cur, item, t.equals) {
				t.condense(append(path, cur))
				return true
			}
		}

		contained := cur.bounds.Contains(bounds)
		if !goingUp && !cur.leaf && contained {
			path = append(path, cur)
			childIndexes = append(childIndexes, childIdx)
			childIdx = 0
			parent = cur
			cur = cur.children[0]
		} else if parent != nil {
			cur = nil
			childIdx++
			if childIdx < len(parent.children) {
				cur = parent.children[childIdx]
			}
			goingUp = false
		} else {
			cur = nil
		}
	}
	return false
}

// insertNode inserts a whole subtree (node and its descendants) at the
// given level, used when merging a bulk-loaded tree into a larger one.
func (t *RTree[T]) insertNode(n *node[T], level int) {
	bounds := n.bounds

	leaf, path := t.chooseSubtree(bounds, t.root, level)
	leaf.children = append(leaf.children, n)
	leaf.bounds.ExpandToInclude(bounds)

	level = t.splitNodes(path, level)
	t.adjustParentBBoxes(path, bounds, level)
}

// splitNodes splits every overflowing node along the insertion path,
// starting at level and working up toward the root. Returns the level of the
// first node that did not need splitting (-1 if the root was split).
func (t *RTree[T]) splitNodes(path []*node[T], level int) int {
	for level >= 0 {
		if path[level].entries() <= t.maxEntries {
			break
		}
		t.split(path, level)
		level--
	}
	return level
}

// chooseSubtree descends from root picking, at each level, the child whose
// bounds need the least enlargement to cover bounds (ties broken by
// smallest current area, then first occurrence). Stops at a leaf or at the
// node at depth level. Returns the chosen node and the path from root to it
// (the chosen node itself is the last element of the path).
func (t *RTree[T]) chooseSubtree(bounds geom.Envelope, root *node[T], level int) (*node[T], []*node[T]) {
	path := make([]*node[T], 0, root.height)

	cur := root
	for {
		path = append(path, cur)
		if cur.leaf || len(path)-1 == level {
			break
		}

		minArea := math.Inf(1)
		minEnlargement := math.Inf(1)
		var next *node[T]

		for _, child := range cur.children {
			area := child.bounds.Area()
			enlargement := geom.EnlargedArea(bounds, child.bounds) - area

			if enlargement < minEnlargement {
				minEnlargement = enlargement
				minArea = area
				next = child
				continue
			}
			if enlargement == minEnlargement && area < minArea {
				minArea = area
				next = child
			}
		}
		cur = next
	}
	return cur, path
}

// split splits the overflowing node at path[level] into two, attaching the
// new sibling to the parent (or splitting the root).
func (t *RTree[T]) split(path []*node[T], level int) {
	n := path[level]
	min := t.minEntries
	max := n.entries()

	t.chooseSplitAxis(n, min, max)
	splitIndex := t.chooseSplitIndex(n, min, max)

	sibling := newNode[T]()
	sibling.height = n.height
	sibling.leaf = n.leaf

	if n.leaf {
		sibling.items = append(sibling.items, n.items[splitIndex:]...)
		n.items = n.items[:splitIndex]
	} else {
		sibling.children = append(sibling.children, n.children[splitIndex:]...)
		n.children = n.children[:splitIndex]
	}

	calcBBox(n)
	calcBBox(sibling)

	if level > 0 {
		path[level-1].children = append(path[level-1].children, sibling)
	} else {
		t.splitRoot(n, sibling)
	}
}

// splitRoot wraps a and b in a fresh root node one level taller.
func (t *RTree[T]) splitRoot(a, b *node[T]) {
	newHeight := t.root.height + 1
	t.root = newNode[T]()
	t.root.leaf = false
	t.root.children = []*node[T]{a, b}
	t.root.height = newHeight
	calcBBox(t.root)
}

// chooseSplitIndex scans every legal split k in [min, count-min] and picks
// the one minimizing overlap area, breaking ties by minimum combined area
// and keeping the first k encountered below that.
func (t *RTree[T]) chooseSplitIndex(n *node[T], min, count int) int {
	minOverlap := math.Inf(1)
	minArea := math.Inf(1)

	idx := count - min
	for i := min; i <= count-min; i++ {
		left := calcSubBBox(n, 0, i)
		right := calcSubBBox(n, i, count)

		overlap := geom.Intersection(left, right).Area()
		area := left.Area() + right.Area()

		if overlap < minOverlap {
			minOverlap = overlap
			minArea = area
			idx = i
		} else if overlap == minOverlap && area < minArea {
			minArea = area
			idx = i
		}
	}
	return idx
}

// chooseSplitAxis sorts n's entries by the axis (X or Y) with the smaller
// total margin across all legal split distributions, leaving n's entries
// sorted by that axis.
func (t *RTree[T]) chooseSplitAxis(n *node[T], min, max int) {
	var sortMinX, sortMinY sort.Interface
	if n.leaf {
		sortMinX = itemsByMinX[T](n.items)
		sortMinY = itemsByMinY[T](n.items)
	} else {
		sortMinX = nodesByMinX[T](n.children)
		sortMinY = nodesByMinY[T](n.children)
	}

	sort.Sort(sortMinX)
	xMargin := t.allDistMargin(n, min, max)
	sort.Sort(sortMinY)
	yMargin := t.allDistMargin(n, min, max)

	if xMargin < yMargin {
		sort.Sort(sortMinX)
	}
}

// allDistMargin sums the margins of every legal split distribution (left
// prefix + right suffix), used as the split-axis quality heuristic.
func (t *RTree[T]) allDistMargin(n *node[T], min, max int) float64 {
	leftBBox := calcSubBBox(n, 0, min)
	rightBBox := calcSubBBox(n, max-min, max)

	margin := leftBBox.Margin() + rightBBox.Margin()

	for i := min; i < max-min; i++ {
		leftBBox.ExpandToInclude(childBounds(n, i))
		margin += leftBBox.Margin()
	}
	for i := max - min - 1; i >= min; i-- {
		rightBBox.ExpandToInclude(childBounds(n, i))
		margin += rightBBox.Margin()
	}
	return margin
}

// adjustParentBBoxes expands every node's bounds along the insertion path,
// from level up to the root, to include bounds.
func (t *RTree[T]) adjustParentBBoxes(path []*node[T], bounds geom.Envelope, level int) {
	for i := level; i >= 0; i-- {
		path[i].bounds.ExpandToInclude(bounds)
	}
}

// condense walks path from the deepest recorded node toward the root,
// detaching any node that became empty and recomputing the bounds of any
// node that did not.
func (t *RTree[T]) condense(path []*node[T]) {
	for i := len(path) - 1; i >= 0; i-- {
		n := path[i]
		if n.entries() == 0 {
			if i > 0 {
				removeChildNode(path[i-1], n)
			} else {
				t.Clear()
			}
		} else {
			calcBBox(n)
		}
	}
}

func removeChildItem[T any](parent *node[T], item T, equals EqualFunc[T]) bool {
	for idx := range parent.items {
		if equals(item, parent.items[idx].Item) {
			parent.items = append(parent.items[:idx], parent.items[idx+1:]...)
			return true
		}
	}
	return false
}

func removeChildNode[T any](parent, child *node[T]) {
	for idx, n := range parent.children {
		if n == child {
			parent.children = append(parent.children[:idx], parent.children[idx+1:]...)
			return
		}
	}
}

func popNode[T any](stack *[]*node[T]) *node[T] {
	last := len(*stack) - 1
	n := (*stack)[last]
	*stack = (*stack)[:last]
	return n
}

func popInt(stack *[]int) int {
	last := len(*stack) - 1
	v := (*stack)[last]
	*stack = (*stack)[:last]
	return v
}

func calcBBox[T any](n *node[T]) {
	n.bounds = calcSubBBox(n, 0, n.entries())
}

func calcSubBBox[T any](n *node[T], start, end int) geom.Envelope {
	bbox := geom.NullEnvelope()
	if n.leaf {
		for _, item := range n.items[start:end] {
			bbox.ExpandToInclude(item.Bounds)
		}
	} else {
		for _, child := range n.children[start:end] {
			bbox.ExpandToInclude(child.bounds)
		}
	}
	return bbox
}

func childBounds[T any](n *node[T], i int) geom.Envelope {
	if n.leaf {
		return n.items[i].Bounds
	}
	return n.children[i].bounds
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// groupItems partially sorts batch[leftIdx:rightIdx+1] into consecutive
// groups of groupSize entries, ordered between groups (but unordered
// within), using repeated quickselect. If byX is true the MinX coordinate
// is used as the sort key, otherwise MinY.
func groupItems[T any](batch []Boundable[T], leftIdx, rightIdx, groupSize int, byX bool) {
	type span struct{ left, right int }
	stack := []span{{leftIdx, rightIdx}}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		leftIdx, rightIdx = s.left, s.right

		size := rightIdx - leftIdx
		if size <= groupSize {
			continue
		}

		groups := float64(size) / float64(groupSize)
		pivot := int(math.Ceil(groups/2)) * groupSize

		slice := batch[leftIdx : rightIdx+1]
		if byX {
			quickselect.Select(itemsQSByMinX[T](slice), pivot)
		} else {
			quickselect.Select(itemsQSByMinY[T](slice), pivot)
		}
		pivot += leftIdx

		stack = append(stack, span{leftIdx, pivot}, span{pivot, rightIdx})
	}
}

// build recursively packs batch[left..right] into a subtree using the OMT
// (overlap-minimizing top-down) algorithm: partition into roughly-square
// tiles by recursively selecting on MinX then MinY, recursing on each tile.
//
// Unlike the ad-hoc concurrent tiling some R-tree implementations use, this
// builder runs entirely on the caller's goroutine: the index has no
// internal task scheduling and every operation completes synchronously in
// the caller's execution context.
func (t *RTree[T]) build(batch []Boundable[T], left, right, height int) *node[T] {
	count := float64(right - left + 1)
	max := float64(t.maxEntries)

	if count <= max {
		n := newNode[T]()
		n.items = append(n.items, batch[left:right+1]...)
		calcBBox(n)
		return n
	}

	if height == 0 {
		height = int(math.Ceil(logBase(count, max)))
		maxCap := math.Pow(max, float64(height-1))
		max = math.Ceil(count / maxCap)
	}

	n := newNode[T]()
	n.leaf = false
	n.height = height

	grpY := int(math.Ceil(count / max))
	grpX := grpY * int(math.Ceil(math.Sqrt(max)))

	groupItems(batch, left, right, grpX, true)

	for i := left; i <= right; i += grpX {
		right2 := minInt(i+grpX-1, right)
		groupItems(batch, i, right2, grpY, false)

		for j := i; j <= right2; j += grpY {
			right3 := minInt(j+grpY-1, right2)
			sub := t.build(batch, j, right3, height-1)
			n.children = append(n.children, sub)
		}
	}
	calcBBox(n)
	return n
}

func logBase(v, base float64) float64 {
	return math.Log(v) / math.Log(base)
}
