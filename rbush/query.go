package rbush

import (
	"fmt"

	"github.com/obermaier/rtreeflat/geom"
)

// Query returns every item whose bounds intersect search. Collection order
// is unspecified but deterministic for a given tree structure.
func (t *RTree[T]) Query(search geom.Envelope) []T {
	var items []T
	t.QueryVisitor(search, func(item T) bool {
		items = append(items, item)
		return true
	})
	return items
}

// QueryVisitor streams every item whose bounds intersect search to visit,
// stopping early if visit returns false.
func (t *RTree[T]) QueryVisitor(search geom.Envelope, visit func(item T) bool) {
	if !search.Intersects(t.root.bounds) {
		return
	}

	stack := []*node[T]{t.root}
	for len(stack) > 0 {
		n := popNode(&stack)

		if n.leaf {
			for _, it := range n.items {
				if search.Intersects(it.Bounds) {
					if !visit(it.Item) {
						return
					}
				}
			}
			continue
		}

		for _, child := range n.children {
			if !search.Intersects(child.bounds) {
				continue
			}
			if search.Contains(child.bounds) {
				if !drainAllItems(child, visit) {
					return
				}
			} else {
				stack = append(stack, child)
			}
		}
	}
}

// drainAllItems visits every item beneath n without further intersection
// tests (used once a search envelope is known to fully contain n.bounds).
// Returns false if visit asked to stop early.
func drainAllItems[T any](n *node[T], visit func(item T) bool) bool {
	stack := []*node[T]{n}
	for len(stack) > 0 {
		cur := popNode(&stack)
		for _, it := range cur.items {
			if !visit(it.Item) {
				return false
			}
		}
		stack = append(stack, cur.children...)
	}
	return true
}

// All returns every stored item, in unspecified order.
func (t *RTree[T]) All() []T {
	var items []T
	drainAllItems(t.root, func(item T) bool {
		items = append(items, item)
		return true
	})
	return items
}

// IntegrityCheck walks the whole tree verifying the structural invariants:
// every leaf at the same depth, every node's bounds equal to the union of
// its children's bounds, and every non-root interior node holding between
// minEntries and maxEntries children. Intended for tests and fuzzing, not
// production use.
func (t *RTree[T]) IntegrityCheck() error {
	leafDepth := -1
	var walk func(n *node[T], depth int, isRoot bool) error
	walk = func(n *node[T], depth int, isRoot bool) error {
		if n.leaf {
			if leafDepth == -1 {
				leafDepth = depth
			} else if depth != leafDepth && n.entries() > 0 {
				return fmt.Errorf("leaf at depth %d, expected %d", depth, leafDepth)
			}
		}

		if !isRoot && !n.leaf {
			count := n.entries()
			if count < t.minEntries || count > t.maxEntries {
				return fmt.Errorf("node at depth %d has %d entries, want [%d,%d]", depth, count, t.minEntries, t.maxEntries)
			}
		}

		want := calcSubBBox(n, 0, n.entries())
		if want != n.bounds && n.entries() > 0 {
			return fmt.Errorf("node at depth %d has stale bounds %v, want %v", depth, n.bounds, want)
		}

		for _, child := range n.children {
			if err := walk(child, depth+1, false); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(t.root, 0, true)
}
