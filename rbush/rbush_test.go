package rbush

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obermaier/rtreeflat/geom"
)

func box(minX, minY, maxX, maxY float64) geom.Envelope {
	return geom.Envelope{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

func pointBox(x, y float64) geom.Envelope {
	return box(x, y, x, y)
}

func TestNewDefaults(t *testing.T) {
	tr := New[int](0, nil)
	assert.Equal(t, defaultMaxEntries, tr.maxEntries)
	assert.Equal(t, 4, tr.minEntries)
	assert.Equal(t, 1, tr.Height())
	assert.Equal(t, 0, tr.Count())
}

func TestConstructorHeightGrid(t *testing.T) {
	tr := New[int](0, nil)
	for i := 0; i < 9; i++ {
		x := float64(i % 3 * 10)
		y := float64(i / 3 * 10)
		tr.Insert(box(x, y, x+1, y+1), i)
	}
	assert.Equal(t, 1, tr.Height())

	tr2 := New[int](0, nil)
	for i := 0; i < 10; i++ {
		x := float64(i * 10)
		tr2.Insert(box(x, 0, x+1, 1), i)
	}
	assert.Equal(t, 2, tr2.Height())
}

func gridItems() []Boundable[int] {
	var items []Boundable[int]
	id := 0
	for x := 0; x < 6; x++ {
		for y := 0; y < 8; y++ {
			fx := float64(x * 10)
			fy := float64(y * 10)
			items = append(items, Boundable[int]{Bounds: pointBox(fx, fy), Item: id})
			id++
		}
	}
	return items
}

func TestPointQuery(t *testing.T) {
	tr := New[int](0, nil)
	tr.Load(gridItems())

	got := tr.Query(box(12, 12, 22, 22))
	// only the item at (20,20) intersects
	require.Len(t, got, 1)

	var want int
	for _, it := range gridItems() {
		if it.Bounds.MinX == 20 && it.Bounds.MinY == 20 {
			want = it.Item
		}
	}
	assert.Equal(t, want, got[0])
}

func TestRemove(t *testing.T) {
	tr := New[int](0, nil)
	items := gridItems()
	tr.Load(items)

	var item20 int
	for _, it := range items {
		if it.Bounds.MinX == 20 && it.Bounds.MinY == 20 {
			item20 = it.Item
		}
	}

	ok := tr.Remove(pointBox(20, 20), item20)
	require.True(t, ok)

	got := tr.Query(box(0, 0, 100, 100))
	assert.Len(t, got, 47)

	got = tr.Query(pointBox(20, 20))
	assert.Empty(t, got)
}

func TestRemoveNonExistentReturnsFalse(t *testing.T) {
	tr := New[int](0, nil)
	tr.Insert(pointBox(1, 1), 1)
	assert.False(t, tr.Remove(pointBox(99, 99), 42))
}

func TestInsertThenRemoveYieldsEmptyTree(t *testing.T) {
	tr := New[int](0, nil)
	tr.Insert(pointBox(5, 5), 7)
	require.True(t, tr.Remove(pointBox(5, 5), 7))

	assert.Equal(t, 1, tr.Height())
	assert.Equal(t, 0, tr.Count())
	assert.Empty(t, tr.Query(box(-1000, -1000, 1000, 1000)))
}

func TestLoadEquivalentToInsertForDisjointEnvelopes(t *testing.T) {
	var batch []Boundable[int]
	for i := 0; i < 200; i++ {
		x := float64(i * 5)
		batch = append(batch, Boundable[int]{Bounds: box(x, x, x+1, x+1), Item: i})
	}

	loaded := New[int](0, nil)
	loaded.Load(batch)

	inserted := New[int](0, nil)
	for _, b := range batch {
		inserted.Insert(b.Bounds, b.Item)
	}

	query := box(100, 100, 300, 300)
	assert.ElementsMatch(t, inserted.Query(query), loaded.Query(query))
	assert.Equal(t, inserted.Count(), loaded.Count())
}

func TestQueryEmptyTree(t *testing.T) {
	tr := New[int](0, nil)
	assert.Empty(t, tr.Query(box(0, 0, 10, 10)))
}

func TestClear(t *testing.T) {
	tr := New[int](0, nil)
	tr.Insert(pointBox(1, 1), 1)
	tr.Clear()
	assert.Equal(t, 0, tr.Count())
	assert.Equal(t, 1, tr.Height())
}

func TestIntegrityCheckAfterRandomOps(t *testing.T) {
	tr := New[int](9, nil)
	rnd := rand.New(rand.NewSource(42))

	present := map[int]geom.Envelope{}
	for i := 0; i < 500; i++ {
		x := rnd.Float64() * 1000
		y := rnd.Float64() * 1000
		b := box(x, y, x+1, y+1)
		tr.Insert(b, i)
		present[i] = b

		if i%7 == 0 && len(present) > 0 {
			for id, b := range present {
				tr.Remove(b, id)
				delete(present, id)
				break
			}
		}
		require.NoError(t, tr.IntegrityCheck())
	}
}

func TestRecallProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	tr := New[int](9, nil)

	type rec struct {
		bounds geom.Envelope
		item   int
	}
	var all []rec
	for i := 0; i < 300; i++ {
		x := rnd.Float64() * 200
		y := rnd.Float64() * 200
		b := box(x, y, x+rnd.Float64()*5, y+rnd.Float64()*5)
		tr.Insert(b, i)
		all = append(all, rec{b, i})
	}

	query := box(50, 50, 150, 150)
	var want []int
	for _, r := range all {
		if r.bounds.Intersects(query) {
			want = append(want, r.item)
		}
	}
	assert.ElementsMatch(t, want, tr.Query(query))
}

func TestCustomEqualFunc(t *testing.T) {
	type payload struct{ ID int }
	tr := New[payload](0, func(a, b payload) bool { return a.ID == b.ID })
	tr.Insert(pointBox(1, 1), payload{ID: 5})

	ok := tr.Remove(pointBox(1, 1), payload{ID: 5})
	assert.True(t, ok)
	assert.Equal(t, 0, tr.Count())
}

func TestBulkLoadBelowMinEntriesInsertsOneByOne(t *testing.T) {
	tr := New[int](9, nil)
	tr.Load([]Boundable[int]{
		{Bounds: pointBox(1, 1), Item: 1},
		{Bounds: pointBox(2, 2), Item: 2},
	})
	assert.Equal(t, 2, tr.Count())
	require.NoError(t, tr.IntegrityCheck())
}

func TestLoadEmptyBatchIsNoOp(t *testing.T) {
	tr := New[int](0, nil)
	tr.Load(nil)
	assert.Equal(t, 0, tr.Count())
	assert.Equal(t, 1, tr.Height())
}
