// Package quickselect implements in-place partial sorting by k-th order
// statistic (Hoare-style partitioning with Floyd-Rivest pivot-range sampling
// for large inputs), used by the RBush OMT bulk-load builder to partition
// items into roughly-square tiles without fully sorting them.
package quickselect

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Interface is the data accessed by Select. Unlike sort.Interface, Compare
// reports a three-way ordering rather than just "less", which the
// Hoare-style partition step needs to detect the pivot boundary.
type Interface interface {
	Len() int
	// Compare returns a negative number if the element at i sorts before
	// the element at j, zero if they compare equal, and a positive number
	// otherwise.
	Compare(i, j int) int
	Swap(i, j int)
}

// Select partitions data in place so that the element at index k ends up at
// its sorted position: every element before k compares <= it, every element
// after compares >= it. The rest of the slice is left unordered.
func Select(data Interface, k int) {
	selectRange(data, k, 0, data.Len()-1)
}

// selectRange performs quickselect within data[left:right+1], leaving the
// k-th order statistic at index k.
func selectRange(data Interface, k, left, right int) {
	for right > left {
		if right-left+1 > 600 {
			// Floyd-Rivest: recursively narrow [left,right] to a small sample
			// range before the real partitioning pass, avoiding O(n^2) behavior
			// on adversarial input.
			n := float64(right - left + 1)
			m := float64(k - left + 1)
			z := math.Log(n)
			s := 0.5 * math.Exp(2*z/3)
			sd := 0.5 * math.Sqrt(z*s*(n-s)/n)
			if m-n/2 < 0 {
				sd = -sd
			}
			newLeft := maxInt(left, int(math.Floor(float64(k)-m*s/n+sd)))
			newRight := minInt(right, int(math.Floor(float64(k)+(n-m)*s/n+sd)))
			selectRange(data, k, newLeft, newRight)
		}

		pivotIdx := partition(data, left, right, k)
		switch {
		case k == pivotIdx:
			return
		case k < pivotIdx:
			right = pivotIdx - 1
		default:
			left = pivotIdx + 1
		}
	}
}

// partition moves every element comparing less than arr[pivotIdx] to its
// left, and every element comparing greater to its right, re-establishing
// the pivot's own sorted position. Returns the pivot's final index.
func partition(data Interface, firstIdx, lastIdx, pivotIdx int) int {
	data.Swap(firstIdx, pivotIdx) // move pivot to the front
	pivotIdx = firstIdx

	left, right := firstIdx+1, lastIdx
	for left <= right {
		for left <= lastIdx && data.Compare(left, pivotIdx) < 0 {
			left++
		}
		for right >= pivotIdx && data.Compare(pivotIdx, right) < 0 {
			right--
		}
		if left <= right {
			data.Swap(left, right)
			left++
			right--
		}
	}
	data.Swap(pivotIdx, right) // swap pivot into its final place
	return right
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

// OrderedSlice adapts a slice of an ordered type to Interface, for simple
// numeric quickselect (used by tests and standalone callers).
type OrderedSlice[T constraints.Ordered] []T

func (s OrderedSlice[T]) Len() int      { return len(s) }
func (s OrderedSlice[T]) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s OrderedSlice[T]) Compare(i, j int) int {
	switch {
	case s[i] < s[j]:
		return -1
	case s[i] > s[j]:
		return 1
	default:
		return 0
	}
}

// SelectOrdered selects the k-th order statistic of s in place.
func SelectOrdered[T constraints.Ordered](s []T, k int) {
	Select(OrderedSlice[T](s), k)
}
