package flatbush

import "github.com/obermaier/rtreeflat/geom"

// sortByHilbertValue quicksorts values[left:right+1] ascending, permuting
// boxes and indices alongside so that the triple (value, box, index) stays
// associated. Recursive Hoare partitioning, same shape as the flatbush-go
// reference's sortValuesAndBoxes.
func sortByHilbertValue(values []uint32, boxes []geom.Envelope, indices []int, left, right int) {
	if left >= right {
		return
	}

	pivot := values[(left+right)>>1]
	i, j := left-1, right+1

	for {
		i++
		for values[i] < pivot {
			i++
		}
		j--
		for values[j] > pivot {
			j--
		}
		if i >= j {
			break
		}
		values[i], values[j] = values[j], values[i]
		boxes[i], boxes[j] = boxes[j], boxes[i]
		indices[i], indices[j] = indices[j], indices[i]
	}

	sortByHilbertValue(values, boxes, indices, left, j)
	sortByHilbertValue(values, boxes, indices, j+1, right)
}
