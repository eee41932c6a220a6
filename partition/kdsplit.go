// Package partition assigns spatial subsets of particles to independent
// parallel workers. Partitioning is a recursive median split over particle
// positions, so each worker handles a spatially local group and only needs
// the field region that group occupies.
package partition

import "sort"

// KDSplit partitions the given particle row indices into k disjoint,
// spatially local subsets whose union is the input. The split recursively
// halves the index set at the coordinate median along the wider axis,
// dividing worker shares proportionally, so subset sizes differ by at most
// one when k divides evenly.
func KDSplit(lon, lat []float64, rows []int, k int) [][]int {
	if k < 1 {
		k = 1
	}
	out := make([][]int, 0, k)
	// Work on a copy; sorting must not disturb the caller's ordering.
	idx := make([]int, len(rows))
	copy(idx, rows)
	kdSplit(lon, lat, idx, k, &out)
	return out
}

func kdSplit(lon, lat []float64, rows []int, k int, out *[][]int) {
	if k == 1 {
		*out = append(*out, rows)
		return
	}
	if len(rows) <= 1 {
		// More workers than particles: the extra shares come out empty.
		*out = append(*out, rows)
		for i := 1; i < k; i++ {
			*out = append(*out, nil)
		}
		return
	}

	// Split along the axis with the larger spread.
	var minLon, maxLon, minLat, maxLat float64
	for i, r := range rows {
		if i == 0 {
			minLon, maxLon = lon[r], lon[r]
			minLat, maxLat = lat[r], lat[r]
			continue
		}
		if lon[r] < minLon {
			minLon = lon[r]
		}
		if lon[r] > maxLon {
			maxLon = lon[r]
		}
		if lat[r] < minLat {
			minLat = lat[r]
		}
		if lat[r] > maxLat {
			maxLat = lat[r]
		}
	}
	byLon := maxLon-minLon >= maxLat-minLat
	sort.Slice(rows, func(a, b int) bool {
		if byLon {
			return lon[rows[a]] < lon[rows[b]]
		}
		return lat[rows[a]] < lat[rows[b]]
	})

	k1 := k / 2
	k2 := k - k1
	// Median position weighted by worker share.
	mid := len(rows) * k1 / k
	kdSplit(lon, lat, rows[:mid], k1, out)
	kdSplit(lon, lat, rows[mid:], k2, out)
}
