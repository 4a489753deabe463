package wallpaper

import "math"

// PrefixSums returns the running totals of weights; negative weights count as 0.
// Totals saturate at math.MaxInt instead of wrapping.
func PrefixSums(weights []int) []int {
	sums := make([]int, len(weights))
	total := 0
	for i, w := range weights {
		if w > 0 {
			if w > math.MaxInt-total {
				total = math.MaxInt
			} else {
				total += w
			}
		}
		sums[i] = total
	}
	return sums
}

// TotalWeight returns the sum of the non-negative weights.
func TotalWeight(weights []int) int {
	sums := PrefixSums(weights)
	if len(sums) == 0 {
		return 0
	}
	return sums[len(sums)-1]
}

// PickWeighted returns the index of the first prefix sum >= draw, where draw
// is expected in [1, TotalWeight(weights)]. It returns -1 for an empty or
// zero-weight pool and for an out of range draw.
func PickWeighted(weights []int, draw int) int {
	sums := PrefixSums(weights)
	if len(sums) == 0 || sums[len(sums)-1] == 0 {
		return -1
	}
	if draw < 1 || draw > sums[len(sums)-1] {
		return -1
	}
	for i, s := range sums {
		if draw <= s {
			return i
		}
	}
	return -1
}
