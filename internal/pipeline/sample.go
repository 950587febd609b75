package pipeline

import (
	"math"
	"sort"
)

// SamplePages picks up to samples page numbers spread evenly over a
// document of total pages. The last page is always included. Results are
// 1-based and ascending.
func SamplePages(total, samples int) []int {
	if total <= 0 || samples <= 0 {
		return nil
	}
	if total <= samples {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}

	interval := float64(total) / float64(samples)
	seen := make(map[int]struct{}, samples)
	out := make([]int, 0, samples)
	for i := range samples {
		p := int(math.Round(1 + interval*float64(i)))
		if p > total {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	if _, ok := seen[total]; !ok {
		out[len(out)-1] = total
	}
	sort.Ints(out)
	return out
}

// leadingPages returns 1..min(n, total).
func leadingPages(total, n int) []int {
	n = min(n, total)
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
