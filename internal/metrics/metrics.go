// Package metrics derives speedup and parallel efficiency from a sweep.
package metrics

import "github.com/signalnine/matchbench/internal/result"

// BaselineRanks is the rank count every algorithm is compared against.
const BaselineRanks = 1

// Compute returns speedup and efficiency for every cell of every algorithm
// that has a baseline cell. Algorithms keep their first-appearance order and
// cells keep sweep order. Efficiency is expressed as a percentage.
func Compute(cells []result.Cell) []result.Derived {
	var order []string
	groups := map[string][]result.Cell{}
	for _, c := range cells {
		if _, ok := groups[c.Algorithm]; !ok {
			order = append(order, c.Algorithm)
		}
		groups[c.Algorithm] = append(groups[c.Algorithm], c)
	}

	var derived []result.Derived
	for _, name := range order {
		group := groups[name]
		base, ok := baseline(group)
		if !ok || base.MeanTime <= 0 {
			continue
		}
		for _, c := range group {
			if c.MeanTime <= 0 || c.Ranks <= 0 {
				continue
			}
			speedup := base.MeanTime / c.MeanTime
			derived = append(derived, result.Derived{
				Algorithm:  c.Algorithm,
				Ranks:      c.Ranks,
				Speedup:    speedup,
				Efficiency: speedup / float64(c.Ranks) * 100,
			})
		}
	}
	return derived
}

func baseline(group []result.Cell) (result.Cell, bool) {
	for _, c := range group {
		if c.Ranks == BaselineRanks {
			return c, true
		}
	}
	return result.Cell{}, false
}
