// Package metrics scores adversarial-head predictions and formats the
// train/test record streams.
package metrics

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// MAP is the mean, over classes with at least one positive sample, of the
// average precision of ranking all samples by their score for that class.
// Equal scores keep original sample order. It is 0 when no class has a
// positive sample.
func MAP(predictions [][]float64, labels []int, numClasses int) float64 {
	n := len(predictions)
	if n == 0 || len(labels) != n {
		return 0
	}

	order := make([]int, n)
	var aps []float64
	for c := 0; c < numClasses; c++ {
		positives := 0
		for _, label := range labels {
			if label == c {
				positives++
			}
		}
		if positives == 0 {
			continue
		}

		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return score(predictions[order[a]], c) > score(predictions[order[b]], c)
		})

		hits := 0
		var sum float64
		for rank, idx := range order {
			if labels[idx] == c {
				hits++
				sum += float64(hits) / float64(rank+1)
			}
		}
		aps = append(aps, sum/float64(positives))
	}
	if len(aps) == 0 {
		return 0
	}
	return floats.Sum(aps) / float64(len(aps))
}

// HitK is the fraction of samples whose label is among the k highest scored
// classes. Equal scores rank the lower class index first.
func HitK(predictions [][]float64, labels []int, k int) float64 {
	n := len(predictions)
	if n == 0 || len(labels) != n || k <= 0 {
		return 0
	}

	hits := 0
	for i, row := range predictions {
		if inTopK(row, labels[i], k) {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

// inTopK counts classes that outrank label; label is a hit when fewer than k do.
func inTopK(row []float64, label, k int) bool {
	if label < 0 || label >= len(row) {
		return false
	}
	target := row[label]
	ahead := 0
	for c, v := range row {
		if v > target || (v == target && c < label) {
			ahead++
			if ahead >= k {
				return false
			}
		}
	}
	return true
}

func score(row []float64, c int) float64 {
	if c < len(row) {
		return row[c]
	}
	return 0
}

// Scores are the adversarial-head metrics recorded per step and per epoch.
type Scores struct {
	MAP   float64
	Prec1 float64
	Prec5 float64
}

func Score(predictions [][]float64, labels []int, numClasses int) Scores {
	return Scores{
		MAP:   MAP(predictions, labels, numClasses),
		Prec1: HitK(predictions, labels, 1),
		Prec5: HitK(predictions, labels, 5),
	}
}
