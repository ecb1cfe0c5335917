package structure

import (
	"sort"

	"github.com/pavelanni/papergen/internal/model"
)

// candidate is a topic found in text, with its weight if one was stated.
type candidate struct {
	name      string
	weight    int
	hasWeight bool
	source    string
}

// assignWeights fills missing weights and returns topics summing to 100.
// Unweighted topics share what the stated weights leave over; when no weight is
// stated, 100 is split equally. Totals other than 100 are rescaled.
func assignWeights(cands []candidate) []model.ExtractedTopic {
	if len(cands) == 0 {
		return nil
	}

	weights := make([]int, len(cands))
	explicit := 0
	var unassigned []int
	for i, c := range cands {
		if c.hasWeight {
			weights[i] = c.weight
			explicit += c.weight
		} else {
			unassigned = append(unassigned, i)
		}
	}

	if len(unassigned) > 0 {
		remainder := 100 - explicit
		if len(unassigned) == len(cands) {
			remainder = 100
		}
		if remainder < 0 {
			remainder = 0
		}
		for j, share := range distribute(remainder, len(unassigned)) {
			weights[unassigned[j]] = share
		}
	}

	weights = normalize(weights, 100)

	topics := make([]model.ExtractedTopic, len(cands))
	for i, c := range cands {
		topics[i] = model.ExtractedTopic{Name: c.name, Weightage: weights[i]}
	}
	return topics
}

// distribute splits total into n integer shares that differ by at most one.
func distribute(total, n int) []int {
	if n <= 0 {
		return nil
	}
	shares := make([]int, n)
	base, extra := total/n, total%n
	for i := range shares {
		shares[i] = base
		if i < extra {
			shares[i]++
		}
	}
	return shares
}

// normalize rescales weights to sum to target using the largest-remainder method.
// All-zero input is split equally.
func normalize(weights []int, target int) []int {
	sum := 0
	for _, w := range weights {
		sum += w
	}
	if sum == target {
		return weights
	}
	if sum == 0 {
		return distribute(target, len(weights))
	}

	out := make([]int, len(weights))
	type frac struct {
		idx int
		rem int
	}
	fracs := make([]frac, len(weights))
	assigned := 0
	for i, w := range weights {
		scaled := w * target
		out[i] = scaled / sum
		fracs[i] = frac{idx: i, rem: scaled % sum}
		assigned += out[i]
	}
	sort.SliceStable(fracs, func(a, b int) bool { return fracs[a].rem > fracs[b].rem })
	for i := 0; assigned < target; i++ {
		out[fracs[i%len(fracs)].idx]++
		assigned++
	}
	return out
}

// sortByWeight orders topics by weightage, highest first, keeping ties in place.
func sortByWeight(topics []model.ExtractedTopic) {
	sort.SliceStable(topics, func(i, j int) bool { return topics[i].Weightage > topics[j].Weightage })
}
