package engine

import (
	"strings"

	"athena/internal/domain/task"
)

// tokenSet splits content into a set of case-normalized tokens
func tokenSet(content string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Similarity computes the Jaccard index of two opinions' token sets.
// Two empty opinions are fully similar; a non-empty opinion shares
// nothing with an empty one.
func Similarity(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}

	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// RoundConsensus is the mean pairwise similarity over all unordered
// pairs of opinions. Fewer than two opinions are trivially in
// agreement.
func RoundConsensus(opinions []task.Opinion) float64 {
	if len(opinions) < 2 {
		return 1.0
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(opinions); i++ {
		for j := i + 1; j < len(opinions); j++ {
			sum += Similarity(opinions[i].Content, opinions[j].Content)
			pairs++
		}
	}
	return sum / float64(pairs)
}

// WeightedConsensus is pairwise similarity weighted by the mean
// confidence of each pair, so agreement between confident agents
// counts more than agreement between hedging ones. Falls back to the
// unweighted mean when all confidences are zero.
func WeightedConsensus(opinions []task.Opinion) float64 {
	if len(opinions) < 2 {
		return 1.0
	}

	var weighted, weights float64
	for i := 0; i < len(opinions); i++ {
		for j := i + 1; j < len(opinions); j++ {
			w := (opinions[i].Confidence + opinions[j].Confidence) / 2
			weighted += w * Similarity(opinions[i].Content, opinions[j].Content)
			weights += w
		}
	}
	if weights == 0 {
		return RoundConsensus(opinions)
	}
	return weighted / weights
}
