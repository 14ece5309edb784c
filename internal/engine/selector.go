package engine

import (
	"sort"

	"athena/internal/domain/agent"
	"athena/pkg/errors"
)

// Select picks the best agent from the candidate set: least loaded
// first, then highest performance score, then fastest average response.
// The sort is stable, so candidates tied on all three keys keep their
// registration order and selection stays deterministic.
//
// Selection is pure; the caller owns Acquire/Release bookkeeping.
func Select(candidates []*agent.Agent, requireAvailable bool) (*agent.Agent, error) {
	ranked, err := rank(candidates, requireAvailable)
	if err != nil {
		return nil, err
	}
	return ranked[0], nil
}

// SelectN picks up to n agents in ranking order
func SelectN(candidates []*agent.Agent, n int, requireAvailable bool) ([]*agent.Agent, error) {
	if n <= 0 {
		return nil, errors.NewValidationError("n", "must be positive", n)
	}

	ranked, err := rank(candidates, requireAvailable)
	if err != nil {
		return nil, err
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// SelectPerType picks the best available agent of each type present in
// the candidate set, ordered by the canonical type order.
func SelectPerType(candidates []*agent.Agent) ([]*agent.Agent, error) {
	byType := make(map[agent.Type][]*agent.Agent)
	for _, c := range candidates {
		byType[c.Type] = append(byType[c.Type], c)
	}

	out := make([]*agent.Agent, 0, len(byType))
	for _, t := range agent.AllTypes {
		group, ok := byType[t]
		if !ok {
			continue
		}
		best, err := Select(group, true)
		if err != nil {
			continue // no eligible agent of this type
		}
		out = append(out, best)
	}

	if len(out) == 0 {
		return nil, errors.ErrNoAvailableAgent
	}
	return out, nil
}

func rank(candidates []*agent.Agent, requireAvailable bool) ([]*agent.Agent, error) {
	eligible := make([]*agent.Agent, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if requireAvailable && !c.Available() {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, errors.ErrNoAvailableAgent
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.LoadRate() != b.LoadRate() {
			return a.LoadRate() < b.LoadRate()
		}
		if a.PerformanceScore() != b.PerformanceScore() {
			return a.PerformanceScore() > b.PerformanceScore()
		}
		return a.AvgResponseTime < b.AvgResponseTime
	})

	return eligible, nil
}
