package engine

import (
	"context"
	"fmt"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// DebateStrategy runs multiple sequential rounds. Within a round every
// agent produces one opinion informed by the previous round's opinions.
// The debate stops early once round consensus clears the threshold,
// even when the round budget is not exhausted.
type DebateStrategy struct {
	invoker   Invoker
	pool      *Pool
	threshold float64
	name      string
	log       *logger.Logger
}

// NewDebateStrategy builds a structured debate with the standard
// early-stop threshold.
func NewDebateStrategy(invoker Invoker, pool *Pool, threshold float64) *DebateStrategy {
	return newDebate(invoker, pool, threshold, "debate")
}

// NewConsensusBuildingStrategy is a debate with a caller-supplied
// target consensus, used when a specific agreement bar must be met.
func NewConsensusBuildingStrategy(invoker Invoker, pool *Pool, target float64) *DebateStrategy {
	return newDebate(invoker, pool, target, "consensus_building")
}

func newDebate(invoker Invoker, pool *Pool, threshold float64, name string) *DebateStrategy {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &DebateStrategy{
		invoker:   invoker,
		pool:      pool,
		threshold: threshold,
		name:      name,
		log:       logger.Get().With("strategy", name),
	}
}

func (s *DebateStrategy) Name() string { return s.name }

func (s *DebateStrategy) Execute(ctx context.Context, participants []*agent.Agent, run Run) ([]task.Opinion, []PartialFailure, error) {
	rounds := run.Rounds
	if rounds <= 0 {
		rounds = task.DefaultRounds
	}

	var (
		all      []task.Opinion
		failures []PartialFailure
		prior    []task.Opinion
	)

	for round := 1; round <= rounds; round++ {
		if ctx.Err() != nil {
			break
		}

		roundOps, roundFails := fanOut(ctx, s.invoker, s.pool, participants, run, prior, round)
		all = append(all, roundOps...)
		failures = append(failures, roundFails...)

		consensus := RoundConsensus(roundOps)
		run.report(float64(round)/float64(rounds)*100, fmt.Sprintf("round %d consensus %.2f", round, consensus))
		s.log.Debugw("Debate round finished",
			"round", round, "opinions", len(roundOps), "consensus", consensus)

		if len(roundOps) > 0 && consensus > s.threshold {
			s.log.Infow("Consensus reached, stopping early",
				"round", round, "consensus", consensus, "threshold", s.threshold)
			break
		}

		prior = roundOps
	}

	if len(all) == 0 {
		if ctx.Err() != nil {
			return nil, failures, errors.Wrap(errors.ErrTimeout, ctx.Err().Error())
		}
		return nil, failures, errors.ErrAllParticipantsFailed
	}
	return all, failures, nil
}
