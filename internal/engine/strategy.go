package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// PartialFailure records one agent's failure during a strategy run.
// It is data, not a hard error: the strategy proceeds with the
// remaining agents.
type PartialFailure struct {
	AgentID   uuid.UUID
	AgentType agent.Type
	Err       error
}

// Run carries the per-execution inputs shared by all strategies
type Run struct {
	Topic   string
	Context map[string]string
	Rounds  int

	// Progress, when set, receives completion percentage and a step
	// label as the strategy advances.
	Progress func(pct float64, step string)
}

func (r Run) report(pct float64, step string) {
	if r.Progress != nil {
		r.Progress(pct, step)
	}
}

// Invoker produces one agent's opinion for a topic. Implementations
// apply per-call timeouts and rate limits; prior opinions carry the
// accumulated context for sequential and debate modes.
type Invoker interface {
	Invoke(ctx context.Context, ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error)
}

// Strategy executes a set of agents against a topic and returns their
// opinions plus recorded per-agent failures. A strategy only errors
// when zero agents produced an opinion.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, participants []*agent.Agent, run Run) ([]task.Opinion, []PartialFailure, error)
}

// ParallelStrategy dispatches one unit of work per agent against the
// same topic and waits for all of them. No ordering between agents is
// guaranteed; all results or failures are observed before returning.
type ParallelStrategy struct {
	invoker Invoker
	pool    *Pool
	log     *logger.Logger
}

// NewParallelStrategy wires parallel fan-out over the shared pool
func NewParallelStrategy(invoker Invoker, pool *Pool) *ParallelStrategy {
	return &ParallelStrategy{
		invoker: invoker,
		pool:    pool,
		log:     logger.Get().With("strategy", "parallel"),
	}
}

func (s *ParallelStrategy) Name() string { return "parallel" }

func (s *ParallelStrategy) Execute(ctx context.Context, participants []*agent.Agent, run Run) ([]task.Opinion, []PartialFailure, error) {
	opinions, failures := fanOut(ctx, s.invoker, s.pool, participants, run, nil, 1)
	run.report(100, "parallel analysis complete")

	if len(opinions) == 0 {
		if ctx.Err() != nil {
			return nil, failures, errors.Wrap(errors.ErrTimeout, ctx.Err().Error())
		}
		return nil, failures, errors.ErrAllParticipantsFailed
	}
	return opinions, failures, nil
}

// SequentialStrategy runs agents strictly one after another. Each step
// sees all prior opinions; a failed step is recorded and the pipeline
// continues without its opinion.
type SequentialStrategy struct {
	invoker Invoker
	log     *logger.Logger
}

// NewSequentialStrategy wires the pipeline strategy
func NewSequentialStrategy(invoker Invoker) *SequentialStrategy {
	return &SequentialStrategy{
		invoker: invoker,
		log:     logger.Get().With("strategy", "sequential"),
	}
}

func (s *SequentialStrategy) Name() string { return "sequential" }

func (s *SequentialStrategy) Execute(ctx context.Context, participants []*agent.Agent, run Run) ([]task.Opinion, []PartialFailure, error) {
	var (
		opinions []task.Opinion
		failures []PartialFailure
	)

	for i, ag := range participants {
		if ctx.Err() != nil {
			break
		}

		op, err := s.invoker.Invoke(ctx, ag, run, opinions, 1)
		if err != nil {
			s.log.Warnw("Pipeline step failed, continuing",
				"step", i+1, "agent_id", ag.ID, "error", err)
			failures = append(failures, PartialFailure{AgentID: ag.ID, AgentType: ag.Type, Err: err})
		} else {
			opinions = append(opinions, *op)
		}

		run.report(float64(i+1)/float64(len(participants))*100, "pipeline step "+ag.Name)
	}

	if len(opinions) == 0 {
		if ctx.Err() != nil {
			return nil, failures, errors.Wrap(errors.ErrTimeout, ctx.Err().Error())
		}
		return nil, failures, errors.ErrAllParticipantsFailed
	}
	return opinions, failures, nil
}

// fanOut invokes every agent concurrently through the shared pool and
// joins on all of them. Used by parallel analysis and by each debate
// round.
func fanOut(ctx context.Context, invoker Invoker, pool *Pool, participants []*agent.Agent, run Run, prior []task.Opinion, round int) ([]task.Opinion, []PartialFailure) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		opinions []task.Opinion
		failures []PartialFailure
	)

	for _, ag := range participants {
		ag := ag
		wg.Add(1)

		submit := func() {
			defer wg.Done()
			op, err := invoker.Invoke(ctx, ag, run, prior, round)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, PartialFailure{AgentID: ag.ID, AgentType: ag.Type, Err: err})
				return
			}
			opinions = append(opinions, *op)
		}

		if pool != nil {
			if err := pool.Submit(ctx, submit); err != nil {
				wg.Done()
				mu.Lock()
				failures = append(failures, PartialFailure{AgentID: ag.ID, AgentType: ag.Type, Err: err})
				mu.Unlock()
			}
		} else {
			go submit()
		}
	}

	wg.Wait()
	return opinions, failures
}
