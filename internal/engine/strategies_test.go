package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
)

func TestParallelStrategy_AllSucceed(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("tech", agent.TypeTechnical, 2),
		testAgent("fund", agent.TypeFundamental, 2),
		testAgent("sent", agent.TypeSentiment, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(ag, "hold "+ag.Name, 0.7, round), nil
	}}

	s := NewParallelStrategy(inv, NewPool(2))
	opinions, failures, err := s.Execute(context.Background(), agents, Run{Topic: "AAPL outlook"})

	require.NoError(t, err)
	assert.Len(t, opinions, 3)
	assert.Empty(t, failures)
}

func TestParallelStrategy_PartialFailureIsRecorded(t *testing.T) {
	good := testAgent("good", agent.TypeTechnical, 2)
	bad := testAgent("bad", agent.TypeSentiment, 2)

	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		if ag.ID == bad.ID {
			return nil, errors.New("backend unavailable")
		}
		return opinionFrom(ag, "buy", 0.8, round), nil
	}}

	s := NewParallelStrategy(inv, NewPool(2))
	opinions, failures, err := s.Execute(context.Background(), []*agent.Agent{good, bad}, Run{Topic: "t"})

	require.NoError(t, err)
	require.Len(t, opinions, 1)
	require.Len(t, failures, 1)
	assert.Equal(t, bad.ID, failures[0].AgentID)
	assert.Equal(t, agent.TypeSentiment, failures[0].AgentType)
}

func TestParallelStrategy_AllFail(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("a", agent.TypeTechnical, 2),
		testAgent("b", agent.TypeRisk, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return nil, errors.New("down")
	}}

	s := NewParallelStrategy(inv, nil)
	opinions, failures, err := s.Execute(context.Background(), agents, Run{Topic: "t"})

	assert.ErrorIs(t, err, errors.ErrAllParticipantsFailed)
	assert.Empty(t, opinions)
	assert.Len(t, failures, 2)
}

func TestParallelStrategy_ReportsCompletion(t *testing.T) {
	var (
		mu      sync.Mutex
		lastPct float64
	)
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(ag, "hold", 0.5, round), nil
	}}

	s := NewParallelStrategy(inv, nil)
	_, _, err := s.Execute(context.Background(), []*agent.Agent{testAgent("a", agent.TypeTechnical, 1)}, Run{
		Topic: "t",
		Progress: func(pct float64, step string) {
			mu.Lock()
			lastPct = pct
			mu.Unlock()
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 100.0, lastPct)
}

func TestSequentialStrategy_EachStepSeesPriorOpinions(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("first", agent.TypeTechnical, 2),
		testAgent("second", agent.TypeFundamental, 2),
		testAgent("third", agent.TypeDecision, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(ag, "hold", 0.6, round), nil
	}}

	s := NewSequentialStrategy(inv)
	opinions, failures, err := s.Execute(context.Background(), agents, Run{Topic: "t"})

	require.NoError(t, err)
	assert.Len(t, opinions, 3)
	assert.Empty(t, failures)

	// Steps run in order, each with the accumulated log so far.
	require.Len(t, inv.calls, 3)
	for i, call := range inv.calls {
		assert.Equal(t, agents[i].ID, call.AgentID)
		assert.Equal(t, i, call.Prior)
	}
}

func TestSequentialStrategy_ContinuesPastFailedStep(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("first", agent.TypeTechnical, 2),
		testAgent("second", agent.TypeFundamental, 2),
		testAgent("third", agent.TypeDecision, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		if ag.Name == "second" {
			return nil, errors.New("flaky")
		}
		return opinionFrom(ag, "hold", 0.6, round), nil
	}}

	s := NewSequentialStrategy(inv)
	opinions, failures, err := s.Execute(context.Background(), agents, Run{Topic: "t"})

	require.NoError(t, err)
	assert.Len(t, opinions, 2)
	require.Len(t, failures, 1)
	assert.Equal(t, "second", agents[1].Name)
	assert.Equal(t, agents[1].ID, failures[0].AgentID)

	// The failed step contributes nothing to the third step's context.
	assert.Equal(t, 1, inv.calls[2].Prior)
}

func TestDebateStrategy_StopsEarlyOnConsensus(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("a", agent.TypeTechnical, 2),
		testAgent("b", agent.TypeFundamental, 2),
	}
	// Identical content every round: consensus 1.0 after round one.
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(ag, "strong buy signal", 0.8, round), nil
	}}

	s := NewDebateStrategy(inv, nil, 0.8)
	opinions, _, err := s.Execute(context.Background(), agents, Run{Topic: "t", Rounds: 3})

	require.NoError(t, err)
	assert.Len(t, opinions, 2)
	assert.Equal(t, 2, inv.callCount())
}

func TestDebateStrategy_RunsAllRoundsWithoutConsensus(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("bull", agent.TypeTechnical, 2),
		testAgent("bear", agent.TypeFundamental, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		if ag.Name == "bull" {
			return opinionFrom(ag, "momentum breakout accumulate aggressively", 0.8, round), nil
		}
		return opinionFrom(ag, "valuation stretched reduce exposure", 0.8, round), nil
	}}

	s := NewDebateStrategy(inv, nil, 0.8)
	opinions, _, err := s.Execute(context.Background(), agents, Run{Topic: "t", Rounds: 3})

	require.NoError(t, err)
	assert.Len(t, opinions, 6)
	assert.Equal(t, 6, inv.callCount())
}

func TestDebateStrategy_LaterRoundsSeePreviousRound(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("bull", agent.TypeTechnical, 2),
		testAgent("bear", agent.TypeFundamental, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		if ag.Name == "bull" {
			return opinionFrom(ag, "breakout accumulate", 0.8, round), nil
		}
		return opinionFrom(ag, "overvalued reduce", 0.8, round), nil
	}}

	s := NewDebateStrategy(inv, nil, 0.8)
	_, _, err := s.Execute(context.Background(), agents, Run{Topic: "t", Rounds: 2})
	require.NoError(t, err)

	for _, call := range inv.calls {
		switch call.Round {
		case 1:
			assert.Equal(t, 0, call.Prior)
		case 2:
			assert.Equal(t, 2, call.Prior)
		}
	}
}

func TestConsensusBuildingStrategy_UsesCallerTarget(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("a", agent.TypeRisk, 2),
		testAgent("b", agent.TypeDecision, 2),
	}
	// Half-overlapping content: consensus 1/3 per round, above a 0.2
	// target so the first round already settles it.
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		if ag.Name == "a" {
			return opinionFrom(ag, "alpha beta", 0.7, round), nil
		}
		return opinionFrom(ag, "beta gamma", 0.7, round), nil
	}}

	s := NewConsensusBuildingStrategy(inv, nil, 0.2)
	assert.Equal(t, "consensus_building", s.Name())

	opinions, _, err := s.Execute(context.Background(), agents, Run{Topic: "t", Rounds: 3})
	require.NoError(t, err)
	assert.Len(t, opinions, 2)
}

func TestDebateStrategy_InvalidThresholdFallsBack(t *testing.T) {
	s := NewDebateStrategy(&scriptedInvoker{}, nil, 1.7)
	assert.InDelta(t, 0.8, s.threshold, 1e-9)
}
