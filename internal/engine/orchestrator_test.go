package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
)

type orchestratorFixture struct {
	orch     *Orchestrator
	lc       *Lifecycle
	registry *Registry
	repo     *memTaskRepo
	agents   []*agent.Agent
}

func newOrchestratorFixture(t *testing.T, inv Invoker, agents ...*agent.Agent) *orchestratorFixture {
	t.Helper()

	repo := newMemTaskRepo()
	lc := NewLifecycle(repo, newMemResultCache(), nil, &recordingNotifier{})
	registry := NewRegistry(nil)
	for _, ag := range agents {
		require.NoError(t, registry.Register(context.Background(), ag))
	}

	orch := NewOrchestrator(lc, registry, inv, NewPool(4), NewSynthesizer(DefaultSynthesizerConfig()), OrchestratorConfig{
		SessionTimeout:           time.Minute,
		DebateEarlyStopConsensus: 0.8,
	})

	return &orchestratorFixture{orch: orch, lc: lc, registry: registry, repo: repo, agents: agents}
}

func participantIDs(agents []*agent.Agent) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(agents))
	for _, ag := range agents {
		ids = append(ids, ag.ID)
	}
	return ids
}

func TestOrchestrator_ParallelRunCompletes(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("tech", agent.TypeTechnical, 2),
		testAgent("fund", agent.TypeFundamental, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(ag, "clear buy setup here", 0.8, round), nil
	}}
	f := newOrchestratorFixture(t, inv, agents...)
	ctx := context.Background()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "AAPL outlook",
		Mode:         task.ModeParallel,
		Participants: participantIDs(agents),
		OwnerID:      uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.Run(ctx, created.ID))

	got, err := f.lc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, task.RecommendationBuy, got.Result.Recommendation)
	assert.Len(t, got.Opinions, 2)

	// Every acquired slot was returned and the completions were
	// credited to the agents.
	for _, ag := range agents {
		cur, _ := f.registry.Get(ag.ID)
		assert.Equal(t, 0, cur.CurrentConcurrency)
		assert.Equal(t, int64(1), cur.CompletedTasks)
	}
}

func TestOrchestrator_AllAgentsFailingFailsTask(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("tech", agent.TypeTechnical, 2),
		testAgent("fund", agent.TypeFundamental, 2),
	}
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return nil, errors.New("producer down")
	}}
	f := newOrchestratorFixture(t, inv, agents...)
	ctx := context.Background()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeParallel,
		Participants: participantIDs(agents),
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.Run(ctx, created.ID))

	got, _ := f.lc.Get(ctx, created.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, errors.ErrAllParticipantsFailed.Error())
	assert.True(t, got.CanRetry())

	for _, ag := range agents {
		cur, _ := f.registry.Get(ag.ID)
		assert.Equal(t, 0, cur.CurrentConcurrency)
		assert.Equal(t, int64(1), cur.FailedTasks)
	}
}

func TestOrchestrator_PartialFailureStillCompletes(t *testing.T) {
	good := testAgent("good", agent.TypeTechnical, 2)
	bad := testAgent("bad", agent.TypeSentiment, 2)
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		if ag.ID == bad.ID {
			return nil, errors.New("flaky")
		}
		return opinionFrom(ag, "hold for now", 0.6, round), nil
	}}
	f := newOrchestratorFixture(t, inv, good, bad)
	ctx := context.Background()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeParallel,
		Participants: []uuid.UUID{good.ID, bad.ID},
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.Run(ctx, created.ID))

	got, _ := f.lc.Get(ctx, created.ID)
	require.Equal(t, task.StatusCompleted, got.Status)
	assert.Contains(t, got.Result.Synthesis, "1 participants failed to respond")

	goodNow, _ := f.registry.Get(good.ID)
	assert.Equal(t, int64(1), goodNow.CompletedTasks)
	badNow, _ := f.registry.Get(bad.ID)
	assert.Equal(t, int64(1), badNow.FailedTasks)
}

func TestOrchestrator_SingleModePicksBestAgent(t *testing.T) {
	loaded := testAgent("loaded", agent.TypeTechnical, 4)
	loaded.CurrentConcurrency = 3
	idle := testAgent("idle", agent.TypeTechnical, 4)

	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(ag, "buy", 0.7, round), nil
	}}
	f := newOrchestratorFixture(t, inv)
	// Register with pre-set load.
	require.NoError(t, f.registry.Load(loaded))
	require.NoError(t, f.registry.Load(idle))
	ctx := context.Background()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeSingle,
		Participants: []uuid.UUID{loaded.ID, idle.ID},
	})
	require.NoError(t, err)
	require.NoError(t, f.orch.Run(ctx, created.ID))

	got, _ := f.lc.Get(ctx, created.ID)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.Len(t, got.Opinions, 1)
	assert.Equal(t, idle.ID, got.Opinions[0].AgentID)
}

func TestOrchestrator_NoRegisteredParticipantsFailsTask(t *testing.T) {
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(ag, "buy", 0.7, round), nil
	}}
	f := newOrchestratorFixture(t, inv)
	ctx := context.Background()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeParallel,
		Participants: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.Run(ctx, created.ID))

	got, _ := f.lc.Get(ctx, created.ID)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, errors.ErrNoAvailableAgent.Error())
}

func TestOrchestrator_RunRejectsUnknownTask(t *testing.T) {
	inv := &scriptedInvoker{}
	f := newOrchestratorFixture(t, inv)

	err := f.orch.Run(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestOrchestrator_RunRejectsNonPendingTask(t *testing.T) {
	ag := testAgent("tech", agent.TypeTechnical, 2)
	inv := &scriptedInvoker{fn: func(a *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(a, "buy", 0.7, round), nil
	}}
	f := newOrchestratorFixture(t, inv, ag)
	ctx := context.Background()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeParallel,
		Participants: []uuid.UUID{ag.ID},
	})
	require.NoError(t, err)
	require.NoError(t, f.orch.Run(ctx, created.ID))

	// Already completed; a second run is a contract violation.
	err = f.orch.Run(ctx, created.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestOrchestrator_ConsensusModeReadsThresholdFromContext(t *testing.T) {
	a := testAgent("a", agent.TypeRisk, 2)
	b := testAgent("b", agent.TypeDecision, 2)
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		if ag.ID == a.ID {
			return opinionFrom(ag, "alpha beta", 0.7, round), nil
		}
		return opinionFrom(ag, "beta gamma", 0.7, round), nil
	}}
	f := newOrchestratorFixture(t, inv, a, b)
	ctx := context.Background()

	// Round consensus is 1/3; a 0.2 target stops after round one, the
	// default 0.8 would have run all rounds.
	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeConsensus,
		Participants: []uuid.UUID{a.ID, b.ID},
		Rounds:       3,
		Context:      map[string]string{ContextKeyConsensusThreshold: "0.2"},
	})
	require.NoError(t, err)
	require.NoError(t, f.orch.Run(ctx, created.ID))

	got, _ := f.lc.Get(ctx, created.ID)
	require.Equal(t, task.StatusCompleted, got.Status)
	assert.Len(t, got.Opinions, 2)
}

func TestOrchestrator_CancelStopsSequentialPipeline(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("first", agent.TypeTechnical, 2),
		testAgent("second", agent.TypeFundamental, 2),
		testAgent("third", agent.TypeDecision, 2),
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		once.Do(func() { close(started) })
		<-release
		return opinionFrom(ag, "hold for now", 0.6, round), nil
	}}
	f := newOrchestratorFixture(t, inv, agents...)
	ctx := context.Background()
	owner := uuid.New()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeSequential,
		Participants: participantIDs(agents),
		OwnerID:      owner,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx, created.ID) }()

	// Cancel while the first pipeline step is still in flight.
	<-started
	_, err = f.lc.Cancel(ctx, created.ID, owner)
	require.NoError(t, err)
	close(release)

	select {
	case rerr := <-done:
		require.NoError(t, rerr)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	// The pipeline stopped at the next step boundary; steps two and
	// three were never dispatched.
	assert.Equal(t, 1, inv.callCount())

	got, err := f.lc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Opinions)

	// Every acquired slot was returned.
	for _, ag := range agents {
		cur, _ := f.registry.Get(ag.ID)
		assert.Equal(t, 0, cur.CurrentConcurrency)
	}
}

func TestOrchestrator_CancelDiscardsLateResult(t *testing.T) {
	agents := []*agent.Agent{
		testAgent("tech", agent.TypeTechnical, 2),
		testAgent("fund", agent.TypeFundamental, 2),
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inv := &scriptedInvoker{fn: func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		once.Do(func() { close(started) })
		<-release
		return opinionFrom(ag, "clear buy setup here", 0.8, round), nil
	}}
	f := newOrchestratorFixture(t, inv, agents...)
	ctx := context.Background()
	owner := uuid.New()

	created, err := f.lc.Create(ctx, task.Spec{
		Topic:        "t",
		Mode:         task.ModeParallel,
		Participants: participantIDs(agents),
		OwnerID:      owner,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx, created.ID) }()

	<-started
	_, err = f.lc.Cancel(ctx, created.ID, owner)
	require.NoError(t, err)
	close(release)

	select {
	case rerr := <-done:
		require.NoError(t, rerr)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	// The agents finished their work, but the cancelled task keeps
	// neither their opinions nor a result.
	got, err := f.lc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Opinions)

	for _, ag := range agents {
		cur, _ := f.registry.Get(ag.ID)
		assert.Equal(t, 0, cur.CurrentConcurrency)
	}
}

func TestOrchestrator_RunBatchExecutesAll(t *testing.T) {
	ag := testAgent("tech", agent.TypeTechnical, 8)
	inv := &scriptedInvoker{fn: func(a *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
		return opinionFrom(a, "hold", 0.6, round), nil
	}}
	f := newOrchestratorFixture(t, inv, ag)
	ctx := context.Background()

	ids := make([]uuid.UUID, 0, 5)
	for i := 0; i < 5; i++ {
		created, err := f.lc.Create(ctx, task.Spec{
			Topic:        "batch topic",
			Mode:         task.ModeParallel,
			Participants: []uuid.UUID{ag.ID},
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	f.orch.RunBatch(ctx, ids)

	for _, id := range ids {
		got, err := f.lc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
	}
}
