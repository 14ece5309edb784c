package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/adapters/config"
	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/engine"
	"athena/pkg/errors"
)

// fakeTaskRepo is a minimal in-memory task store for worker tests
type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*task.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[uuid.UUID]*task.Task)}
}

func (r *fakeTaskRepo) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) Update(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) AppendOpinion(ctx context.Context, taskID uuid.UUID, op *task.Opinion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return errors.ErrNotFound
	}
	t.Opinions = append(t.Opinions, *op)
	return nil
}

func (r *fakeTaskRepo) List(ctx context.Context) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeTaskRepo) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	all, _ := r.List(ctx)
	out := make([]*task.Task, 0)
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// stubInvoker answers every agent with a fixed opinion
type stubInvoker struct{}

func (stubInvoker) Invoke(ctx context.Context, ag *agent.Agent, run engine.Run, prior []task.Opinion, round int) (*task.Opinion, error) {
	return &task.Opinion{
		AgentID:    ag.ID,
		AgentType:  ag.Type,
		Content:    "trend intact, hold",
		Confidence: 0.6,
		Round:      round,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func newWorkerOrchestrator(repo *fakeTaskRepo, registry *engine.Registry) *engine.Orchestrator {
	lc := engine.NewLifecycle(repo, nil, nil, nil)
	return engine.NewOrchestrator(lc, registry, stubInvoker{}, engine.NewPool(4),
		engine.NewSynthesizer(engine.DefaultSynthesizerConfig()), engine.OrchestratorConfig{})
}

func marketTrendConfig() config.WorkerConfig {
	return config.WorkerConfig{
		MarketTrendEnabled:   true,
		MarketTrendInterval:  15 * time.Minute,
		MarketTrendOpenHour:  9,
		MarketTrendCloseHour: 17,
	}
}

func TestMarketTrend_ActiveWindow(t *testing.T) {
	w := NewMarketTrendWorker(nil, nil, marketTrendConfig())

	// 2026-08-26 is a Wednesday, 2026-08-29 a Saturday.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"weekday mid-session", time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC), true},
		{"weekday at open", time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC), true},
		{"weekday before open", time.Date(2026, 8, 26, 8, 59, 0, 0, time.UTC), false},
		{"weekday at close", time.Date(2026, 8, 26, 17, 0, 0, 0, time.UTC), false},
		{"saturday mid-session", time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC), false},
		{"sunday mid-session", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.inActiveWindow(tt.at))
		})
	}
}

func TestMarketTrend_SkipsOutsideTradingHours(t *testing.T) {
	repo := newFakeTaskRepo()
	registry := engine.NewRegistry(nil)
	require.NoError(t, registry.Load(sweepAgent("tech", agent.StatusActive)))

	w := NewMarketTrendWorker(newWorkerOrchestrator(repo, registry), registry, marketTrendConfig())
	w.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, repo.count())
}

func TestMarketTrend_RunsOneAnalysisPerIteration(t *testing.T) {
	repo := newFakeTaskRepo()
	registry := engine.NewRegistry(nil)

	tech := sweepAgent("tech", agent.StatusActive)
	sent := sweepAgent("sent", agent.StatusActive)
	sent.Type = agent.TypeSentiment
	require.NoError(t, registry.Load(tech))
	require.NoError(t, registry.Load(sent))

	w := NewMarketTrendWorker(newWorkerOrchestrator(repo, registry), registry, marketTrendConfig())
	w.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, w.Run(context.Background()))

	done, err := repo.ListByStatus(context.Background(), task.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, task.KindMarketTrend, done[0].Kind)
	assert.Contains(t, done[0].Topic, "broad market trend 2026-08-26")
	assert.Len(t, done[0].Opinions, 2)
}

func TestMarketTrend_NoEligibleAgentsIsNotAnError(t *testing.T) {
	repo := newFakeTaskRepo()
	registry := engine.NewRegistry(nil)

	w := NewMarketTrendWorker(newWorkerOrchestrator(repo, registry), registry, marketTrendConfig())
	w.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, repo.count())
}
