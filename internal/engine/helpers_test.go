package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/pkg/errors"
)

// testAgent builds an active agent with sane defaults for tests
func testAgent(name string, t agent.Type, maxConcurrency int) *agent.Agent {
	now := time.Now().UTC()
	return &agent.Agent{
		ID:             uuid.New(),
		Name:           name,
		Type:           t,
		Status:         agent.StatusActive,
		MaxConcurrency: maxConcurrency,
		LastActiveAt:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// scriptedInvoker lets each test decide what every agent call returns
type scriptedInvoker struct {
	mu    sync.Mutex
	calls []invokeCall
	fn    func(ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error)
}

type invokeCall struct {
	AgentID uuid.UUID
	Round   int
	Prior   int
}

func (s *scriptedInvoker) Invoke(ctx context.Context, ag *agent.Agent, run Run, prior []task.Opinion, round int) (*task.Opinion, error) {
	s.mu.Lock()
	s.calls = append(s.calls, invokeCall{AgentID: ag.ID, Round: round, Prior: len(prior)})
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fn(ag, run, prior, round)
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// opinionFrom builds a stamped opinion the way the invoker would
func opinionFrom(ag *agent.Agent, content string, confidence float64, round int) *task.Opinion {
	return &task.Opinion{
		AgentID:    ag.ID,
		AgentType:  ag.Type,
		Content:    content,
		Confidence: confidence,
		Round:      round,
		CreatedAt:  time.Now().UTC(),
	}
}

// memTaskRepo is an in-memory task.Repository. failNext makes the next
// write fail, for persist-then-apply assertions.
type memTaskRepo struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*task.Task
	failNext bool
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[uuid.UUID]*task.Task)}
}

func (r *memTaskRepo) checkFail() error {
	if r.failNext {
		r.failNext = false
		return errors.New("storage down")
	}
	return nil
}

func (r *memTaskRepo) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFail(); err != nil {
		return err
	}
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memTaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTaskRepo) Update(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFail(); err != nil {
		return err
	}
	if _, ok := r.tasks[t.ID]; !ok {
		return errors.ErrNotFound
	}
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memTaskRepo) AppendOpinion(ctx context.Context, taskID uuid.UUID, op *task.Opinion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFail(); err != nil {
		return err
	}
	t, ok := r.tasks[taskID]
	if !ok {
		return errors.ErrNotFound
	}
	t.Opinions = append(t.Opinions, *op)
	return nil
}

func (r *memTaskRepo) List(ctx context.Context) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memTaskRepo) ListByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	all, _ := r.List(ctx)
	out := make([]*task.Task, 0, len(all))
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}
