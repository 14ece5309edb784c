package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"athena/internal/domain/agent"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// ReleaseKind classifies how an assignment ended
type ReleaseKind int

const (
	ReleaseCompleted ReleaseKind = iota
	ReleaseFailed
	ReleaseCancelled
)

// ReleaseOutcome carries per-assignment stats back into the agent's
// rolling averages
type ReleaseOutcome struct {
	Kind       ReleaseKind
	Duration   time.Duration
	Confidence float64
}

type registryEntry struct {
	mu sync.Mutex
	ag *agent.Agent
}

// Registry holds known agents and their load/performance counters.
// Counter mutations happen under a per-agent lock so concurrent task
// executions touching the same agent cannot race. Mutations are
// mirrored to the repository; counter drift on a failed write is
// tolerated and logged, the in-memory state stays authoritative.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*registryEntry
	order   []uuid.UUID

	repo agent.Repository
	log  *logger.Logger
}

// NewRegistry constructs a registry backed by the given repository.
// A nil repository keeps the registry purely in-memory (used in tests).
func NewRegistry(repo agent.Repository) *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*registryEntry),
		repo:    repo,
		log:     logger.Get().With("component", "agent_registry"),
	}
}

// Register adds an agent, persisting the record when a repository is
// configured. Registration order is preserved for deterministic
// selection tie-breaks.
func (r *Registry) Register(ctx context.Context, ag *agent.Agent) error {
	if ag == nil || ag.ID == uuid.Nil {
		return errors.ErrInvalidInput
	}
	if ag.MaxConcurrency <= 0 {
		return errors.NewValidationError("max_concurrency", "must be positive", ag.MaxConcurrency)
	}

	r.mu.Lock()
	if _, exists := r.entries[ag.ID]; exists {
		r.mu.Unlock()
		return errors.ErrAlreadyExists
	}
	cp := *ag
	r.entries[ag.ID] = &registryEntry{ag: &cp}
	r.order = append(r.order, ag.ID)
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Create(ctx, ag); err != nil {
			return errors.Wrap(errors.ErrPersistenceUnavailable, err.Error())
		}
	}

	r.log.Infow("Agent registered", "agent_id", ag.ID, "name", ag.Name, "type", ag.Type)
	return nil
}

// Load adds an agent already present in storage, skipping the
// persistence step Register performs. Used when hydrating the registry
// at startup.
func (r *Registry) Load(ag *agent.Agent) error {
	if ag == nil || ag.ID == uuid.Nil {
		return errors.ErrInvalidInput
	}
	if ag.MaxConcurrency <= 0 {
		return errors.NewValidationError("max_concurrency", "must be positive", ag.MaxConcurrency)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[ag.ID]; exists {
		return errors.ErrAlreadyExists
	}
	cp := *ag
	r.entries[ag.ID] = &registryEntry{ag: &cp}
	r.order = append(r.order, ag.ID)
	return nil
}

// Get returns a copy of the agent's current state
func (r *Registry) Get(id uuid.UUID) (*agent.Agent, bool) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	cp := *entry.ag
	entry.mu.Unlock()
	return &cp, true
}

// Snapshot returns copies of all agents in registration order
func (r *Registry) Snapshot() []*agent.Agent {
	r.mu.RLock()
	ids := make([]uuid.UUID, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	out := make([]*agent.Agent, 0, len(ids))
	for _, id := range ids {
		if ag, ok := r.Get(id); ok {
			out = append(out, ag)
		}
	}
	return out
}

// SnapshotByType returns copies of agents of one type in registration order
func (r *Registry) SnapshotByType(t agent.Type) []*agent.Agent {
	all := r.Snapshot()
	out := make([]*agent.Agent, 0, len(all))
	for _, ag := range all {
		if ag.Type == t {
			out = append(out, ag)
		}
	}
	return out
}

// Acquire reserves one concurrency slot on the agent. The caller must
// pair every successful Acquire with exactly one Release, on every
// exit path.
func (r *Registry) Acquire(ctx context.Context, id uuid.UUID) error {
	entry, err := r.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	ag := entry.ag
	if !ag.Available() {
		entry.mu.Unlock()
		return errors.Wrapf(errors.ErrNoAvailableAgent, "agent %s not available", id)
	}
	ag.CurrentConcurrency++
	ag.TotalTasks++
	ag.LastActiveAt = time.Now().UTC()
	if ag.CurrentConcurrency >= ag.MaxConcurrency {
		ag.Status = agent.StatusBusy
	}
	cp := *ag
	entry.mu.Unlock()

	r.persist(ctx, &cp)
	return nil
}

// Release returns a concurrency slot and folds the outcome into the
// agent's counters and rolling averages.
func (r *Registry) Release(ctx context.Context, id uuid.UUID, outcome ReleaseOutcome) {
	entry, err := r.entry(id)
	if err != nil {
		r.log.Warnw("Release for unknown agent", "agent_id", id)
		return
	}

	entry.mu.Lock()
	ag := entry.ag
	if ag.CurrentConcurrency > 0 {
		ag.CurrentConcurrency--
	}
	if ag.Status == agent.StatusBusy && ag.CurrentConcurrency < ag.MaxConcurrency {
		ag.Status = agent.StatusActive
	}

	switch outcome.Kind {
	case ReleaseCompleted:
		ag.CompletedTasks++
		n := float64(ag.CompletedTasks)
		ag.AvgResponseTime += time.Duration(float64(outcome.Duration-ag.AvgResponseTime) / n)
		ag.AvgConfidence += (outcome.Confidence - ag.AvgConfidence) / n
	case ReleaseFailed:
		ag.FailedTasks++
	}
	ag.LastActiveAt = time.Now().UTC()
	cp := *ag
	entry.mu.Unlock()

	r.persist(ctx, &cp)
}

// SetStatus transitions an agent's status, persisting before applying.
// Used by the health sweep; a failed write leaves the in-memory status
// untouched.
func (r *Registry) SetStatus(ctx context.Context, id uuid.UUID, status agent.Status) error {
	entry, err := r.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	cp := *entry.ag
	cp.Status = status
	cp.UpdatedAt = time.Now().UTC()

	if r.repo != nil {
		if err := r.repo.Update(ctx, &cp); err != nil {
			return errors.Wrap(errors.ErrPersistenceUnavailable, err.Error())
		}
	}

	entry.ag.Status = status
	entry.ag.UpdatedAt = cp.UpdatedAt
	return nil
}

func (r *Registry) entry(id uuid.UUID) (*registryEntry, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "agent %s", id)
	}
	return entry, nil
}

func (r *Registry) persist(ctx context.Context, ag *agent.Agent) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Update(ctx, ag); err != nil {
		r.log.Warnw("Agent counter write-through failed", "agent_id", ag.ID, "error", err)
	}
}
