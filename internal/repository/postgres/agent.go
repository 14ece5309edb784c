package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"athena/internal/domain/agent"
	"athena/pkg/errors"
)

// Compile-time check
var _ agent.Repository = (*AgentRepository)(nil)

// AgentRepository implements agent.Repository using sqlx
type AgentRepository struct {
	db DBTX
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db DBTX) *AgentRepository {
	return &AgentRepository{db: db}
}

// Create inserts a new agent
func (r *AgentRepository) Create(ctx context.Context, a *agent.Agent) error {
	query := `
		INSERT INTO agents (
			id, name, type, status,
			current_concurrency, max_concurrency,
			total_tasks, completed_tasks, failed_tasks,
			avg_response_time, avg_confidence, avg_accuracy,
			last_active_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Type, a.Status,
		a.CurrentConcurrency, a.MaxConcurrency,
		a.TotalTasks, a.CompletedTasks, a.FailedTasks,
		a.AvgResponseTime, a.AvgConfidence, a.AvgAccuracy,
		a.LastActiveAt, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetByID retrieves an agent by id
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*agent.Agent, error) {
	var a agent.Agent

	query := `SELECT * FROM agents WHERE id = $1`

	if err := r.db.GetContext(ctx, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "agent %s", id)
		}
		return nil, err
	}
	return &a, nil
}

// Update persists agent status and counters
func (r *AgentRepository) Update(ctx context.Context, a *agent.Agent) error {
	query := `
		UPDATE agents SET
			name = $2,
			status = $3,
			current_concurrency = $4,
			max_concurrency = $5,
			total_tasks = $6,
			completed_tasks = $7,
			failed_tasks = $8,
			avg_response_time = $9,
			avg_confidence = $10,
			avg_accuracy = $11,
			last_active_at = $12,
			updated_at = $13
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Status,
		a.CurrentConcurrency, a.MaxConcurrency,
		a.TotalTasks, a.CompletedTasks, a.FailedTasks,
		a.AvgResponseTime, a.AvgConfidence, a.AvgAccuracy,
		a.LastActiveAt, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "agent %s", a.ID)
	}
	return nil
}

// List retrieves all agents
func (r *AgentRepository) List(ctx context.Context) ([]*agent.Agent, error) {
	var agents []*agent.Agent

	query := `SELECT * FROM agents ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &agents, query); err != nil {
		return nil, err
	}
	return agents, nil
}

// ListActive retrieves active agents
func (r *AgentRepository) ListActive(ctx context.Context) ([]*agent.Agent, error) {
	var agents []*agent.Agent

	query := `SELECT * FROM agents WHERE status = 'active' ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &agents, query); err != nil {
		return nil, err
	}
	return agents, nil
}

// ListActiveByType retrieves active agents of one type
func (r *AgentRepository) ListActiveByType(ctx context.Context, agentType agent.Type) ([]*agent.Agent, error) {
	var agents []*agent.Agent

	query := `SELECT * FROM agents WHERE status = 'active' AND type = $1 ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &agents, query, agentType); err != nil {
		return nil, err
	}
	return agents, nil
}
