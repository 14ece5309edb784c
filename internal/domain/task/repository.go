package task

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for task storage operations.
// Completed tasks are retained as immutable history; they feed the
// selector's performance statistics.
type Repository interface {
	// Create persists a new task
	Create(ctx context.Context, t *Task) error

	// GetByID retrieves a task by id
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)

	// Update persists the task's current state
	Update(ctx context.Context, t *Task) error

	// AppendOpinion appends one opinion to the task's opinion log
	AppendOpinion(ctx context.Context, taskID uuid.UUID, op *Opinion) error

	// List retrieves all tasks
	List(ctx context.Context) ([]*Task, error)

	// ListByStatus retrieves tasks in a given status
	ListByStatus(ctx context.Context, status Status) ([]*Task, error)
}
