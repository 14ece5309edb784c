package agent

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for agent data access
type Repository interface {
	// Create creates a new agent record
	Create(ctx context.Context, agent *Agent) error

	// GetByID retrieves agent by primary key
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)

	// Update updates agent status and counters
	Update(ctx context.Context, agent *Agent) error

	// List retrieves all agents
	List(ctx context.Context) ([]*Agent, error)

	// ListActive retrieves only active agents
	ListActive(ctx context.Context) ([]*Agent, error)

	// ListActiveByType retrieves active agents filtered by type
	ListActiveByType(ctx context.Context, agentType Type) ([]*Agent, error)
}
