package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"athena/internal/domain/task"
)

// Event types emitted by the engine
const (
	EventTaskCreated   = "task.created"
	EventTaskStarted   = "task.started"
	EventTaskProgress  = "task.progress"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"
	EventTaskRetried   = "task.retried"
	EventAgentHealth   = "agent.health"
	EventEmergency     = "emergency.triggered"
)

// Event is a best-effort notification keyed by task id and topic
type Event struct {
	Type    string                 `json:"type"`
	TaskID  uuid.UUID              `json:"task_id,omitempty"`
	Topic   string                 `json:"topic,omitempty"`
	At      time.Time              `json:"at"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Notifier delivers events fire-and-forget: the engine awaits no
// acknowledgement and owns no retries.
type Notifier interface {
	Publish(ctx context.Context, e Event)
}

// ResultCache is the owned, TTL-evicted store for synthesized results
type ResultCache interface {
	Store(ctx context.Context, taskID uuid.UUID, result *task.Result) error
	Fetch(ctx context.Context, taskID uuid.UUID) (*task.Result, error)
	Purge(ctx context.Context) error
}

// OpinionHistory records the opinion log of finished tasks for
// offline analytics
type OpinionHistory interface {
	Append(ctx context.Context, taskID uuid.UUID, topic string, opinions []task.Opinion) error
}
