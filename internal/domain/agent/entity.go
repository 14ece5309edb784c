package agent

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates agent analytical capabilities
type Type string

const (
	TypeTechnical   Type = "technical"
	TypeFundamental Type = "fundamental"
	TypeSentiment   Type = "sentiment"
	TypeRisk        Type = "risk"
	TypeMarket      Type = "market"
	TypeDecision    Type = "decision"
	TypeMonitoring  Type = "monitoring"
)

// AllTypes lists every known agent type in a stable order
var AllTypes = []Type{
	TypeTechnical,
	TypeFundamental,
	TypeSentiment,
	TypeRisk,
	TypeMarket,
	TypeDecision,
	TypeMonitoring,
}

// Status enumerates agent lifecycle states
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
	StatusBusy     Status = "busy"
)

// Agent represents a unit of analytical capability with load and
// performance state. Counters are mutated on every task start/finish;
// agents referenced by task history are deactivated, never deleted.
type Agent struct {
	ID   uuid.UUID `db:"id"`
	Name string    `db:"name"`
	Type Type      `db:"type"`

	Status             Status `db:"status"`
	CurrentConcurrency int    `db:"current_concurrency"`
	MaxConcurrency     int    `db:"max_concurrency"`

	TotalTasks     int64 `db:"total_tasks"`
	CompletedTasks int64 `db:"completed_tasks"`
	FailedTasks    int64 `db:"failed_tasks"`

	AvgResponseTime time.Duration `db:"avg_response_time"`
	AvgConfidence   float64       `db:"avg_confidence"`
	AvgAccuracy     float64       `db:"avg_accuracy"`

	LastActiveAt time.Time `db:"last_active_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// LoadRate returns currentConcurrency / maxConcurrency in [0,1]
func (a *Agent) LoadRate() float64 {
	if a.MaxConcurrency <= 0 {
		return 1.0
	}
	return float64(a.CurrentConcurrency) / float64(a.MaxConcurrency)
}

// SuccessRate returns completedTasks / totalTasks.
// The second return is false when no tasks have been attempted yet.
func (a *Agent) SuccessRate() (float64, bool) {
	if a.TotalTasks == 0 {
		return 0, false
	}
	return float64(a.CompletedTasks) / float64(a.TotalTasks), true
}

// PerformanceScore blends success rate, confidence and accuracy into a
// single [0,1] ranking key. Agents without history score a neutral 0.5
// on the success component so new agents are neither favored nor starved.
func (a *Agent) PerformanceScore() float64 {
	rate, ok := a.SuccessRate()
	if !ok {
		rate = 0.5
	}
	return 0.5*rate + 0.3*a.AvgConfidence + 0.2*a.AvgAccuracy
}

// Available reports whether the agent can accept one more assignment
func (a *Agent) Available() bool {
	return a.Status == StatusActive && a.CurrentConcurrency < a.MaxConcurrency
}

// HealthCheck evaluates the health predicate used by the sweep worker.
// Returns false with a reason when the agent should be flagged unhealthy.
func (a *Agent) HealthCheck(now time.Time, inactiveAfter, maxAvgResponse time.Duration) (bool, string) {
	if a.Status == StatusInactive {
		return false, "agent disabled"
	}
	if !a.LastActiveAt.IsZero() && now.Sub(a.LastActiveAt) > inactiveAfter {
		return false, "inactive beyond threshold"
	}
	if rate, ok := a.SuccessRate(); ok && rate < 0.5 {
		return false, "success rate below 0.5"
	}
	if maxAvgResponse > 0 && a.AvgResponseTime > maxAvgResponse {
		return false, "average response time above ceiling"
	}
	return true, ""
}
