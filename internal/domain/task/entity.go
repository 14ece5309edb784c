package task

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"athena/internal/domain/agent"
	"athena/pkg/errors"
)

// Status enumerates task lifecycle states
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions
// (failed tasks may still re-enter pending through an explicit retry)
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine allows the move.
// The retry budget for failed → pending is enforced by the lifecycle
// manager, not here.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusFailed:
		return next == StatusPending
	default:
		return false
	}
}

// Mode enumerates execution strategies
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
	ModeDebate     Mode = "debate"
	ModeConsensus  Mode = "consensus"
)

// Kind classifies what a task is for; it feeds priority scoring
type Kind string

const (
	KindUserRequest    Kind = "user_request"
	KindMarketTrend    Kind = "market_trend"
	KindRiskAssessment Kind = "risk_assessment"
	KindStrategyReview Kind = "strategy_review"
	KindEmergency      Kind = "emergency"
)

// Depth is the requested analysis depth
type Depth string

const (
	DepthLight    Depth = "light"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Recommendation stances agents can take
const (
	RecommendationBuy  = "buy"
	RecommendationHold = "hold"
	RecommendationSell = "sell"
)

// ConsensusLevel is the categorical agreement measure on a Result
type ConsensusLevel string

const (
	ConsensusHigh   ConsensusLevel = "high"
	ConsensusMedium ConsensusLevel = "medium"
	ConsensusLow    ConsensusLevel = "low"
	ConsensusError  ConsensusLevel = "error"
)

// Opinion is one agent's contribution within a task.
// Created once per agent per round, never mutated.
type Opinion struct {
	AgentID    uuid.UUID  `json:"agent_id"`
	AgentType  agent.Type `json:"agent_type"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning"`
	Confidence float64    `json:"confidence"`
	Round      int        `json:"round"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Result is the synthesized outcome of a task, created once at the
// terminal completed transition and immutable thereafter.
type Result struct {
	Recommendation string              `json:"recommendation"`
	Confidence     float64             `json:"confidence"`
	Consensus      ConsensusLevel      `json:"consensus"`
	ConsensusScore float64             `json:"consensus_score"`
	Participants   int                 `json:"participants"`
	KeyInsights    []string            `json:"key_insights"`
	Synthesis      string              `json:"synthesis"`
	PriceTarget    decimal.NullDecimal `json:"price_target"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Task is the unit of orchestrated work, generalizing single-agent
// analysis tasks and multi-agent collaboration sessions.
//
// The task exclusively owns its opinion log and result; agents are
// referenced by id only.
type Task struct {
	ID    uuid.UUID `json:"id"`
	Topic string    `json:"topic"`
	Kind  Kind      `json:"kind"`
	Depth Depth     `json:"depth"`
	Mode  Mode      `json:"mode"`

	Participants []uuid.UUID       `json:"participants"`
	OwnerID      uuid.UUID         `json:"owner_id"`
	Context      map[string]string `json:"context,omitempty"`
	Rounds       int               `json:"rounds"`

	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"current_step"`
	Priority    int     `json:"priority"`

	RetryCount int `json:"retry_count"`
	RetryLimit int `json:"retry_limit"`

	FailureReason string     `json:"failure_reason,omitempty"`
	CancelledBy   *uuid.UUID `json:"cancelled_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Opinions []Opinion `json:"opinions,omitempty"`
	Result   *Result   `json:"result,omitempty"`
}

// Spec describes a task to be created
type Spec struct {
	Topic        string
	Kind         Kind
	Depth        Depth
	Mode         Mode
	Participants []uuid.UUID
	OwnerID      uuid.UUID
	Context      map[string]string
	Rounds       int
	RetryLimit   int
}

// Default bounds for task creation
const (
	DefaultRetryLimit = 2
	DefaultRounds     = 3
	MinPriority       = 1
	MaxPriority       = 10
	basePriority      = 5
)

// ComputePriority scores a task by kind and depth, clamped to [1,10]
func ComputePriority(kind Kind, depth Depth) int {
	p := basePriority

	switch kind {
	case KindEmergency:
		p += 3
	case KindRiskAssessment:
		p += 2
	case KindMarketTrend:
		p++
	case KindStrategyReview:
		p--
	}

	switch depth {
	case DepthDeep:
		p++
	case DepthLight:
		p--
	}

	if p < MinPriority {
		p = MinPriority
	}
	if p > MaxPriority {
		p = MaxPriority
	}
	return p
}

// New validates the spec and constructs a pending task
func New(spec Spec) (*Task, error) {
	if spec.Topic == "" {
		return nil, errors.NewValidationError("topic", "must not be empty", spec.Topic)
	}
	if len(spec.Participants) == 0 {
		return nil, errors.NewValidationError("participants", "must not be empty", spec.Participants)
	}

	if spec.Kind == "" {
		spec.Kind = KindUserRequest
	}
	if spec.Depth == "" {
		spec.Depth = DepthStandard
	}
	if spec.Mode == "" {
		spec.Mode = ModeParallel
	}
	if spec.Rounds <= 0 {
		spec.Rounds = DefaultRounds
	}
	if spec.RetryLimit < 0 {
		spec.RetryLimit = 0
	} else if spec.RetryLimit == 0 {
		spec.RetryLimit = DefaultRetryLimit
	}

	return &Task{
		ID:           uuid.New(),
		Topic:        spec.Topic,
		Kind:         spec.Kind,
		Depth:        spec.Depth,
		Mode:         spec.Mode,
		Participants: spec.Participants,
		OwnerID:      spec.OwnerID,
		Context:      spec.Context,
		Rounds:       spec.Rounds,
		Status:       StatusPending,
		Progress:     0,
		Priority:     ComputePriority(spec.Kind, spec.Depth),
		RetryLimit:   spec.RetryLimit,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// CanRetry reports whether the task still has retry budget
func (t *Task) CanRetry() bool {
	return t.Status == StatusFailed && t.RetryCount < t.RetryLimit
}
