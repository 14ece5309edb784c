package workers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"athena/internal/adapters/redis"
	"athena/internal/adapters/telegram"
	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/engine"
	"athena/internal/metrics"
	"athena/pkg/errors"
	"athena/pkg/logger"
)

// Emergency kinds
const (
	EmergencyVolatilitySpike = "volatility_spike"
	EmergencyDataAnomaly     = "data_anomaly"
)

// typesByEmergency biases participant selection toward the agent
// capabilities most relevant to the escalation kind.
var typesByEmergency = map[string][]agent.Type{
	EmergencyVolatilitySpike: {agent.TypeMarket, agent.TypeTechnical, agent.TypeDecision},
	EmergencyDataAnomaly:     {agent.TypeMonitoring, agent.TypeTechnical},
}

// EmergencyService escalates urgent conditions into immediate
// deep-analysis tasks. A Redis lock deduplicates triggers so a flapping
// condition produces one task per lock window.
type EmergencyService struct {
	orchestrator *engine.Orchestrator
	registry     *engine.Registry
	locks        *redis.Client
	alerts       *telegram.Notifier
	lockTTL      time.Duration
	log          *logger.Logger
}

// NewEmergencyService creates the escalation service
func NewEmergencyService(orchestrator *engine.Orchestrator, registry *engine.Registry, locks *redis.Client, alerts *telegram.Notifier, lockTTL time.Duration) *EmergencyService {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &EmergencyService{
		orchestrator: orchestrator,
		registry:     registry,
		locks:        locks,
		alerts:       alerts,
		lockTTL:      lockTTL,
		log:          logger.Get().With("component", "emergency"),
	}
}

// TriggerEmergency creates and immediately runs a maximum-priority
// parallel analysis for the condition. Requires at least two available
// agents of the relevant types; with fewer the escalation is refused
// and logged loudly so operators notice.
func (s *EmergencyService) TriggerEmergency(ctx context.Context, kind, topic string) (*task.Task, error) {
	types, ok := typesByEmergency[kind]
	if !ok {
		return nil, errors.NewValidationError("kind", "unknown emergency kind", kind)
	}

	if s.locks != nil {
		acquired, err := s.locks.AcquireLock(ctx, "emergency:"+kind+":"+topic, s.lockTTL)
		if err != nil {
			s.log.Warnw("Emergency lock check failed, proceeding", "kind", kind, "error", err)
		} else if !acquired {
			s.log.Infow("Emergency already in flight, skipping", "kind", kind, "topic", topic)
			return nil, errors.Wrapf(errors.ErrAlreadyExists, "emergency %s for %q in flight", kind, topic)
		}
	}

	candidates := make([]*agent.Agent, 0)
	for _, t := range types {
		candidates = append(candidates, s.registry.SnapshotByType(t)...)
	}

	participants, err := engine.SelectPerType(candidates)
	if err != nil || len(participants) < 2 {
		// A single capability may hold every relevant agent; widen to
		// the two best available candidates before refusing.
		participants, err = engine.SelectN(candidates, 2, true)
	}
	if err != nil || len(participants) < 2 {
		s.log.Errorw("EMERGENCY ESCALATION IMPOSSIBLE: fewer than two agents available",
			"kind", kind, "topic", topic, "available", len(participants))
		return nil, errors.Wrapf(errors.ErrNoAvailableAgent, "emergency %s needs at least 2 agents", kind)
	}

	ids := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}

	t, err := s.orchestrator.Lifecycle().Create(ctx, task.Spec{
		Topic:        topic,
		Kind:         task.KindEmergency,
		Depth:        task.DepthDeep,
		Mode:         task.ModeParallel,
		Participants: ids,
	})
	if err != nil {
		return nil, err
	}

	metrics.EmergencyTriggers.WithLabelValues(kind).Inc()
	if s.alerts != nil {
		s.alerts.NotifyEmergency(kind, topic, len(ids))
	}
	s.log.Warnw("Emergency analysis triggered", "kind", kind, "topic", topic, "task_id", t.ID, "participants", len(ids))

	go func() {
		if rerr := s.orchestrator.Run(context.WithoutCancel(ctx), t.ID); rerr != nil {
			s.log.Errorw("Emergency task rejected", "task_id", t.ID, "error", rerr)
		}
	}()

	return t, nil
}
