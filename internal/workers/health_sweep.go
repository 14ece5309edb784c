package workers

import (
	"context"
	"time"

	"athena/internal/adapters/config"
	"athena/internal/adapters/telegram"
	"athena/internal/domain/agent"
	"athena/internal/engine"
)

// HealthSweepWorker periodically evaluates every registered agent's
// health predicate, flags unhealthy agents and restores recovered ones.
// When more than half the fleet is unhealthy it escalates a data
// anomaly emergency.
type HealthSweepWorker struct {
	*BaseWorker
	registry  *engine.Registry
	notifier  engine.Notifier
	alerts    *telegram.Notifier
	emergency *EmergencyService

	inactiveAfter  time.Duration
	maxAvgResponse time.Duration
}

// NewHealthSweepWorker creates the health sweep worker
func NewHealthSweepWorker(registry *engine.Registry, notifier engine.Notifier, alerts *telegram.Notifier, emergency *EmergencyService, cfg config.WorkerConfig) *HealthSweepWorker {
	return &HealthSweepWorker{
		BaseWorker:     NewBaseWorker("health_sweep", cfg.HealthSweepInterval, cfg.HealthSweepEnabled),
		registry:       registry,
		notifier:       notifier,
		alerts:         alerts,
		emergency:      emergency,
		inactiveAfter:  cfg.AgentInactiveAfter,
		maxAvgResponse: cfg.AgentMaxAvgResponse,
	}
}

// Run sweeps the registry once
func (w *HealthSweepWorker) Run(ctx context.Context) error {
	agents := w.registry.Snapshot()
	if len(agents) == 0 {
		return nil
	}

	now := time.Now().UTC()
	unhealthy := 0

	for _, ag := range agents {
		healthy, reason := ag.HealthCheck(now, w.inactiveAfter, w.maxAvgResponse)

		switch {
		case !healthy && ag.Status != agent.StatusError && ag.Status != agent.StatusInactive:
			unhealthy++
			w.flag(ctx, ag, reason)

		case !healthy:
			unhealthy++

		case healthy && ag.Status == agent.StatusError:
			// Recovered; put it back in rotation.
			if err := w.registry.SetStatus(ctx, ag.ID, agent.StatusActive); err != nil {
				w.Log().Warnw("Could not restore agent", "agent_id", ag.ID, "error", err)
				continue
			}
			w.Log().Infow("Agent restored to active", "agent_id", ag.ID, "name", ag.Name)
		}
	}

	if unhealthy*2 > len(agents) {
		w.Log().Errorw("More than half the fleet is unhealthy", "unhealthy", unhealthy, "total", len(agents))
		if w.emergency != nil {
			if _, err := w.emergency.TriggerEmergency(ctx, EmergencyDataAnomaly, "agent fleet degradation"); err != nil {
				w.Log().Warnw("Fleet degradation escalation not started", "error", err)
			}
		}
	}

	return nil
}

func (w *HealthSweepWorker) flag(ctx context.Context, ag *agent.Agent, reason string) {
	if err := w.registry.SetStatus(ctx, ag.ID, agent.StatusError); err != nil {
		w.Log().Warnw("Could not flag agent", "agent_id", ag.ID, "error", err)
		return
	}

	w.Log().Warnw("Agent flagged unhealthy", "agent_id", ag.ID, "name", ag.Name, "reason", reason)

	if w.notifier != nil {
		w.notifier.Publish(ctx, engine.Event{
			Type: engine.EventAgentHealth,
			At:   time.Now().UTC(),
			Payload: map[string]interface{}{
				"agent_id": ag.ID.String(),
				"name":     ag.Name,
				"status":   string(agent.StatusError),
				"reason":   reason,
			},
		})
	}
	if w.alerts != nil {
		w.alerts.NotifyAgentUnhealthy(ag.Name, reason)
	}
}
