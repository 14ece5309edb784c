package workers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"athena/internal/adapters/config"
	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/engine"
)

// riskAssessmentTypes are the capabilities consulted for risk reviews
var riskAssessmentTypes = []agent.Type{agent.TypeRisk, agent.TypeFundamental, agent.TypeDecision}

// RiskAssessmentWorker runs periodic portfolio risk reviews in
// consensus-building mode: participants iterate until they agree past
// the configured threshold or the round budget runs out.
type RiskAssessmentWorker struct {
	*BaseWorker
	orchestrator *engine.Orchestrator
	registry     *engine.Registry
	threshold    float64
}

// NewRiskAssessmentWorker creates the risk assessment worker
func NewRiskAssessmentWorker(orchestrator *engine.Orchestrator, registry *engine.Registry, cfg config.WorkerConfig) *RiskAssessmentWorker {
	return &RiskAssessmentWorker{
		BaseWorker:   NewBaseWorker("risk_assessment", cfg.RiskAssessmentInterval, cfg.RiskAssessmentEnabled),
		orchestrator: orchestrator,
		registry:     registry,
		threshold:    cfg.RiskConsensusThreshold,
	}
}

// Run creates and executes one consensus risk review
func (w *RiskAssessmentWorker) Run(ctx context.Context) error {
	candidates := make([]*agent.Agent, 0)
	for _, t := range riskAssessmentTypes {
		candidates = append(candidates, w.registry.SnapshotByType(t)...)
	}

	participants, err := engine.SelectPerType(candidates)
	if err != nil {
		w.Log().Warnw("No agents available for risk assessment", "error", err)
		return nil
	}

	ids := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}

	t, err := w.orchestrator.Lifecycle().Create(ctx, task.Spec{
		Topic:        fmt.Sprintf("portfolio risk assessment %s", time.Now().UTC().Format("2006-01-02")),
		Kind:         task.KindRiskAssessment,
		Mode:         task.ModeConsensus,
		Participants: ids,
		Context: map[string]string{
			engine.ContextKeyConsensusThreshold: strconv.FormatFloat(w.threshold, 'f', -1, 64),
		},
	})
	if err != nil {
		return err
	}

	return w.orchestrator.Run(ctx, t.ID)
}
