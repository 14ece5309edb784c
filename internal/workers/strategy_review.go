package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"athena/internal/adapters/config"
	"athena/internal/domain/task"
	"athena/internal/engine"
)

// StrategyReviewWorker runs a daily full-spectrum review: the best
// agent of every capability contributes in sequence, each one seeing
// what the previous contributors wrote.
type StrategyReviewWorker struct {
	*BaseWorker
	orchestrator *engine.Orchestrator
	registry     *engine.Registry
}

// NewStrategyReviewWorker creates the strategy review worker
func NewStrategyReviewWorker(orchestrator *engine.Orchestrator, registry *engine.Registry, cfg config.WorkerConfig) *StrategyReviewWorker {
	return &StrategyReviewWorker{
		BaseWorker:   NewBaseWorker("strategy_review", cfg.StrategyReviewInterval, cfg.StrategyReviewEnabled),
		orchestrator: orchestrator,
		registry:     registry,
	}
}

// Run creates and executes one sequential review task
func (w *StrategyReviewWorker) Run(ctx context.Context) error {
	participants, err := engine.SelectPerType(w.registry.Snapshot())
	if err != nil {
		w.Log().Warnw("No agents available for strategy review", "error", err)
		return nil
	}

	ids := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}

	t, err := w.orchestrator.Lifecycle().Create(ctx, task.Spec{
		Topic:        fmt.Sprintf("research strategy review %s", time.Now().UTC().Format("2006-01-02")),
		Kind:         task.KindStrategyReview,
		Depth:        task.DepthDeep,
		Mode:         task.ModeSequential,
		Participants: ids,
	})
	if err != nil {
		return err
	}

	return w.orchestrator.Run(ctx, t.ID)
}
