package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"athena/internal/adapters/config"
	"athena/internal/domain/agent"
	"athena/internal/domain/task"
	"athena/internal/engine"
)

// marketTrendTypes are the capabilities consulted for trend analysis
var marketTrendTypes = []agent.Type{agent.TypeMarket, agent.TypeTechnical, agent.TypeSentiment}

// MarketTrendWorker runs periodic broad-market trend analysis during
// trading hours. Outside the active window the iteration is a no-op.
type MarketTrendWorker struct {
	*BaseWorker
	orchestrator *engine.Orchestrator
	registry     *engine.Registry

	openHour  int
	closeHour int
	now       func() time.Time
}

// NewMarketTrendWorker creates the market trend worker
func NewMarketTrendWorker(orchestrator *engine.Orchestrator, registry *engine.Registry, cfg config.WorkerConfig) *MarketTrendWorker {
	return &MarketTrendWorker{
		BaseWorker:   NewBaseWorker("market_trend", cfg.MarketTrendInterval, cfg.MarketTrendEnabled),
		orchestrator: orchestrator,
		registry:     registry,
		openHour:     cfg.MarketTrendOpenHour,
		closeHour:    cfg.MarketTrendCloseHour,
		now:          time.Now,
	}
}

// inActiveWindow reports whether now falls inside weekday trading hours
func (w *MarketTrendWorker) inActiveWindow(now time.Time) bool {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return now.Hour() >= w.openHour && now.Hour() < w.closeHour
}

// Run creates and executes one trend analysis task
func (w *MarketTrendWorker) Run(ctx context.Context) error {
	now := w.now()
	if !w.inActiveWindow(now) {
		w.Log().Debug("Outside trading hours, skipping trend analysis")
		return nil
	}

	candidates := make([]*agent.Agent, 0)
	for _, t := range marketTrendTypes {
		candidates = append(candidates, w.registry.SnapshotByType(t)...)
	}

	participants, err := engine.SelectPerType(candidates)
	if err != nil {
		w.Log().Warnw("No agents available for trend analysis", "error", err)
		return nil
	}

	ids := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}

	t, err := w.orchestrator.Lifecycle().Create(ctx, task.Spec{
		Topic:        fmt.Sprintf("broad market trend %s", now.Format("2006-01-02 15:04")),
		Kind:         task.KindMarketTrend,
		Mode:         task.ModeParallel,
		Participants: ids,
	})
	if err != nil {
		return err
	}

	return w.orchestrator.Run(ctx, t.ID)
}
