package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"athena/internal/adapters/config"
	"athena/internal/adapters/telegram"
	"athena/internal/engine"
)

// MaintenanceWorker purges the result cache and audits fleet-wide
// quality. When aggregate success rate or confidence drops below its
// floor, operators are alerted.
type MaintenanceWorker struct {
	*BaseWorker
	registry *engine.Registry
	cache    engine.ResultCache
	alerts   *telegram.Notifier

	successFloor    float64
	confidenceFloor float64
}

// NewMaintenanceWorker creates the maintenance worker
func NewMaintenanceWorker(registry *engine.Registry, cache engine.ResultCache, alerts *telegram.Notifier, cfg config.WorkerConfig) *MaintenanceWorker {
	return &MaintenanceWorker{
		BaseWorker:      NewBaseWorker("maintenance", cfg.MaintenanceInterval, cfg.MaintenanceEnabled),
		registry:        registry,
		cache:           cache,
		alerts:          alerts,
		successFloor:    cfg.SuccessRateFloor,
		confidenceFloor: cfg.ConfidenceFloor,
	}
}

// Run performs one maintenance pass
func (w *MaintenanceWorker) Run(ctx context.Context) error {
	if w.cache != nil {
		if err := w.cache.Purge(ctx); err != nil {
			w.Log().Warnw("Result cache purge failed", "error", err)
		} else {
			w.Log().Info("Result cache purged")
		}
	}

	agents := w.registry.Snapshot()
	if len(agents) == 0 {
		return nil
	}

	var (
		totalTasks     int64
		completedTasks int64
		confSum        float64
		confAgents     int
		lastActive     time.Time
	)
	for _, ag := range agents {
		totalTasks += ag.TotalTasks
		completedTasks += ag.CompletedTasks
		if ag.CompletedTasks > 0 {
			confSum += ag.AvgConfidence
			confAgents++
		}
		if ag.LastActiveAt.After(lastActive) {
			lastActive = ag.LastActiveAt
		}
	}

	report := w.buildReport(len(agents), totalTasks, completedTasks, confSum, confAgents, lastActive)
	w.Log().Infow("Maintenance report", "report", report)

	degraded := false
	if totalTasks > 0 && float64(completedTasks)/float64(totalTasks) < w.successFloor {
		degraded = true
	}
	if confAgents > 0 && confSum/float64(confAgents) < w.confidenceFloor {
		degraded = true
	}

	if degraded && w.alerts != nil {
		w.alerts.NotifyDegradation(report)
	}

	return nil
}

func (w *MaintenanceWorker) buildReport(agents int, total, completed int64, confSum float64, confAgents int, lastActive time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "agents: %d, tasks processed: %s", agents, humanize.Comma(total))
	if total > 0 {
		fmt.Fprintf(&b, ", success rate: %.1f%%", 100*float64(completed)/float64(total))
	}
	if confAgents > 0 {
		fmt.Fprintf(&b, ", avg confidence: %.2f", confSum/float64(confAgents))
	}
	if !lastActive.IsZero() {
		fmt.Fprintf(&b, ", last activity: %s", humanize.Time(lastActive))
	}

	return b.String()
}
