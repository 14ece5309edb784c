package bootstrap

import (
	"athena/internal/workers"
)

// MustInitWorkers registers all background workers on the scheduler
func (c *Container) MustInitWorkers() {
	cfg := c.Config.Workers

	c.Emergency = workers.NewEmergencyService(
		c.Orchestrator, c.AgentRegistry, c.Redis, c.Alerts, cfg.EmergencyLockTTL)

	c.Scheduler = workers.NewScheduler()
	c.Scheduler.RegisterWorker(workers.NewHealthSweepWorker(
		c.AgentRegistry, c.Publisher, c.Alerts, c.Emergency, cfg))
	c.Scheduler.RegisterWorker(workers.NewMarketTrendWorker(
		c.Orchestrator, c.AgentRegistry, cfg))
	c.Scheduler.RegisterWorker(workers.NewRiskAssessmentWorker(
		c.Orchestrator, c.AgentRegistry, cfg))
	c.Scheduler.RegisterWorker(workers.NewStrategyReviewWorker(
		c.Orchestrator, c.AgentRegistry, cfg))
	c.Scheduler.RegisterWorker(workers.NewMaintenanceWorker(
		c.AgentRegistry, c.ResultCache, c.Alerts, cfg))
}
