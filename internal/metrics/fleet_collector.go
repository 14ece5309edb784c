package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"athena/internal/domain/agent"
)

// AgentSource provides the current fleet state for scraping
type AgentSource interface {
	Snapshot() []*agent.Agent
}

// FleetCollector exposes agent fleet gauges computed at scrape time
type FleetCollector struct {
	source AgentSource

	agentsByStatus   *prometheus.Desc
	concurrencyInUse *prometheus.Desc
	tasksByType      *prometheus.Desc
	avgConfidence    *prometheus.Desc
}

// NewFleetCollector creates a collector over the given agent source
func NewFleetCollector(source AgentSource) *FleetCollector {
	return &FleetCollector{
		source: source,

		agentsByStatus: prometheus.NewDesc(
			"athena_agents",
			"Registered agents by status",
			[]string{"status"}, nil,
		),
		concurrencyInUse: prometheus.NewDesc(
			"athena_agent_concurrency_in_use",
			"Concurrency slots currently held, by agent type",
			[]string{"agent_type"}, nil,
		),
		tasksByType: prometheus.NewDesc(
			"athena_agent_tasks_total",
			"Lifetime task counters, by agent type and outcome",
			[]string{"agent_type", "outcome"}, nil,
		),
		avgConfidence: prometheus.NewDesc(
			"athena_agent_avg_confidence",
			"Rolling average opinion confidence, by agent type",
			[]string{"agent_type"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *FleetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.agentsByStatus
	ch <- c.concurrencyInUse
	ch <- c.tasksByType
	ch <- c.avgConfidence
}

// Collect implements prometheus.Collector
func (c *FleetCollector) Collect(ch chan<- prometheus.Metric) {
	agents := c.source.Snapshot()

	byStatus := make(map[agent.Status]int)
	type typeStats struct {
		concurrency int
		completed   int64
		failed      int64
		confSum     float64
		confCount   int
	}
	byType := make(map[agent.Type]*typeStats)

	for _, ag := range agents {
		byStatus[ag.Status]++
		st, ok := byType[ag.Type]
		if !ok {
			st = &typeStats{}
			byType[ag.Type] = st
		}
		st.concurrency += ag.CurrentConcurrency
		st.completed += ag.CompletedTasks
		st.failed += ag.FailedTasks
		if ag.CompletedTasks > 0 {
			st.confSum += ag.AvgConfidence
			st.confCount++
		}
	}

	for status, count := range byStatus {
		ch <- prometheus.MustNewConstMetric(c.agentsByStatus, prometheus.GaugeValue, float64(count), string(status))
	}
	for typ, st := range byType {
		ch <- prometheus.MustNewConstMetric(c.concurrencyInUse, prometheus.GaugeValue, float64(st.concurrency), string(typ))
		ch <- prometheus.MustNewConstMetric(c.tasksByType, prometheus.CounterValue, float64(st.completed), string(typ), "completed")
		ch <- prometheus.MustNewConstMetric(c.tasksByType, prometheus.CounterValue, float64(st.failed), string(typ), "failed")
		if st.confCount > 0 {
			ch <- prometheus.MustNewConstMetric(c.avgConfidence, prometheus.GaugeValue, st.confSum/float64(st.confCount), string(typ))
		}
	}
}

// Register adds the collector to the default registry
func Register(collector prometheus.Collector) {
	prometheus.MustRegister(collector)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
