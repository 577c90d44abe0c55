package governor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var tierValue = map[Tier]float64{
	TierConservative: 0,
	TierBalanced:     1,
	TierAggressive:   2,
}

type metrics struct {
	cpuPercent  prometheus.Gauge
	memPercent  prometheus.Gauge
	gpuPercent  prometheus.Gauge
	tier        prometheus.Gauge
	concurrency prometheus.Gauge
	batchSize   prometheus.Gauge
	active      prometheus.Gauge

	submitted prometheus.Counter
	rejected  prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docfuse_governor_cpu_percent",
			Help: "Last sampled CPU utilization",
		}),
		memPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docfuse_governor_memory_percent",
			Help: "Last sampled memory utilization",
		}),
		gpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docfuse_governor_gpu_memory_percent",
			Help: "Last sampled GPU memory utilization",
		}),
		tier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docfuse_governor_tier",
			Help: "Current tier (0 conservative, 1 balanced, 2 aggressive)",
		}),
		concurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docfuse_governor_concurrency_limit",
			Help: "Current concurrency limit",
		}),
		batchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docfuse_governor_batch_size",
			Help: "Current adaptive batch size",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docfuse_governor_active_tasks",
			Help: "Tasks currently queued or running",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docfuse_governor_tasks_submitted_total",
			Help: "Accepted task submissions",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docfuse_governor_tasks_rejected_total",
			Help: "Rejected task submissions (backpressure)",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docfuse_governor_tasks_completed_total",
			Help: "Tasks that completed successfully",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docfuse_governor_tasks_failed_total",
			Help: "Tasks that failed, timed out, or were swept",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.cpuPercent, m.memPercent, m.gpuPercent,
			m.tier, m.concurrency, m.batchSize, m.active,
			m.submitted, m.rejected, m.completed, m.failed,
		)
	}
	return m
}

func (m *metrics) setLoad(load Load) {
	m.cpuPercent.Set(load.CPUPercent)
	m.memPercent.Set(load.MemoryPercent)
	m.gpuPercent.Set(load.GPUMemoryPercent)
}

func (m *metrics) setTier(tier Tier) {
	m.tier.Set(tierValue[tier])
}

func (m *metrics) setLimits(l Limits) {
	m.concurrency.Set(float64(l.Concurrency))
	m.batchSize.Set(float64(l.BatchSize))
}
