package governor

import (
	"context"
	"time"
)

// Load is one sample of host utilization, in percent.
type Load struct {
	CPUPercent       float64
	MemoryPercent    float64
	GPUMemoryPercent float64
}

// LoadSampler produces utilization samples for the monitor loop.
type LoadSampler interface {
	Sample(ctx context.Context) (Load, error)
}

// monitorLoop samples host load on a fixed interval and degrades the tier
// when a threshold is crossed. Sampling errors are logged and skipped; the
// loop itself never fails.
func (g *Governor) monitorLoop(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			load, err := g.sampler.Sample(ctx)
			if err != nil {
				g.logger.Warn("load sample failed", "error", err)
				continue
			}
			g.metrics.setLoad(load)
			g.evaluate(load)
		}
	}
}

func (g *Governor) sweepLoop(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.SweepExpired()
		}
	}
}

// evaluate applies one degradation step when any threshold is crossed.
// Degradation is monotonic: nothing here ever raises limits; only an
// explicit Configure or ForceConservative call does.
func (g *Governor) evaluate(load Load) {
	th := g.cfg.Thresholds
	overCPU := load.CPUPercent > th.CPUPercent
	overMem := load.MemoryPercent > th.MemoryPercent
	overGPU := load.GPUMemoryPercent > th.GPUMemoryPercent

	if !overCPU && !overMem && !overGPU {
		return
	}

	g.mu.Lock()
	changed := false

	if overCPU || overMem {
		if g.limits.Concurrency > 1 {
			g.limits.Concurrency--
			g.pool.Tune(g.limits.Concurrency)
			changed = true
		}
		if g.limits.BatchSize > 1 {
			g.limits.BatchSize = max(1, g.limits.BatchSize/2)
			changed = true
		}
	}
	if overGPU && g.limits.EnableGPU {
		g.limits.EnableGPU = false
		changed = true
	}

	if changed {
		g.degraded = true
		if g.tier != TierConservative {
			// One step down per overload evaluation.
			if g.tier == TierAggressive {
				g.tier = TierBalanced
			} else {
				g.tier = TierConservative
			}
		}
	}
	tier := g.tier
	limits := g.limits
	g.mu.Unlock()

	if changed {
		g.metrics.setTier(tier)
		g.metrics.setLimits(limits)
		g.logger.Info("governor degraded under load",
			"cpu", load.CPUPercent, "memory", load.MemoryPercent, "gpu_memory", load.GPUMemoryPercent,
			"tier", string(tier), "concurrency", limits.Concurrency, "batch_size", limits.BatchSize,
			"gpu", limits.EnableGPU)
	}
}
