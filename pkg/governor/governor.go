// Package governor provides the adaptive resource governor: it derives
// concurrency and batch limits from a coarse hardware score, admits or
// rejects task submissions against the current limit, degrades limits when
// the host is overloaded, and sweeps tasks that exceed their timeout.
package governor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/docfuse/docfuse/pkg/types"
)

// Tier is the coarse operating mode derived from the hardware score.
type Tier string

const (
	TierConservative Tier = "conservative"
	TierBalanced     Tier = "balanced"
	TierAggressive   Tier = "aggressive"
)

// ErrTaskTimeout marks a task cancelled by the expiry sweep.
var ErrTaskTimeout = errors.New("task exceeded processing timeout")

// Limits are the adaptive knobs the governor exposes to its consumers.
type Limits struct {
	Concurrency int
	BatchSize   int
	EnableGPU   bool
	TaskTimeout time.Duration
}

// Thresholds are the load percentages above which the governor degrades its
// tier by one step.
type Thresholds struct {
	CPUPercent       float64
	MemoryPercent    float64
	GPUMemoryPercent float64
}

// DefaultThresholds returns the stock 80/85/90 thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{CPUPercent: 80, MemoryPercent: 85, GPUMemoryPercent: 90}
}

// Config parameterizes a Governor.
type Config struct {
	Thresholds      Thresholds
	MonitorInterval time.Duration
	SweepInterval   time.Duration
	// Registerer receives the governor's prometheus collectors. Nil disables
	// metric registration.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	zero := Thresholds{}
	if c.Thresholds == zero {
		c.Thresholds = DefaultThresholds()
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// TaskFunc is the unit of work executed for an accepted task.
type TaskFunc func(ctx context.Context) error

type trackedTask struct {
	task   *types.Task
	cancel context.CancelFunc
	start  time.Time
}

// Governor admits tasks against the current concurrency limit and owns their
// lifecycle. Submissions over the limit are rejected, pushing backpressure to
// the caller instead of queueing internally.
type Governor struct {
	cfg     Config
	sampler LoadSampler
	logger  *slog.Logger
	metrics *metrics

	mu       sync.Mutex
	tier     Tier
	limits   Limits
	profile  types.HardwareProfile
	degraded bool
	tasks    map[string]*trackedTask
	active   int
	pool     *ants.Pool

	stopMonitor context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a governor in the conservative tier. Call Configure with a
// hardware profile to derive real limits, then Start to run the monitor.
func New(cfg Config, sampler LoadSampler, logger *slog.Logger) (*Governor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sampler == nil {
		sampler = NewProcSampler(nil)
	}
	cfg = cfg.withDefaults()

	g := &Governor{
		cfg:     cfg,
		sampler: sampler,
		logger:  logger.With("component", "governor"),
		metrics: newMetrics(cfg.Registerer),
		tier:    TierConservative,
		limits:  tierLimits(TierConservative, types.HardwareProfile{}),
		tasks:   make(map[string]*trackedTask),
	}

	pool, err := ants.NewPool(g.limits.Concurrency, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	g.pool = pool
	return g, nil
}

// tierLimits maps a tier and profile to concrete limits.
func tierLimits(tier Tier, profile types.HardwareProfile) Limits {
	cores := profile.LogicalCores
	if cores < 1 {
		cores = 1
	}

	switch tier {
	case TierAggressive:
		return Limits{
			Concurrency: clamp(cores/2, 1, 4),
			BatchSize:   clamp(cores, 1, 8),
			EnableGPU:   profile.HasGPU,
			TaskTimeout: 10 * time.Minute,
		}
	case TierBalanced:
		return Limits{
			Concurrency: clamp(cores/2, 1, 2),
			BatchSize:   clamp(cores, 1, 4),
			EnableGPU:   profile.HasGPU && profile.MemoryGB >= 8,
			TaskTimeout: 450 * time.Second,
		}
	default:
		return Limits{
			Concurrency: 1,
			BatchSize:   1,
			EnableGPU:   false,
			TaskTimeout: 5 * time.Minute,
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Configure derives the tier from the profile score and resets any prior
// degradation. This is the only path (besides ForceConservative) that can
// raise limits once an overload episode degraded them.
func (g *Governor) Configure(profile types.HardwareProfile) {
	score := profile.Score()
	tier := TierConservative
	switch {
	case score >= 80:
		tier = TierAggressive
	case score >= 50:
		tier = TierBalanced
	}

	g.mu.Lock()
	g.profile = profile
	g.tier = tier
	g.limits = tierLimits(tier, profile)
	g.degraded = false
	g.pool.Tune(g.limits.Concurrency)
	limits := g.limits
	g.mu.Unlock()

	g.metrics.setTier(tier)
	g.metrics.setLimits(limits)
	g.logger.Info("governor configured",
		"score", score, "tier", string(tier),
		"concurrency", limits.Concurrency, "batch_size", limits.BatchSize,
		"gpu", limits.EnableGPU)
}

// ForceConservative drops to the conservative tier regardless of the profile.
func (g *Governor) ForceConservative() {
	g.mu.Lock()
	g.tier = TierConservative
	g.limits = tierLimits(TierConservative, g.profile)
	g.degraded = false
	g.pool.Tune(g.limits.Concurrency)
	limits := g.limits
	g.mu.Unlock()

	g.metrics.setTier(TierConservative)
	g.metrics.setLimits(limits)
	g.logger.Warn("governor forced conservative")
}

// Limits returns the current adaptive limits.
func (g *Governor) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// Tier returns the current tier.
func (g *Governor) Tier() Tier {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tier
}

// Active returns the number of tasks that are queued or running.
func (g *Governor) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// TaskState reports the state of a known task.
func (g *Governor) TaskState(taskID string) (types.TaskState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tt, ok := g.tasks[taskID]
	if !ok {
		return "", false
	}
	return tt.task.State, true
}

// Submit is non-blocking admission: the task is accepted only when the
// number of active tasks is below the current concurrency limit. A rejected
// submission leaves no trace; the caller decides whether to retry later.
func (g *Governor) Submit(ctx context.Context, task *types.Task, fn TaskFunc) bool {
	g.mu.Lock()
	if g.active >= g.limits.Concurrency {
		g.mu.Unlock()
		g.metrics.rejected.Inc()
		return false
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task.State = types.TaskQueued
	if task.SubmitTime.IsZero() {
		task.SubmitTime = time.Now()
	}
	tt := &trackedTask{task: task, cancel: cancel}
	g.tasks[task.ID] = tt
	g.active++
	g.mu.Unlock()

	err := g.pool.Submit(func() {
		g.runTask(taskCtx, tt, fn)
	})
	if err != nil {
		// Pool saturated between admission check and submit.
		g.mu.Lock()
		delete(g.tasks, task.ID)
		g.active--
		g.mu.Unlock()
		cancel()
		g.metrics.rejected.Inc()
		return false
	}

	g.metrics.submitted.Inc()
	g.metrics.active.Inc()
	return true
}

func (g *Governor) runTask(ctx context.Context, tt *trackedTask, fn TaskFunc) {
	g.mu.Lock()
	if tt.task.State != types.TaskQueued {
		// Cancelled before it started; slot was already released.
		g.mu.Unlock()
		return
	}
	tt.task.State = types.TaskRunning
	tt.start = time.Now()
	g.mu.Unlock()

	err := fn(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if tt.task.State != types.TaskRunning {
		// Swept to a terminal state while running (timeout).
		return
	}
	g.active--
	g.metrics.active.Dec()
	if err != nil {
		tt.task.State = types.TaskFailed
		tt.task.Err = err
		g.metrics.failed.Inc()
		g.logger.Warn("task failed", "task_id", tt.task.ID, "kind", string(tt.task.Kind), "error", err)
		return
	}
	tt.task.State = types.TaskCompleted
	g.metrics.completed.Inc()
}

// Cancel removes a queued-not-yet-running task. It returns false for
// unknown or already running tasks; running tasks are never preempted.
func (g *Governor) Cancel(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	tt, ok := g.tasks[taskID]
	if !ok || tt.task.State != types.TaskQueued {
		return false
	}
	tt.task.State = types.TaskCancelled
	tt.cancel()
	g.active--
	g.metrics.active.Dec()
	return true
}

// SweepExpired cancels tasks that have been running longer than the current
// task timeout. The task context is cancelled so cooperative work unwinds;
// the task is reported failed with ErrTaskTimeout. Returns the number of
// tasks swept.
func (g *Governor) SweepExpired() int {
	now := time.Now()

	g.mu.Lock()
	timeout := g.limits.TaskTimeout
	swept := 0
	for id, tt := range g.tasks {
		if tt.task.State != types.TaskRunning || now.Sub(tt.start) <= timeout {
			continue
		}
		tt.task.State = types.TaskFailed
		tt.task.Err = ErrTaskTimeout
		tt.cancel()
		g.active--
		g.metrics.active.Dec()
		g.metrics.failed.Inc()
		swept++
		g.logger.Warn("task swept after timeout", "task_id", id, "kind", string(tt.task.Kind), "timeout", timeout)
	}
	g.mu.Unlock()

	return swept
}

// Forget drops bookkeeping for a terminal task. Callers that poll TaskState
// should call this once they have observed the terminal state.
func (g *Governor) Forget(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tt, ok := g.tasks[taskID]; ok && tt.task.State.Terminal() {
		delete(g.tasks, taskID)
	}
}

// Start launches the periodic load monitor and expiry sweep.
func (g *Governor) Start(ctx context.Context) {
	monitorCtx, cancel := context.WithCancel(ctx)
	g.stopMonitor = cancel

	g.wg.Add(2)
	go g.monitorLoop(monitorCtx)
	go g.sweepLoop(monitorCtx)
}

// Stop halts the monitor and sweep loops and releases the worker pool.
func (g *Governor) Stop() {
	if g.stopMonitor != nil {
		g.stopMonitor()
	}
	g.wg.Wait()
	g.pool.Release()
}
