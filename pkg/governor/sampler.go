package governor

import (
	"context"
	"sync"

	"github.com/prometheus/procfs"
)

// GPUSampler reports GPU memory utilization in percent. Hosts without a GPU
// (or without a probe) use a nil sampler, which reads as 0%.
type GPUSampler func(ctx context.Context) (float64, error)

// ProcSampler reads CPU and memory utilization from procfs. CPU utilization
// is computed as the busy share between consecutive samples, so the first
// sample reports 0%.
type ProcSampler struct {
	gpu GPUSampler

	mu        sync.Mutex
	prevBusy  float64
	prevTotal float64
	primed    bool
}

// NewProcSampler creates a sampler with an optional GPU probe.
func NewProcSampler(gpu GPUSampler) *ProcSampler {
	return &ProcSampler{gpu: gpu}
}

// Sample implements LoadSampler.
func (s *ProcSampler) Sample(ctx context.Context) (Load, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return Load{}, err
	}

	var load Load

	stat, err := fs.Stat()
	if err != nil {
		return Load{}, err
	}
	cpu := stat.CPUTotal
	idle := cpu.Idle + cpu.Iowait
	busy := cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
	total := idle + busy

	s.mu.Lock()
	if s.primed {
		dBusy := busy - s.prevBusy
		dTotal := total - s.prevTotal
		if dTotal > 0 {
			load.CPUPercent = 100 * dBusy / dTotal
		}
	}
	s.prevBusy = busy
	s.prevTotal = total
	s.primed = true
	s.mu.Unlock()

	mem, err := fs.Meminfo()
	if err != nil {
		return Load{}, err
	}
	if mem.MemTotal != nil && *mem.MemTotal > 0 && mem.MemAvailable != nil {
		used := float64(*mem.MemTotal - *mem.MemAvailable)
		load.MemoryPercent = 100 * used / float64(*mem.MemTotal)
	}

	if s.gpu != nil {
		pct, err := s.gpu(ctx)
		if err == nil {
			load.GPUMemoryPercent = pct
		}
	}

	return load, nil
}
