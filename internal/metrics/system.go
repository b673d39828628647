package metrics

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemSampler periodically samples process CPU and RSS via gopsutil and
// publishes them to the Prometheus registry, smoothing CPU with an
// exponential moving average to avoid spiky single-sample readings.
type SystemSampler struct {
	registry   *Registry
	proc       *process.Process
	interval   time.Duration
	cpuPercent float64
}

// NewSystemSampler targets the current process.
func NewSystemSampler(registry *Registry, interval time.Duration) (*SystemSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SystemSampler{registry: registry, proc: proc, interval: interval}, nil
}

// Run samples on a ticker until done is closed.
func (s *SystemSampler) Run(done <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.sample()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *SystemSampler) sample() {
	if pct, err := s.proc.CPUPercent(); err == nil {
		if s.cpuPercent == 0 {
			s.cpuPercent = pct
		} else {
			const alpha = 0.3
			s.cpuPercent = alpha*pct + (1-alpha)*s.cpuPercent
		}
		s.registry.ProcessCPUPercent.Set(s.cpuPercent)
	}

	if memInfo, err := s.proc.MemoryInfo(); err == nil && memInfo != nil {
		s.registry.ProcessRSSBytes.Set(float64(memInfo.RSS))
	}
}
