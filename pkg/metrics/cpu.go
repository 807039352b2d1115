package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

// cpuWindow is the number of samples behind the average CPU load
const cpuWindow = 30

// CPUReader returns the cumulative CPU times of the host
type CPUReader func() (procfs.CPUStat, error)

// CPUSampler turns cumulative host CPU times into utilization fractions
// (0..1) for the node metrics snapshot.
type CPUSampler struct {
	read CPUReader

	mu      sync.Mutex
	prev    procfs.CPUStat
	primed  bool
	current float64
	avg     *Window
}

// NewCPUSampler samples the host through /proc/stat
func NewCPUSampler() (*CPUSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return NewCPUSamplerFrom(func() (procfs.CPUStat, error) {
		stat, err := fs.Stat()
		if err != nil {
			return procfs.CPUStat{}, err
		}
		return stat.CPUTotal, nil
	}), nil
}

// NewCPUSamplerFrom samples CPU times returned by read
func NewCPUSamplerFrom(read CPUReader) *CPUSampler {
	return &CPUSampler{read: read, avg: NewWindow(cpuWindow)}
}

// Sample returns the utilization since the previous call and the mean over
// the recent samples. The first call reports utilization since boot. When no
// CPU time elapsed between two calls the previous value is repeated.
func (s *CPUSampler) Sample() (current, average float64, err error) {
	stat, err := s.read()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cpu times: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	busy, total := cpuBusy(stat), cpuTotal(stat)
	if s.primed {
		busy -= cpuBusy(s.prev)
		total -= cpuTotal(s.prev)
	}
	s.prev, s.primed = stat, true

	if total > 0 {
		s.current = clampUnit(busy / total)
	}
	s.avg.Add(s.current)
	NodeCPULoad.Set(s.current)

	return s.current, s.avg.Mean(), nil
}

func cpuBusy(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
}

func cpuTotal(c procfs.CPUStat) float64 {
	return cpuBusy(c) + c.Idle + c.Iowait
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
