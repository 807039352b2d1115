package probe

import (
	"fmt"

	"github.com/cuemby/gridbalance/pkg/config"
	"github.com/cuemby/gridbalance/pkg/types"
)

// LoadProbe scores the current load of a node. jobsSent is the number of
// jobs sent to the node since its last metrics update.
//
// Results must be >= 0. A result of exactly 0 means no data is available
// for the node, not that the node is idle.
type LoadProbe interface {
	Load(node *types.Node, jobsSent int) float64
}

// Func adapts a function to LoadProbe
type Func func(node *types.Node, jobsSent int) float64

// Load calls f(node, jobsSent)
func (f Func) Load(node *types.Node, jobsSent int) float64 {
	return f(node, jobsSent)
}

// CPUProbe scores nodes by CPU utilization. It assumes homogeneous hardware.
type CPUProbe struct {
	UseAverage bool
}

// Load returns the CPU utilization fraction of the node
func (p CPUProbe) Load(node *types.Node, _ int) float64 {
	if p.UseAverage {
		return node.Metrics.AverageCPULoad
	}
	return node.Metrics.CurrentCPULoad
}

// ProcessingTimeProbe scores nodes by job execute plus wait time, in seconds
type ProcessingTimeProbe struct {
	UseAverage bool
}

// Load returns execute+wait time. Averages are only available once a node has
// completed jobs, so a zero average falls back to the current values.
func (p ProcessingTimeProbe) Load(node *types.Node, _ int) float64 {
	m := node.Metrics
	if p.UseAverage {
		if avg := (m.AverageJobExecuteTime + m.AverageJobWaitTime).Seconds(); avg > 0 {
			return avg
		}
	}
	if cur := (m.CurrentJobExecuteTime + m.CurrentJobWaitTime).Seconds(); cur > 0 {
		return cur
	}
	return 0
}

// JobCountProbe scores nodes by active plus waiting jobs, counting jobs sent
// since the last metrics update as already queued.
type JobCountProbe struct {
	UseAverage bool
}

// Load returns the job count of the node
func (p JobCountProbe) Load(node *types.Node, jobsSent int) float64 {
	m := node.Metrics
	var count float64
	if p.UseAverage {
		count = m.AverageActiveJobs + m.AverageWaitingJobs
	} else {
		count = m.CurrentActiveJobs + m.CurrentWaitingJobs
	}
	if count < 0 {
		count = 0
	}
	return count + float64(jobsSent)
}

// New builds the probe selected by configuration
func New(cfg config.Probe) (LoadProbe, error) {
	switch cfg.Kind {
	case config.ProbeCPU, "":
		return CPUProbe{UseAverage: cfg.UseAverage}, nil
	case config.ProbeProcessingTime:
		return ProcessingTimeProbe{UseAverage: cfg.UseAverage}, nil
	case config.ProbeJobCount:
		return JobCountProbe{UseAverage: cfg.UseAverage}, nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", cfg.Kind)
	}
}
