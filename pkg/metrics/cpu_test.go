package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cpuTimes struct {
	stats []procfs.CPUStat
	err   error
}

func (c *cpuTimes) read() (procfs.CPUStat, error) {
	if c.err != nil {
		return procfs.CPUStat{}, c.err
	}
	s := c.stats[0]
	if len(c.stats) > 1 {
		c.stats = c.stats[1:]
	}
	return s, nil
}

func TestCPUSampler(t *testing.T) {
	times := &cpuTimes{stats: []procfs.CPUStat{
		// since boot: 25% busy
		{User: 20, System: 5, Idle: 70, Iowait: 5},
		// 100s later, 80 of them busy
		{User: 70, Nice: 10, System: 15, IRQ: 5, SoftIRQ: 5, Idle: 85, Iowait: 10},
		// no time elapsed
		{User: 70, Nice: 10, System: 15, IRQ: 5, SoftIRQ: 5, Idle: 85, Iowait: 10},
	}}
	s := NewCPUSamplerFrom(times.read)

	cur, avg, err := s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cur, 1e-9)
	assert.InDelta(t, 0.25, avg, 1e-9)

	cur, avg, err = s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cur, 1e-9)
	assert.InDelta(t, 0.525, avg, 1e-9)
	assert.InDelta(t, 0.8, testutil.ToFloat64(NodeCPULoad), 1e-9)

	cur, _, err = s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cur, 1e-9)
}

func TestCPUSamplerReadError(t *testing.T) {
	s := NewCPUSamplerFrom((&cpuTimes{err: errors.New("no proc")}).read)
	_, _, err := s.Sample()
	assert.ErrorContains(t, err, "no proc")
}

func TestCPUSamplerHost(t *testing.T) {
	s, err := NewCPUSampler()
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}
	cur, avg, err := s.Sample()
	if err != nil {
		t.Skipf("cannot read /proc/stat: %v", err)
	}
	assert.GreaterOrEqual(t, cur, 0.0)
	assert.LessOrEqual(t, cur, 1.0)
	assert.Equal(t, cur, avg)
}
