package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	nodes, tasks int
}

func (f fakeSource) NodeCount() int       { return f.nodes }
func (f fakeSource) ActiveTaskCount() int { return f.tasks }

func TestCollectorCollect(t *testing.T) {
	c := NewCollector(fakeSource{nodes: 3, tasks: 2}, time.Minute)
	c.Collect()

	assert.Equal(t, 3.0, testutil.ToFloat64(TrackedNodes))
	assert.Equal(t, 2.0, testutil.ToFloat64(ActiveTasks))
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(fakeSource{nodes: 5}, 0)
	assert.Equal(t, 15*time.Second, c.interval)

	c.Start()
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(TrackedNodes) == 5
	}, time.Second, 10*time.Millisecond)

	c.Stop()
	c.Stop()
}
