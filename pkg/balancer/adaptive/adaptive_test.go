package adaptive

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/probe"
	"github.com/cuemby/gridbalance/pkg/tracker"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProbe records how many times nodes were probed
type countingProbe struct {
	mu    sync.Mutex
	calls int
	inner probe.LoadProbe
}

func (p *countingProbe) Load(n *types.Node, sent int) float64 {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.inner.Load(n, sent)
}

func (p *countingProbe) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func cpuTopology(loads ...float64) types.Topology {
	ids := []string{"A", "B", "C", "D", "E"}
	top := make(types.Topology, len(loads))
	for i, l := range loads {
		top[i] = &types.Node{ID: ids[i], Metrics: types.NodeMetrics{CurrentCPULoad: l}}
	}
	return top
}

func newTracker(top types.Topology) *tracker.Tracker {
	trk := tracker.New("local")
	trk.Seed(top)
	return trk
}

func TestPickNodeCachesWhileUnmapped(t *testing.T) {
	top := cpuTopology(0.2, 0.8, 0.2)
	p := &countingProbe{inner: probe.CPUProbe{}}
	b := New(p, newTracker(top))
	session := types.NewSession("s1", top.IDs()...)
	ctx := context.Background()

	_, err := b.PickNode(ctx, session, top, &types.Job{ID: "j1"})
	require.NoError(t, err)
	assert.Equal(t, 3, p.count())

	first, mapped, ok := b.Cached("s1")
	require.True(t, ok)
	assert.False(t, mapped)

	_, err = b.PickNode(ctx, session, top, &types.Job{ID: "j2"})
	require.NoError(t, err)
	assert.Equal(t, 3, p.count(), "cached selector must be reused")

	second, _, _ := b.Cached("s1")
	assert.Same(t, first, second)
}

func TestPickNodeRebuildsAfterJobMapped(t *testing.T) {
	top := cpuTopology(0.2, 0.8, 0.2)
	p := &countingProbe{inner: probe.CPUProbe{}}
	b := New(p, newTracker(top))
	session := types.NewSession("s1", top.IDs()...)
	ctx := context.Background()

	_, err := b.PickNode(ctx, session, top, nil)
	require.NoError(t, err)
	cached, _, _ := b.Cached("s1")

	b.OnEvent(events.TaskEvent(events.EventJobMapped, "s1"))
	_, mapped, _ := b.Cached("s1")
	assert.True(t, mapped)

	_, err = b.PickNode(ctx, session, top, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, p.count(), "mapped session must build a fresh selector")

	_, err = b.PickNode(ctx, session, top, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, p.count())

	after, _, _ := b.Cached("s1")
	assert.Same(t, cached, after, "fresh selectors are not cached")
}

func TestPickNodeFailoverSeesNewTopology(t *testing.T) {
	top := cpuTopology(0.5, 0.5)
	b := New(probe.CPUProbe{}, newTracker(top))
	session := types.NewSession("s1")
	ctx := context.Background()

	_, err := b.PickNode(ctx, session, top, nil)
	require.NoError(t, err)
	b.OnEvent(events.TaskEvent(events.EventJobMapped, "s1"))

	failover := types.Topology{{ID: "Z", Metrics: types.NodeMetrics{CurrentCPULoad: 0.1}}}
	node, err := b.PickNode(ctx, session, failover, nil)
	require.NoError(t, err)
	assert.Equal(t, "Z", node.ID)
}

func TestTaskDoneEvictsSession(t *testing.T) {
	top := cpuTopology(0.5)
	b := New(probe.CPUProbe{}, newTracker(top))
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		_, err := b.PickNode(ctx, types.NewSession(id), top, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, b.SessionCount())

	b.OnEvent(events.TaskEvent(events.EventTaskFinished, "s1"))
	b.OnEvent(events.TaskEvent(events.EventTaskFailed, "s2"))
	assert.Equal(t, 0, b.SessionCount())

	// job mapped for an unknown session is ignored
	b.OnEvent(events.TaskEvent(events.EventJobMapped, "s3"))
	assert.Equal(t, 0, b.SessionCount())
}

func TestPickNodeCountsSentJobs(t *testing.T) {
	top := cpuTopology(0.5, 0.5)
	trk := newTracker(top)
	b := New(probe.CPUProbe{}, trk, WithRandom(func() float64 { return 0.1 }))

	for i := 0; i < 3; i++ {
		node, err := b.PickNode(context.Background(), types.NewSession("s1"), top, nil)
		require.NoError(t, err)
		assert.Equal(t, "A", node.ID)
	}
	assert.Equal(t, 3, trk.JobsSent("A"))
	assert.Equal(t, 0, trk.JobsSent("B"))

	trk.OnEvent(events.NodeEvent(events.EventNodeMetricsUpdated, top[0]))
	assert.Equal(t, 0, trk.JobsSent("A"))
}

func TestJobCountProbeSpreadsBetweenMetricsUpdates(t *testing.T) {
	top := types.Topology{{ID: "A"}, {ID: "B"}}
	trk := newTracker(top)
	r := rand.New(rand.NewPCG(5, 6))
	b := New(probe.JobCountProbe{}, trk, WithRandom(r.Float64))

	// session-less calls always re-probe, so the counters steer the draws
	for i := 0; i < 200; i++ {
		_, err := b.PickNode(context.Background(), nil, top, nil)
		require.NoError(t, err)
	}

	a, bb := trk.JobsSent("A"), trk.JobsSent("B")
	assert.Equal(t, 200, a+bb)
	assert.InDelta(t, 100, a, 30)
}

func TestPickNodeErrors(t *testing.T) {
	b := New(probe.CPUProbe{}, tracker.New("local"))
	ctx := context.Background()

	_, err := b.PickNode(ctx, types.NewSession("s1"), nil, nil)
	assert.ErrorIs(t, err, balancer.ErrEmptyTopology)

	negative := probe.Func(func(*types.Node, int) float64 { return -1 })
	b = New(negative, tracker.New("local"))
	_, err = b.PickNode(ctx, types.NewSession("s1"), cpuTopology(0.1), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid probe output")
	assert.Equal(t, 0, b.SessionCount())
}

func TestEndToEndCPUWeighting(t *testing.T) {
	top := cpuTopology(0.2, 0.8, 0.2)
	r := rand.New(rand.NewPCG(9, 10))
	b := New(probe.CPUProbe{}, newTracker(top), WithRandom(r.Float64))
	session := types.NewSession("s1", top.IDs()...)

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		node, err := b.PickNode(context.Background(), session, top, nil)
		require.NoError(t, err)
		counts[node.ID]++
	}

	assert.Greater(t, counts["A"], 2*counts["B"])
	assert.Greater(t, counts["C"], 2*counts["B"])
}
