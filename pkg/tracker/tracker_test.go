package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/storage"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string) *types.Node {
	return &types.Node{ID: id}
}

func TestCounterLifecycle(t *testing.T) {
	trk := New("local")
	trk.Seed([]*types.Node{node("local"), node("a")})

	assert.True(t, trk.HasCounter("a"))
	assert.False(t, trk.HasCounter("b"))

	trk.OnEvent(events.NodeEvent(events.EventNodeJoined, node("b")))
	assert.True(t, trk.HasCounter("b"))

	trk.Increment("a")
	trk.Increment("a")
	trk.Increment("b")
	assert.Equal(t, 2, trk.JobsSent("a"))
	assert.Equal(t, 1, trk.JobsSent("b"))

	// re-join does not reset
	trk.OnEvent(events.NodeEvent(events.EventNodeJoined, node("a")))
	assert.Equal(t, 2, trk.JobsSent("a"))

	// metrics update resets and replaces the snapshot
	updated := &types.Node{ID: "a", Metrics: types.NodeMetrics{CurrentCPULoad: 0.9}}
	trk.OnEvent(events.NodeEvent(events.EventNodeMetricsUpdated, updated))
	assert.Equal(t, 0, trk.JobsSent("a"))
	got, ok := trk.Node("a")
	require.True(t, ok)
	assert.Same(t, updated, got)

	trk.OnEvent(events.NodeEvent(events.EventNodeLeft, node("a")))
	trk.OnEvent(events.NodeEvent(events.EventNodeFailed, node("b")))
	assert.False(t, trk.HasCounter("a"))
	assert.False(t, trk.HasCounter("b"))
	assert.False(t, trk.IsAlive("a"))

	// increments for unknown nodes never create counters
	trk.Increment("a")
	assert.False(t, trk.HasCounter("a"))
	assert.Equal(t, 0, trk.JobsSent("a"))
}

func TestCountersMatchAliveNodes(t *testing.T) {
	trk := New("n0")
	for i := 0; i < 10; i++ {
		trk.OnEvent(events.NodeEvent(events.EventNodeJoined, node(fmt.Sprintf("n%d", i))))
	}
	for i := 0; i < 10; i += 3 {
		trk.OnEvent(events.NodeEvent(events.EventNodeFailed, node(fmt.Sprintf("n%d", i))))
	}

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("n%d", i)
		assert.Equal(t, trk.IsAlive(id), trk.HasCounter(id), id)
	}
	assert.Equal(t, 6, trk.NodeCount())
}

func TestNodesOrdering(t *testing.T) {
	trk := New("b")
	trk.Seed([]*types.Node{node("c"), node("a"), node("b"), nil})

	assert.Equal(t, []string{"a", "b", "c"}, trk.Nodes().IDs())
	assert.Equal(t, []string{"a", "c"}, trk.RemoteNodes().IDs())

	local, ok := trk.LocalNode()
	require.True(t, ok)
	assert.Equal(t, "b", local.ID)
	assert.Equal(t, "b", trk.LocalID())
}

func TestActiveTasks(t *testing.T) {
	trk := New("local")

	trk.OnEvent(events.TaskEvent(events.EventJobMapped, "s2"))
	trk.OnEvent(events.TaskEvent(events.EventJobMapped, "s1"))
	trk.OnEvent(events.TaskEvent(events.EventJobMapped, "s1"))
	assert.Equal(t, []string{"s1", "s2"}, trk.ActiveTasks())

	trk.OnEvent(events.TaskEvent(events.EventTaskFinished, "s1"))
	trk.OnEvent(events.TaskEvent(events.EventTaskFailed, "s2"))
	assert.Empty(t, trk.ActiveTasks())
	assert.Equal(t, 0, trk.ActiveTaskCount())
}

func TestNodeEventWithoutNodeIgnored(t *testing.T) {
	trk := New("local")
	trk.OnEvent(&events.Event{Type: events.EventNodeJoined})
	assert.Equal(t, 0, trk.NodeCount())
}

func TestConcurrentPicksAndEvents(t *testing.T) {
	trk := New("local")
	trk.Seed([]*types.Node{node("a"), node("b")})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				trk.Increment("a")
				_ = trk.JobsSent("b")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			trk.OnEvent(events.NodeEvent(events.EventNodeJoined, node("b")))
			trk.OnEvent(events.NodeEvent(events.EventNodeLeft, node("b")))
		}
	}()
	wg.Wait()

	assert.Equal(t, 8000, trk.JobsSent("a"))
	assert.False(t, trk.HasCounter("b"))
}

func TestPersistAndRestore(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	trk := New("local", WithStore(store))
	trk.OnEvent(events.NodeEvent(events.EventNodeJoined,
		&types.Node{ID: "a", Address: "10.0.0.1:7000"}))
	trk.OnEvent(events.NodeEvent(events.EventNodeJoined, node("b")))
	trk.OnEvent(events.NodeEvent(events.EventNodeJoined, node("c")))
	trk.OnEvent(events.NodeEvent(events.EventNodeLeft, node("b")))
	trk.OnEvent(events.NodeEvent(events.EventNodeFailed, node("c")))
	// first sighting through a metrics update counts as a join
	trk.OnEvent(events.NodeEvent(events.EventNodeMetricsUpdated, node("d")))

	restored := New("local", WithStore(store))
	require.NoError(t, restored.Restore())

	assert.Equal(t, []string{"a", "d"}, restored.Nodes().IDs())
	assert.True(t, restored.HasCounter("a"))
	got, _ := restored.Node("a")
	assert.Equal(t, "10.0.0.1:7000", got.Address)
}

type countingStore struct {
	storage.Store
	saves, deletes int
}

func (s *countingStore) SaveNode(node *types.Node) error {
	s.saves++
	return s.Store.SaveNode(node)
}

func (s *countingStore) DeleteNode(id string) error {
	s.deletes++
	return s.Store.DeleteNode(id)
}

func TestMetricsUpdatesAreNotPersisted(t *testing.T) {
	bolt, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer bolt.Close()
	store := &countingStore{Store: bolt}

	trk := New("local", WithStore(store))
	trk.OnEvent(events.NodeEvent(events.EventNodeJoined, node("a")))
	for i := 0; i < 50; i++ {
		trk.OnEvent(events.NodeEvent(events.EventNodeMetricsUpdated,
			&types.Node{ID: "a", Metrics: types.NodeMetrics{CurrentCPULoad: float64(i) / 50}}))
	}
	trk.OnEvent(events.NodeEvent(events.EventNodeFailed, node("a")))

	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 1, store.deletes)
}

func TestBrokerBurstKeepsMembership(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trk := New("local")
	broker.Forward(ctx, trk)

	// several times the broker's buffers, published without pause
	const total = 2000
	for i := 0; i < total; i++ {
		broker.Publish(events.NodeEvent(events.EventNodeJoined, node(fmt.Sprintf("n%04d", i))))
	}
	for i := 0; i < total; i += 2 {
		broker.Publish(events.NodeEvent(events.EventNodeFailed, node(fmt.Sprintf("n%04d", i))))
	}
	broker.Publish(events.TaskEvent(events.EventJobMapped, "last"))

	require.Eventually(t, func() bool { return trk.ActiveTaskCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, total/2, trk.NodeCount())
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("n%04d", i)
		assert.Equal(t, i%2 == 1, trk.HasCounter(id), id)
	}
	assert.Zero(t, broker.Dropped())
}

func TestRestoreWithoutStore(t *testing.T) {
	assert.NoError(t, New("local").Restore())
}
