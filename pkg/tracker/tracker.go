package tracker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/storage"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Tracker caches alive nodes, per-node counters of jobs sent since the last
// metrics update, and the task sessions that have mapped jobs.
//
// The counter map itself is only mutated by discovery events under the
// write lock. Picks take the read lock and bump the atomic counter values,
// so concurrent task mappings never contend with each other.
type Tracker struct {
	localID string
	store   storage.Store
	logger  zerolog.Logger

	mu       sync.RWMutex
	nodes    map[string]*types.Node
	counters map[string]*atomic.Int64
	tasks    map[string]struct{}
}

// Option configures a Tracker
type Option func(*Tracker)

// WithStore persists cluster membership to store. Snapshots are written
// when a node joins and deleted when it leaves or fails.
func WithStore(store storage.Store) Option {
	return func(t *Tracker) {
		t.store = store
	}
}

// New creates a tracker for the node localID
func New(localID string, opts ...Option) *Tracker {
	t := &Tracker{
		localID:  localID,
		logger:   log.WithComponent("tracker"),
		nodes:    make(map[string]*types.Node),
		counters: make(map[string]*atomic.Int64),
		tasks:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LocalID returns the ID of the node this tracker runs on
func (t *Tracker) LocalID() string {
	return t.localID
}

// Seed registers already-known nodes at startup
func (t *Tracker) Seed(nodes []*types.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, node := range nodes {
		if node == nil {
			continue
		}
		t.putLocked(node, false)
	}
}

// Restore seeds the tracker from the configured store
func (t *Tracker) Restore() error {
	if t.store == nil {
		return nil
	}
	nodes, err := t.store.ListNodes()
	if err != nil {
		return fmt.Errorf("failed to restore nodes: %w", err)
	}
	t.Seed(nodes)
	t.logger.Info().Int("nodes", len(nodes)).Msg("restored node snapshots")
	return nil
}

// OnEvent ingests a membership or task lifecycle event
func (t *Tracker) OnEvent(e *events.Event) {
	switch {
	case e.Type.IsNodeEvent():
		if e.Node == nil {
			return
		}
		t.onNodeEvent(e.Type, e.Node)
	case e.Type == events.EventJobMapped:
		t.mu.Lock()
		t.tasks[e.SessionID] = struct{}{}
		t.mu.Unlock()
	case e.Type.IsTaskDone():
		t.mu.Lock()
		delete(t.tasks, e.SessionID)
		t.mu.Unlock()
	}
}

func (t *Tracker) onNodeEvent(typ events.EventType, node *types.Node) {
	t.mu.Lock()
	_, known := t.nodes[node.ID]
	switch {
	case typ.IsNodeGone():
		delete(t.nodes, node.ID)
		delete(t.counters, node.ID)
	case typ == events.EventNodeMetricsUpdated:
		t.putLocked(node, true)
	default:
		t.putLocked(node, false)
	}
	t.mu.Unlock()

	t.logger.Debug().
		Str("node_id", node.ID).
		Str("event", string(typ)).
		Msg("membership updated")

	// the store tracks membership; load refreshes of known nodes are not written
	if typ == events.EventNodeMetricsUpdated && known {
		return
	}
	t.persist(typ, node)
}

// putLocked stores node and makes sure it has a counter. resetCounter zeroes
// an existing counter; a fresh snapshot already accounts for previous jobs.
func (t *Tracker) putLocked(node *types.Node, resetCounter bool) {
	t.nodes[node.ID] = node
	if c, ok := t.counters[node.ID]; ok {
		if resetCounter {
			c.Store(0)
		}
		return
	}
	t.counters[node.ID] = atomic.NewInt64(0)
}

func (t *Tracker) persist(typ events.EventType, node *types.Node) {
	if t.store == nil {
		return
	}

	var err error
	if typ.IsNodeGone() {
		err = t.store.DeleteNode(node.ID)
	} else {
		err = t.store.SaveNode(node)
	}
	if err != nil {
		t.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to persist node snapshot")
	}
}

// JobsSent returns the jobs sent to a node since its last metrics update
func (t *Tracker) JobsSent(nodeID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, ok := t.counters[nodeID]; ok {
		return int(c.Load())
	}
	return 0
}

// Increment records that a job was sent to nodeID. Unknown nodes are ignored.
func (t *Tracker) Increment(nodeID string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, ok := t.counters[nodeID]; ok {
		c.Inc()
	}
}

// HasCounter reports whether a counter exists for nodeID
func (t *Tracker) HasCounter(nodeID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.counters[nodeID]
	return ok
}

// Node returns the cached snapshot of a node
func (t *Tracker) Node(nodeID string) (*types.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[nodeID]
	return node, ok
}

// LocalNode returns the snapshot of the local node
func (t *Tracker) LocalNode() (*types.Node, bool) {
	return t.Node(t.localID)
}

// IsAlive reports whether the tracker believes nodeID is in the cluster
func (t *Tracker) IsAlive(nodeID string) bool {
	_, ok := t.Node(nodeID)
	return ok
}

// Nodes returns every alive node ordered by ID
func (t *Tracker) Nodes() types.Topology {
	t.mu.RLock()
	nodes := make(types.Topology, 0, len(t.nodes))
	for _, node := range t.nodes {
		nodes = append(nodes, node)
	}
	t.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// RemoteNodes returns every alive node except the local one, ordered by ID
func (t *Tracker) RemoteNodes() types.Topology {
	all := t.Nodes()
	remote := all[:0]
	for _, node := range all {
		if node.ID != t.localID {
			remote = append(remote, node)
		}
	}
	return remote
}

// NodeCount returns the number of alive nodes
func (t *Tracker) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// ActiveTasks returns the sessions with mapped jobs that have not finished
func (t *Tracker) ActiveTasks() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.tasks))
	for id := range t.tasks {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ActiveTaskCount returns the number of active task sessions
func (t *Tracker) ActiveTaskCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}
