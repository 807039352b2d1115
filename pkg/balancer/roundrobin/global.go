package roundrobin

import (
	"context"
	"sync"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/metrics"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const globalName = "roundrobin_global"

// cycle is an immutable node order with its own cyclic index. Membership
// changes replace the whole cycle.
type cycle struct {
	index   *atomic.Int64
	nodeIDs []string
}

// next claims the next slot of the cycle
func (c *cycle) next() string {
	n := int64(len(c.nodeIDs))
	for {
		cur := c.index.Load()
		if c.index.CompareAndSwap(cur, (cur+1)%n) {
			return c.nodeIDs[cur]
		}
	}
}

func (c *cycle) intersects(topology types.Topology) bool {
	for _, id := range c.nodeIDs {
		if topology.Contains(id) {
			return true
		}
	}
	return false
}

// Global cycles through every node in the cluster, shared by all tasks.
// Picks never take a lock: they load the current cycle and advance its
// index with compare-and-swap.
type Global struct {
	logger zerolog.Logger

	mu      sync.Mutex
	current atomic.Pointer[cycle]

	ready     chan struct{}
	readyOnce sync.Once
}

// NewGlobal creates a global round-robin balancer. PickNode blocks until
// Init has been called once.
func NewGlobal() *Global {
	g := &Global{
		logger: log.WithComponent(globalName),
		ready:  make(chan struct{}),
	}
	g.current.Store(&cycle{index: atomic.NewInt64(0)})
	return g
}

// Init populates the cycle from the initial membership view and releases
// callers waiting in PickNode
func (g *Global) Init(nodes types.Topology) {
	ids := make([]string, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if node == nil {
			continue
		}
		if _, dup := seen[node.ID]; dup {
			continue
		}
		seen[node.ID] = struct{}{}
		ids = append(ids, node.ID)
	}

	g.mu.Lock()
	g.replaceLocked(ids)
	g.mu.Unlock()

	g.readyOnce.Do(func() { close(g.ready) })
	g.logger.Debug().Int("nodes", len(ids)).Msg("initialized node cycle")
}

// replaceLocked swaps in a new cycle, keeping the position modulo the new
// length so a membership change does not restart the rotation
func (g *Global) replaceLocked(ids []string) {
	old := g.current.Load()
	var idx int64
	if len(ids) > 0 {
		idx = old.index.Load() % int64(len(ids))
	}
	g.current.Store(&cycle{index: atomic.NewInt64(idx), nodeIDs: ids})
}

// PickNode returns the next node of the cycle that is part of topology
func (g *Global) PickNode(ctx context.Context, _ types.TaskSession, topology types.Topology, _ *types.Job) (*types.Node, error) {
	if len(topology) == 0 {
		return nil, g.fail(balancer.ErrEmptyTopology)
	}

	select {
	case <-g.ready:
	case <-ctx.Done():
		return nil, g.fail(ctx.Err())
	}

	var (
		last   *cycle
		misses int
	)
	for {
		c := g.current.Load()
		if c != last {
			last, misses = c, 0
		}
		if len(c.nodeIDs) == 0 {
			return nil, g.fail(balancer.ErrNoAliveNodes)
		}

		if node := topology.Find(c.next()); node != nil {
			metrics.NodesPicked.WithLabelValues(globalName).Inc()
			return node, nil
		}

		misses++
		if misses >= len(c.nodeIDs) {
			if !c.intersects(topology) {
				return nil, g.fail(balancer.ErrNoAliveNodes)
			}
			misses = 0
		}
	}
}

func (g *Global) fail(err error) error {
	metrics.PickErrors.WithLabelValues(globalName, balancer.Reason(err)).Inc()
	return err
}

// OnEvent updates the cycle on membership changes
func (g *Global) OnEvent(e *events.Event) {
	if e.Node == nil {
		return
	}

	switch {
	case e.Type == events.EventNodeJoined:
		g.mu.Lock()
		c := g.current.Load()
		for _, id := range c.nodeIDs {
			if id == e.Node.ID {
				g.mu.Unlock()
				return
			}
		}
		ids := make([]string, len(c.nodeIDs), len(c.nodeIDs)+1)
		copy(ids, c.nodeIDs)
		g.replaceLocked(append(ids, e.Node.ID))
		g.mu.Unlock()

	case e.Type.IsNodeGone():
		g.mu.Lock()
		c := g.current.Load()
		ids := make([]string, 0, len(c.nodeIDs))
		for _, id := range c.nodeIDs {
			if id != e.Node.ID {
				ids = append(ids, id)
			}
		}
		if len(ids) != len(c.nodeIDs) {
			g.replaceLocked(ids)
		}
		g.mu.Unlock()
	}
}

// Nodes returns the current cycle order
func (g *Global) Nodes() []string {
	c := g.current.Load()
	out := make([]string, len(c.nodeIDs))
	copy(out, c.nodeIDs)
	return out
}
