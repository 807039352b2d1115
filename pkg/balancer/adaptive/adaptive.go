package adaptive

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/metrics"
	"github.com/cuemby/gridbalance/pkg/probe"
	"github.com/cuemby/gridbalance/pkg/selector"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const name = "adaptive"

// Counters tracks jobs sent to each node since its last metrics update
type Counters interface {
	JobsSent(nodeID string) int
	Increment(nodeID string)
}

type taskSelector struct {
	mapped   bool
	selector *selector.Selector
}

// Balancer maps jobs to nodes with probability proportional to inverse load.
//
// While a task is still mapping its jobs the selector built on the first
// call is reused, so mapping n jobs probes the topology once. After the task
// reports that its jobs are mapped, every call (typically failover) probes
// the topology it is given afresh.
type Balancer struct {
	probe    probe.LoadProbe
	counters Counters
	random   func() float64
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*taskSelector
}

// Option configures a Balancer
type Option func(*Balancer)

// WithRandom sets the source of uniform draws in [0,1)
func WithRandom(random func() float64) Option {
	return func(b *Balancer) {
		b.random = random
	}
}

// New creates an adaptive balancer
func New(p probe.LoadProbe, counters Counters, opts ...Option) *Balancer {
	b := &Balancer{
		probe:    p,
		counters: counters,
		random:   rand.Float64,
		logger:   log.WithComponent(name),
		sessions: make(map[string]*taskSelector),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PickNode returns a node from topology weighted by inverse load
func (b *Balancer) PickNode(ctx context.Context, session types.TaskSession, topology types.Topology, job *types.Job) (*types.Node, error) {
	if len(topology) == 0 {
		metrics.PickErrors.WithLabelValues(name, balancer.Reason(balancer.ErrEmptyTopology)).Inc()
		return nil, balancer.ErrEmptyTopology
	}

	sel, err := b.selectorFor(session, topology)
	if err != nil {
		metrics.PickErrors.WithLabelValues(name, balancer.Reason(err)).Inc()
		return nil, err
	}

	node := sel.PickAt(b.random())
	b.counters.Increment(node.ID)
	metrics.NodesPicked.WithLabelValues(name).Inc()

	if e := b.logger.Debug(); e.Enabled() {
		e.Str("node_id", node.ID)
		if session != nil {
			e.Str("session_id", session.ID())
		}
		if job != nil {
			e.Str("job_id", job.ID)
		}
		e.Msg("picked node")
	}

	return node, nil
}

func (b *Balancer) selectorFor(session types.TaskSession, topology types.Topology) (*selector.Selector, error) {
	if session == nil {
		return b.build(topology, "rebuilt")
	}

	id := session.ID()

	b.mu.Lock()
	entry, ok := b.sessions[id]
	if ok && !entry.mapped {
		sel := entry.selector
		b.mu.Unlock()
		metrics.SelectorBuilds.WithLabelValues("cached").Inc()
		return sel, nil
	}
	b.mu.Unlock()

	if ok {
		// jobs already mapped: topology may have changed since
		return b.build(topology, "rebuilt")
	}

	sel, err := b.build(topology, "built")
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if _, exists := b.sessions[id]; !exists {
		b.sessions[id] = &taskSelector{selector: sel}
	}
	b.mu.Unlock()

	return sel, nil
}

func (b *Balancer) build(topology types.Topology, reason string) (*selector.Selector, error) {
	sel, err := selector.New(topology, b.probe, b.counters.JobsSent)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build weighted topology")
	}
	metrics.SelectorBuilds.WithLabelValues(reason).Inc()
	return sel, nil
}

// OnEvent ingests task lifecycle events
func (b *Balancer) OnEvent(e *events.Event) {
	switch {
	case e.Type == events.EventJobMapped:
		b.mu.Lock()
		if entry, ok := b.sessions[e.SessionID]; ok {
			entry.mapped = true
		}
		b.mu.Unlock()
	case e.Type.IsTaskDone():
		b.mu.Lock()
		delete(b.sessions, e.SessionID)
		b.mu.Unlock()
	}
}

// Cached returns the selector cached for a session and whether its jobs have
// been mapped
func (b *Balancer) Cached(sessionID string) (sel *selector.Selector, mapped bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.sessions[sessionID]
	if !ok {
		return nil, false, false
	}
	return entry.selector, entry.mapped, true
}

// SessionCount returns the number of cached sessions
func (b *Balancer) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
