package roundrobin

import (
	"context"
	"sync"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/metrics"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const perTaskName = "roundrobin_per_task"

// ErrNoSession is returned when PerTask is called without a task session
var ErrNoSession = errors.New("per-task round robin requires a task session")

// taskQueue is the rotation of one task. A task maps its jobs from a single
// goroutine; mu guards against the Nodes accessor.
type taskQueue struct {
	mu     sync.Mutex
	mapped bool
	nodes  deque.Deque[*types.Node]
}

func (q *taskQueue) contains(id string) bool {
	for i := 0; i < q.nodes.Len(); i++ {
		if q.nodes.At(i).ID == id {
			return true
		}
	}
	return false
}

// PerTask rotates through each task's own topology
type PerTask struct {
	logger zerolog.Logger

	mu     sync.Mutex
	queues map[string]*taskQueue
}

// NewPerTask creates a per-task round-robin balancer
func NewPerTask() *PerTask {
	return &PerTask{
		logger: log.WithComponent(perTaskName),
		queues: make(map[string]*taskQueue),
	}
}

// PickNode pops the next node of the session's queue. Until the session's
// jobs are mapped every node is pushed back unconditionally; afterwards the
// queue is reconciled against topology on every call.
func (p *PerTask) PickNode(_ context.Context, session types.TaskSession, topology types.Topology, _ *types.Job) (*types.Node, error) {
	if len(topology) == 0 {
		return nil, p.fail(balancer.ErrEmptyTopology)
	}
	if session == nil {
		return nil, p.fail(ErrNoSession)
	}

	q := p.queueFor(session.ID(), topology)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.nodes.Len() == 0 && !q.mapped {
		return nil, p.fail(balancer.ErrEmptyTopology)
	}

	if !q.mapped {
		node := q.nodes.PopFront()
		q.nodes.PushBack(node)
		metrics.NodesPicked.WithLabelValues(perTaskName).Inc()
		return node, nil
	}

	node := p.readjust(q, topology)
	if node == nil {
		p.logger.Debug().Str("session_id", session.ID()).Msg("no queued node left in topology")
		return nil, p.fail(balancer.ErrNoAliveNodes)
	}
	metrics.NodesPicked.WithLabelValues(perTaskName).Inc()
	return node, nil
}

// readjust appends topology nodes the queue does not know yet, then drops
// queued nodes that are no longer part of topology until one is found
func (p *PerTask) readjust(q *taskQueue, topology types.Topology) *types.Node {
	for _, node := range topology {
		if node != nil && !q.contains(node.ID) {
			q.nodes.PushBack(node)
		}
	}

	for q.nodes.Len() > 0 {
		queued := q.nodes.PopFront()
		if current := topology.Find(queued.ID); current != nil {
			q.nodes.PushBack(current)
			return current
		}
	}
	return nil
}

func (p *PerTask) queueFor(sessionID string, topology types.Topology) *taskQueue {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.queues[sessionID]; ok {
		return q
	}

	q := &taskQueue{}
	for _, node := range topology {
		if node != nil && !q.contains(node.ID) {
			q.nodes.PushBack(node)
		}
	}
	p.queues[sessionID] = q
	return q
}

func (p *PerTask) fail(err error) error {
	metrics.PickErrors.WithLabelValues(perTaskName, balancer.Reason(err)).Inc()
	return err
}

// OnEvent ingests task lifecycle events
func (p *PerTask) OnEvent(e *events.Event) {
	switch {
	case e.Type == events.EventJobMapped:
		p.mu.Lock()
		q, ok := p.queues[e.SessionID]
		p.mu.Unlock()
		if ok {
			q.mu.Lock()
			q.mapped = true
			q.mu.Unlock()
		}
	case e.Type.IsTaskDone():
		p.mu.Lock()
		delete(p.queues, e.SessionID)
		p.mu.Unlock()
	}
}

// Nodes returns the queued node IDs of a session, front first
func (p *PerTask) Nodes(sessionID string) []string {
	p.mu.Lock()
	q, ok := p.queues[sessionID]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, q.nodes.Len())
	for i := range ids {
		ids[i] = q.nodes.At(i).ID
	}
	return ids
}

// SessionCount returns the number of sessions with a queue
func (p *PerTask) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}
