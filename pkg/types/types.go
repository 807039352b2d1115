package types

import (
	"sync"
	"time"
)

// Node is a cluster member together with the metrics it last published.
// Nodes are never mutated after they are handed to the balancing core; a
// metrics update replaces the cached *Node wholesale.
type Node struct {
	ID         string
	Address    string
	Attributes map[string]string
	Metrics    NodeMetrics
	UpdatedAt  time.Time
}

// Attribute returns the value of a node attribute and whether it is set.
func (n *Node) Attribute(key string) (string, bool) {
	if n == nil || n.Attributes == nil {
		return "", false
	}
	v, ok := n.Attributes[key]
	return v, ok
}

// NodeMetrics is the metrics snapshot a node publishes through discovery
type NodeMetrics struct {
	CurrentJobExecuteTime time.Duration
	AverageJobExecuteTime time.Duration
	CurrentJobWaitTime    time.Duration
	AverageJobWaitTime    time.Duration

	// CPU utilization as a fraction of total capacity (0..1)
	CurrentCPULoad float64
	AverageCPULoad float64

	CurrentActiveJobs  float64
	AverageActiveJobs  float64
	CurrentWaitingJobs float64
	AverageWaitingJobs float64
}

// Topology is the ordered list of candidate nodes for one mapping call
type Topology []*Node

// Find returns the node with the given ID, or nil
func (t Topology) Find(id string) *Node {
	for _, n := range t {
		if n != nil && n.ID == id {
			return n
		}
	}
	return nil
}

// Contains reports whether a node with the given ID is part of the topology
func (t Topology) Contains(id string) bool {
	return t.Find(id) != nil
}

// IDs returns the node IDs in topology order
func (t Topology) IDs() []string {
	ids := make([]string, 0, len(t))
	for _, n := range t {
		if n != nil {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// TaskSession identifies one distributed task instance and the nodes that
// currently participate in it.
type TaskSession interface {
	ID() string
	HasNode(nodeID string) bool
}

// Session is a TaskSession whose participating node set can be changed
// while the task runs (for example after failover).
type Session struct {
	id string

	mu    sync.RWMutex
	nodes map[string]struct{}
}

// NewSession creates a session participating on the given nodes
func NewSession(id string, nodeIDs ...string) *Session {
	s := &Session{
		id:    id,
		nodes: make(map[string]struct{}, len(nodeIDs)),
	}
	for _, nodeID := range nodeIDs {
		s.nodes[nodeID] = struct{}{}
	}
	return s
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// HasNode reports whether the node participates in the task
func (s *Session) HasNode(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[nodeID]
	return ok
}

// AddNode adds a node to the task topology
func (s *Session) AddNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeID] = struct{}{}
}

// RemoveNode removes a node from the task topology
func (s *Session) RemoveNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, nodeID)
}

// Job is the unit of work being mapped to a node
type Job struct {
	ID        string
	SessionID string
}

// Job context attribute keys written by the stealing protocol
const (
	AttrStealingAttempts = "gridbalance.stealing.attempts"
	AttrThiefNode        = "gridbalance.stealing.thief"
)

// JobContext is one pending or executing job on the local node as seen by
// collision resolution.
type JobContext interface {
	JobID() string
	Session() TaskSession
	Attribute(key string) (any, bool)
	SetAttribute(key string, value any)

	// Activate starts a waiting job. Returns false if the job was already
	// activated or cancelled.
	Activate() bool

	// Cancel rejects a waiting job so failover can route it elsewhere.
	// Returns false if the job was already activated or cancelled.
	Cancel() bool
}

// StealingAttempts returns the hop counter recorded on a job context
func StealingAttempts(ctx JobContext) int {
	v, ok := ctx.Attribute(AttrStealingAttempts)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// ThiefNode returns the node a job was handed to, if any
func ThiefNode(ctx JobContext) (string, bool) {
	v, ok := ctx.Attribute(AttrThiefNode)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StealRequest is sent by an idle node asking a peer for Delta queued jobs
type StealRequest struct {
	ID         string    `json:"id"`
	FromNodeID string    `json:"fromNodeId"`
	ToNodeID   string    `json:"toNodeId"`
	Delta      int       `json:"delta"`
	SentAt     time.Time `json:"sentAt"`
}
