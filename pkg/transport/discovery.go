package transport

import (
	"sync"
	"time"

	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/types"
)

// TopicDiscovery is the topic nodes announce themselves on
const TopicDiscovery = "gridbalance.discovery"

// AnnouncementType is the kind of node announcement
type AnnouncementType string

const (
	AnnounceHeartbeat AnnouncementType = "heartbeat"
	AnnounceLeave     AnnouncementType = "leave"
)

// Announcement carries a node's current snapshot to its peers
type Announcement struct {
	Type   AnnouncementType `json:"type"`
	Node   *types.Node      `json:"node"`
	SentAt time.Time        `json:"sentAt"`
}

// Watcher turns peer announcements into membership events. The first
// heartbeat of a node is a join, later ones are metrics updates. Nodes that
// stay silent for longer than the timeout are reported failed by Sweep.
type Watcher struct {
	timeout  time.Duration
	listener events.Listener
	now      func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
	nodes    map[string]*types.Node
}

// NewWatcher creates a watcher forwarding events to listener
func NewWatcher(timeout time.Duration, listener events.Listener) *Watcher {
	return &Watcher{
		timeout:  timeout,
		listener: listener,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
		nodes:    make(map[string]*types.Node),
	}
}

// OnAnnouncement ingests one announcement
func (w *Watcher) OnAnnouncement(a *Announcement) {
	if a == nil || a.Node == nil || a.Node.ID == "" {
		return
	}
	id := a.Node.ID

	w.mu.Lock()
	var typ events.EventType
	switch a.Type {
	case AnnounceLeave:
		if _, known := w.nodes[id]; !known {
			w.mu.Unlock()
			return
		}
		delete(w.nodes, id)
		delete(w.lastSeen, id)
		typ = events.EventNodeLeft
	default:
		if _, known := w.nodes[id]; known {
			typ = events.EventNodeMetricsUpdated
		} else {
			typ = events.EventNodeJoined
		}
		w.nodes[id] = a.Node
		w.lastSeen[id] = w.now()
	}
	w.mu.Unlock()

	w.listener.OnEvent(events.NodeEvent(typ, a.Node))
}

// Expect registers nodes the caller already treats as alive, such as
// snapshots restored from disk, as if they had just announced themselves.
// Their next heartbeat is a metrics update, and Sweep fails them once they
// stay silent past the timeout. Nodes the watcher already knows are left as
// they are.
func (w *Watcher) Expect(nodes []*types.Node) {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, node := range nodes {
		if node == nil || node.ID == "" {
			continue
		}
		if _, known := w.nodes[node.ID]; known {
			continue
		}
		w.nodes[node.ID] = node
		w.lastSeen[node.ID] = now
	}
}

// Sweep reports nodes not heard from within the timeout as failed
func (w *Watcher) Sweep() {
	cutoff := w.now().Add(-w.timeout)

	w.mu.Lock()
	var failed []*types.Node
	for id, seen := range w.lastSeen {
		if seen.Before(cutoff) {
			failed = append(failed, w.nodes[id])
			delete(w.lastSeen, id)
			delete(w.nodes, id)
		}
	}
	w.mu.Unlock()

	for _, node := range failed {
		w.listener.OnEvent(events.NodeEvent(events.EventNodeFailed, node))
	}
}

// Known returns the number of nodes currently considered alive
func (w *Watcher) Known() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.nodes)
}
