package events

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// EventType represents the type of event
type EventType string

const (
	EventNodeJoined         EventType = "node.joined"
	EventNodeLeft           EventType = "node.left"
	EventNodeFailed         EventType = "node.failed"
	EventNodeMetricsUpdated EventType = "node.metrics_updated"
	EventTaskFinished       EventType = "task.finished"
	EventTaskFailed         EventType = "task.failed"
	EventJobMapped          EventType = "job.mapped"
)

// IsNodeEvent reports whether the event carries a node
func (t EventType) IsNodeEvent() bool {
	switch t {
	case EventNodeJoined, EventNodeLeft, EventNodeFailed, EventNodeMetricsUpdated:
		return true
	}
	return false
}

// IsNodeGone reports whether the event removes a node from the cluster
func (t EventType) IsNodeGone() bool {
	return t == EventNodeLeft || t == EventNodeFailed
}

// IsTaskDone reports whether the event ends a task session
func (t EventType) IsTaskDone() bool {
	return t == EventTaskFinished || t == EventTaskFailed
}

// Event is a membership or task lifecycle notification. Node events carry
// Node, task events carry SessionID.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Node      *types.Node
	SessionID string
}

// NodeEvent creates a node event
func NodeEvent(t EventType, node *types.Node) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Node:      node,
	}
}

// TaskEvent creates a task lifecycle event
func TaskEvent(t EventType, sessionID string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
}

// Listener ingests events. Implementations must not block.
type Listener interface {
	OnEvent(event *Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(event *Event)

// OnEvent calls f(event)
func (f ListenerFunc) OnEvent(event *Event) {
	f(event)
}

// Dispatch delivers an event to listeners synchronously, in order
func Dispatch(event *Event, listeners ...Listener) {
	for _, l := range listeners {
		l.OnEvent(event)
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

const (
	queueSize = 100
	// membership events arrive in bursts when a node boots
	subscriberBuffer = 256
)

// Broker fans published events out to every subscriber. A subscriber whose
// buffer is full misses the event and the broker counts the drop. Forwarded
// listeners never miss events: they run on the distribution loop, so a slow
// listener holds up Publish instead.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	forwards    map[uint64][]Listener
	nextForward uint64
	queue       chan *Event
	dropped     atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]struct{}),
		forwards:    make(map[uint64][]Listener),
		queue:       make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start runs the distribution loop until Stop
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case event := <-b.queue:
				b.broadcast(event)
			case <-b.stopCh:
				return
			}
		}
	}()
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

func (b *Broker) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe closes sub. Unknown or already removed subscribers are ignored.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues event for distribution. It blocks while the queue is full
// and returns without queueing once the broker is stopped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.queue <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// order is kept within one Forward call only
	for _, listeners := range b.forwards {
		Dispatch(event, listeners...)
	}
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			b.dropped.Inc()
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped on full subscribers
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Forward dispatches every event to listeners, in order, until ctx is done.
// Listeners are registered before Forward returns and run on the broker's
// distribution loop, so they must not call Publish.
func (b *Broker) Forward(ctx context.Context, listeners ...Listener) {
	b.mu.Lock()
	id := b.nextForward
	b.nextForward++
	b.forwards[id] = append([]Listener(nil), listeners...)
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.stopCh:
		}
		b.mu.Lock()
		delete(b.forwards, id)
		b.mu.Unlock()
	}()
}

// ForwardCount returns the number of active Forward registrations
func (b *Broker) ForwardCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.forwards)
}
