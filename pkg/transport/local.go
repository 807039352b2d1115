package transport

import (
	"context"
	"sync"

	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/pkg/errors"
)

// LocalNetwork delivers steal requests between nodes of one process.
// Delivery is synchronous on the sender's goroutine.
type LocalNetwork struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocalNetwork creates an empty in-process network
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		handlers: make(map[string]Handler),
	}
}

// Send implements Messenger
func (n *LocalNetwork) Send(ctx context.Context, req *types.StealRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.RLock()
	h, ok := n.handlers[req.ToNodeID]
	n.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "node %s", req.ToNodeID)
	}

	// receivers must not share the sender's copy
	msg := *req
	h(&msg)
	return nil
}

// Subscribe implements Messenger. A second subscription for the same node
// replaces the first.
func (n *LocalNetwork) Subscribe(nodeID string, handler Handler) (func(), error) {
	n.mu.Lock()
	n.handlers[nodeID] = handler
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.handlers, nodeID)
			n.mu.Unlock()
		})
	}, nil
}

// Close removes every subscription
func (n *LocalNetwork) Close() error {
	n.mu.Lock()
	n.handlers = make(map[string]Handler)
	n.mu.Unlock()
	return nil
}
