package transport

import (
	"context"

	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/pkg/errors"
)

// TopicJobStealing is the topic reserved for steal requests
const TopicJobStealing = "gridbalance.collision.jobstealing"

// ErrUnknownNode is returned when a request is addressed to a node that is
// not subscribed
var ErrUnknownNode = errors.New("no subscriber for node")

// Handler receives steal requests addressed to a node
type Handler func(req *types.StealRequest)

// Messenger delivers steal requests between nodes
type Messenger interface {
	// Send delivers req to req.ToNodeID
	Send(ctx context.Context, req *types.StealRequest) error

	// Subscribe registers handler for requests addressed to nodeID. The
	// returned function removes the subscription.
	Subscribe(nodeID string, handler Handler) (func(), error)

	Close() error
}

// Subject returns the subject steal requests for nodeID are published on
func Subject(nodeID string) string {
	return TopicJobStealing + "." + nodeID
}
