package balancer

import (
	"context"

	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/pkg/errors"
)

var (
	// ErrEmptyTopology is returned when a mapping call supplies no candidates.
	// It is a caller error and is never retried internally.
	ErrEmptyTopology = errors.New("empty task topology")

	// ErrNoAliveNodes is returned when no candidate in the topology can be
	// used. Callers treat the job as unschedulable for this attempt and retry
	// with a refreshed topology.
	ErrNoAliveNodes = errors.New("no alive nodes in task topology")
)

// Balancer picks the node a job is mapped to
type Balancer interface {
	// PickNode returns the best node for job among topology. session and
	// job may be nil for balancers that do not use them.
	PickNode(ctx context.Context, session types.TaskSession, topology types.Topology, job *types.Job) (*types.Node, error)
}

// Func adapts a function to Balancer
type Func func(ctx context.Context, session types.TaskSession, topology types.Topology, job *types.Job) (*types.Node, error)

// PickNode calls f
func (f Func) PickNode(ctx context.Context, session types.TaskSession, topology types.Topology, job *types.Job) (*types.Node, error) {
	return f(ctx, session, topology, job)
}

// Reason maps a pick error to a short metrics label
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyTopology):
		return "empty_topology"
	case errors.Is(err, ErrNoAliveNodes):
		return "no_alive_nodes"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
