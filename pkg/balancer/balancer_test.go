package balancer

import (
	"context"
	"testing"

	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrEmptyTopology, "empty_topology"},
		{errors.Wrap(ErrNoAliveNodes, "session s1"), "no_alive_nodes"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.err))
		})
	}
}

func TestFunc(t *testing.T) {
	first := Func(func(_ context.Context, _ types.TaskSession, top types.Topology, _ *types.Job) (*types.Node, error) {
		return top[0], nil
	})

	node, err := first.PickNode(context.Background(), nil, types.Topology{{ID: "a"}, {ID: "b"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", node.ID)
}
