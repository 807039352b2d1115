package transport

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/gridbalance/pkg/types"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(from, to string, delta int) *types.StealRequest {
	return &types.StealRequest{
		ID:         from + "-" + to,
		FromNodeID: from,
		ToNodeID:   to,
		Delta:      delta,
		SentAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "gridbalance.collision.jobstealing.node-1", Subject("node-1"))
}

func TestLocalNetwork(t *testing.T) {
	network := NewLocalNetwork()
	ctx := context.Background()

	var got []*types.StealRequest
	unsubscribe, err := network.Subscribe("b", func(req *types.StealRequest) {
		got = append(got, req)
	})
	require.NoError(t, err)

	sent := request("a", "b", 3)
	require.NoError(t, network.Send(ctx, sent))
	require.Len(t, got, 1)
	assert.Equal(t, *sent, *got[0])
	assert.NotSame(t, sent, got[0])

	err = network.Send(ctx, request("b", "c", 1))
	assert.ErrorIs(t, err, ErrUnknownNode)

	unsubscribe()
	unsubscribe()
	assert.ErrorIs(t, network.Send(ctx, sent), ErrUnknownNode)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, network.Send(cancelled, sent), context.Canceled)
}

func TestLocalNetworkClose(t *testing.T) {
	network := NewLocalNetwork()
	_, err := network.Subscribe("a", func(*types.StealRequest) {})
	require.NoError(t, err)

	require.NoError(t, network.Close())
	assert.ErrorIs(t, network.Send(context.Background(), request("b", "a", 1)), ErrUnknownNode)
}

func TestNATSMessenger(t *testing.T) {
	server := natsserver.RunRandClientPortServer()
	defer server.Shutdown()

	sender, err := NewNATSMessenger(server.ClientURL(), "sender")
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := NewNATSMessenger(server.ClientURL(), "receiver")
	require.NoError(t, err)
	defer receiver.Close()

	require.NoError(t, sender.Check())

	received := make(chan *types.StealRequest, 4)
	unsubscribe, err := receiver.Subscribe("b", func(req *types.StealRequest) {
		received <- req
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = receiver.Subscribe("c", func(req *types.StealRequest) {
		t.Errorf("request for b delivered to c: %+v", req)
	})
	require.NoError(t, err)

	sent := request("a", "b", 5)
	require.NoError(t, sender.Send(context.Background(), sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "a", got.FromNodeID)
		assert.Equal(t, 5, got.Delta)
		assert.True(t, sent.SentAt.Equal(got.SentAt))
	case <-time.After(5 * time.Second):
		t.Fatal("steal request not delivered")
	}
}

func TestNATSMessengerConnectFailure(t *testing.T) {
	_, err := NewNATSMessenger("nats://127.0.0.1:1", "nobody")
	assert.Error(t, err)
}
