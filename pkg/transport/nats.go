package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/gridbalance/pkg/log"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSMessenger carries steal requests as JSON over NATS core subjects
type NATSMessenger struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSMessenger connects to the NATS servers at url
func NewNATSMessenger(url string, name string) (*NATSMessenger, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	m := &NATSMessenger{
		conn:   conn,
		logger: log.WithComponent("transport"),
	}
	m.logger.Info().Str("url", conn.ConnectedUrl()).Msg("connected to NATS")
	return m, nil
}

// Send implements Messenger
func (m *NATSMessenger) Send(ctx context.Context, req *types.StealRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal steal request: %w", err)
	}

	if err := m.conn.Publish(Subject(req.ToNodeID), data); err != nil {
		return fmt.Errorf("failed to publish steal request: %w", err)
	}
	return nil
}

// Subscribe implements Messenger
func (m *NATSMessenger) Subscribe(nodeID string, handler Handler) (func(), error) {
	sub, err := m.conn.Subscribe(Subject(nodeID), func(msg *nats.Msg) {
		var req types.StealRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			m.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed steal request")
			return
		}
		handler(&req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Subject(nodeID), err)
	}

	// make sure the server knows about the subscription before returning
	if err := m.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			m.logger.Debug().Err(err).Msg("failed to unsubscribe")
		}
	}, nil
}

// Announce publishes a node announcement to every peer
func (m *NATSMessenger) Announce(a *Announcement) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}
	if err := m.conn.Publish(TopicDiscovery, data); err != nil {
		return fmt.Errorf("failed to publish announcement: %w", err)
	}
	return nil
}

// SubscribeAnnouncements delivers peer announcements to handler
func (m *NATSMessenger) SubscribeAnnouncements(handler func(a *Announcement)) (func(), error) {
	sub, err := m.conn.Subscribe(TopicDiscovery, func(msg *nats.Msg) {
		var a Announcement
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			m.logger.Warn().Err(err).Msg("dropping malformed announcement")
			return
		}
		handler(&a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", TopicDiscovery, err)
	}
	if err := m.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}

	return func() { _ = sub.Unsubscribe() }, nil
}

// Check reports whether the connection is usable
func (m *NATSMessenger) Check() error {
	if !m.conn.IsConnected() {
		return fmt.Errorf("not connected to NATS")
	}
	return nil
}

// Close drains pending messages and closes the connection
func (m *NATSMessenger) Close() error {
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
