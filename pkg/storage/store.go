package storage

import (
	"errors"

	"github.com/cuemby/gridbalance/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store persists the last known snapshot of every alive node so a restarted
// process can seed its tracker before discovery replays membership.
type Store interface {
	SaveNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	DeleteNode(id string) error

	Close() error
}
