package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/gridbalance/pkg/types"
	bolt "go.etcd.io/bbolt"
)

const dbFile = "gridbalance.db"

var bucketNodes = []byte("nodes")

// BoltStore keeps node snapshots in a single bbolt file
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the node database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Join(dataDir, dbFile), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketNodes, err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveNode upserts the snapshot under its node ID
func (s *BoltStore) SaveNode(node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode node %s: %w", node.ID, err)
	}
	return s.update(func(b *bolt.Bucket) error {
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node *types.Node
	err := s.view(func(b *bolt.Bucket) error {
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		var err error
		node, err = decodeNode(id, raw)
		return err
	})
	return node, err
}

// ListNodes returns every stored snapshot ordered by node ID
func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			node, err := decodeNode(string(k), v)
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) update(fn func(*bolt.Bucket) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketNodes))
	})
}

func (s *BoltStore) view(fn func(*bolt.Bucket) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(bucketNodes))
	})
}

func decodeNode(id string, raw []byte) (*types.Node, error) {
	var node types.Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", id, err)
	}
	return &node, nil
}
