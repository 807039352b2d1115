/*
Package storage persists node snapshots for gridbalance using BoltDB.

The balancing core keeps all of its state in memory. The one thing worth
surviving a restart is the membership view: the tracker creates job counters
for already-known nodes at startup, and a freshly started process would
otherwise route nothing to its peers until discovery replays every join.

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	trk := tracker.New(localNodeID, tracker.WithStore(store))
	if err := trk.Restore(); err != nil {
		return err
	}

Nodes are stored JSON-encoded in a single "nodes" bucket keyed by node ID.
SaveNode is an upsert. Missing records return an error wrapping ErrNotFound.
*/
package storage
