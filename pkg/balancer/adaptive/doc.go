/*
Package adaptive maps jobs to nodes with probability proportional to the
inverse of their load.

The load of every candidate is scored by a probe.LoadProbe and turned into a
selector.Selector. A node with half the load of another is picked twice as
often, so work drifts toward idle nodes without starving busy ones.

# Caching

A task usually maps all of its jobs in one burst against the same topology.
The balancer keeps the selector built by the first PickNode of a session and
reuses it until a job.mapped event arrives for that session:

	b := adaptive.New(probe.CPUProbe{}, trk)
	broker.Forward(ctx, trk, b)

	for _, job := range jobs {
		node, err := b.PickNode(ctx, session, topology, job)
		...
	}

After job.mapped every call builds a fresh selector from the topology it is
given, which is what failover needs when nodes have changed. The cached entry
is dropped on task.finished or task.failed.

# Job counters

Metrics snapshots arrive periodically, so between two snapshots the balancer
counts the jobs it sent to each node and passes the count to the probe.
Counters are owned by the tracker; a metrics update for a node resets its
counter.
*/
package adaptive
