/*
Package types defines the data model shared by the gridbalance packages.

The model is intentionally small: nodes and their published metrics, the
per-call candidate topology, task sessions, the job context surface used by
collision resolution, and the steal request exchanged between nodes.

# Nodes

A Node is a cluster member plus the metrics snapshot it last published:

	node := &types.Node{
		ID:         "node-1",
		Attributes: map[string]string{"zone": "a"},
		Metrics: types.NodeMetrics{
			CurrentCPULoad: 0.35,
		},
	}

Nodes are treated as immutable values. When discovery reports new metrics
the tracker replaces its cached *Node with the new one, so readers never
observe a half-updated snapshot.

# Topologies and Sessions

A Topology is the ordered list of candidates for one mapping call. It is
supplied by the caller on every call and never stored by a balancer.

A TaskSession identifies one distributed task. HasNode answers whether a
node still participates in the task; the stealing resolver uses it to make
sure a thief is still part of a job's task before handing the job over.

# Job Contexts

JobContext is implemented by the execution layer (see pkg/agent for the
in-process implementation). Collision resolution only ever activates or
cancels a context and writes two attributes:

  - AttrStealingAttempts: hop counter, incremented on every hand-off
  - AttrThiefNode: ID of the node chosen to receive the job

# See Also

  - pkg/tracker - node cache and job counters
  - pkg/stealing - collision resolution
*/
package types
