/*
Package events carries membership and task lifecycle notifications into the
balancing core.

The discovery collaborator reports four node events (joined, left, failed,
metrics updated) and the task engine reports three session events (task
finished, task failed, job mapped). Every stateful component in gridbalance
implements Listener and ingests events through a single OnEvent method, so
all of its mutation funnels through one write path.

# Delivery

Dispatch delivers synchronously and in order, which is what tests and
single-threaded embedders want:

	events.Dispatch(events.NodeEvent(events.EventNodeJoined, node),
		tracker, globalRR, adaptive)

Broker decouples publishers from listeners with a buffered queue. Forward
registers a set of listeners that the broker loop calls for every event:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	broker.Forward(ctx, tracker, globalRR, perTask, adaptive)
	broker.Publish(events.TaskEvent(events.EventJobMapped, sessionID))

Forwarded listeners see every event; when they fall behind, Publish blocks.
Channel subscribers from Subscribe are lossy: a full buffer drops the event
for that subscriber and Dropped counts it.
*/
package events
