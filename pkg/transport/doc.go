/*
Package transport delivers job stealing requests between gridbalance nodes.

An idle node asks a busy peer to hand over queued jobs by sending it a
types.StealRequest on the TopicJobStealing topic. Each node subscribes to
the requests addressed to it:

	unsubscribe, err := messenger.Subscribe(localID, resolver.OnMessage)
	if err != nil {
		return err
	}
	defer unsubscribe()

Two Messenger implementations are provided:

  - LocalNetwork delivers in-process and synchronously. It backs tests and
    single-process clusters.
  - NATSMessenger publishes JSON-encoded requests on the NATS subject
    "<TopicJobStealing>.<nodeID>".

Delivery is best effort. A request whose target is gone is dropped and the
sender asks again on a later collision check.
*/
package transport
