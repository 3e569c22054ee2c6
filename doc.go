// Package eventbroker contains a topic-based in-process message broker.
//
// Publishers broadcast values to a named topic with [*Broker.Publish],
// and every [Subscription] registered on that topic
// receives its own copy in a private FIFO buffer.
// Each subscriber consumes at its own pace:
// a slow subscriber never causes messages to be dropped,
// it only delays the completion of publishes
// once its buffer reaches capacity.
//
// Publish does not wait for delivery.
// Instead it returns a [*Delivery], which is done
// once every targeted subscription has accepted the message.
//
// The broker's buffers are in memory only.
// There is no persistence, replay, or networked transport,
// and ordering is only guaranteed per subscription.
package eventbroker
