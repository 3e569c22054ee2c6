package eventbroker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/gordian-engine/eventbroker/ebchan"
	"github.com/gordian-engine/eventbroker/ebpubsub"
	"github.com/gordian-engine/eventbroker/internal/ebtrace"
)

// DefaultTopic is the topic used when an empty topic name
// is given to [*Broker.Subscribe] or [*Broker.Publish].
const DefaultTopic = "global"

// BrokerConfig is the configuration for [NewBroker].
type BrokerConfig struct {
	// Capacity of each subscription's buffer.
	// Zero or negative means unbounded,
	// in which case publishes are always delivered immediately.
	//
	// With a bounded capacity, a subscription whose consumer falls behind
	// delays the [*Delivery] of every publish to its topic.
	// A subscription that is never consumed
	// will eventually delay those deliveries forever,
	// so size the capacity to the expected consumption lag.
	Capacity int

	// Optional tracer provider.
	// If nil, a no-op provider is used.
	TracerProvider ebtrace.TracerProvider
}

// Registration is a value on the [*Broker.Registrations] stream,
// produced every time a subscription is created.
type Registration struct {
	Topic          string
	SubscriptionID uuid.UUID

	// Whether this was the first subscription on Topic.
	NewTopic bool
}

// Broker maps topics to subscriptions
// and broadcasts published messages to every subscription of a topic.
//
// The topic registry is owned by a single main loop goroutine,
// so publishes are totally ordered:
// all subscriptions on a topic observe that topic's messages
// in the same order.
type Broker[T any] struct {
	log *slog.Logger

	tracer ebtrace.Tracer

	// Capacity for each new subscription; never zero.
	capacity int

	// Topic registry, owned by the main loop.
	// Entries are created on first subscribe and never removed.
	topics map[string][]*Subscription[T]

	// The root of the registration stream is kept for readers,
	// and the tail is only written by the main loop.
	registrations *ebpubsub.Stream[Registration]
	regTail       *ebpubsub.Stream[Registration]

	subscribeRequests chan subscribeRequest[T]
	publishRequests   chan publishRequest[T]
	topicsRequests    chan topicsRequest

	// Set by the main loop before closing done.
	stopCause error

	done chan struct{}
}

// NewBroker returns a new Broker and starts its main loop.
// The main loop runs until ctx is canceled;
// use [*Broker.Wait] to block until it has stopped.
func NewBroker[T any](ctx context.Context, log *slog.Logger, cfg BrokerConfig) *Broker[T] {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = ebchan.Unbounded
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = ebtrace.NopTracerProvider()
	}

	regs := ebpubsub.NewStream[Registration]()

	b := &Broker[T]{
		log: log,

		tracer: tp.Tracer(ebtrace.InstrumentationName),

		capacity: capacity,

		topics: map[string][]*Subscription[T]{},

		registrations: regs,
		regTail:       regs,

		// Unbuffered because the caller blocks on these requests anyway.
		subscribeRequests: make(chan subscribeRequest[T]),
		publishRequests:   make(chan publishRequest[T]),
		topicsRequests:    make(chan topicsRequest),

		done: make(chan struct{}),
	}

	go b.mainLoop(ctx)

	return b
}

// Wait blocks until the broker's main loop has stopped.
func (b *Broker[T]) Wait() {
	<-b.done
}

func (b *Broker[T]) mainLoop(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.stopCause = context.Cause(ctx)
			b.log.Info("Stopping due to context cancellation", "cause", b.stopCause)
			return

		case req := <-b.subscribeRequests:
			b.handleSubscribeRequest(req)

		case req := <-b.publishRequests:
			b.handlePublishRequest(req)

		case req := <-b.topicsRequests:
			b.handleTopicsRequest(req)
		}
	}
}

// Subscribe creates a new subscription on topic,
// registering the topic if this is its first subscription.
// An empty topic means [DefaultTopic].
//
// Subscriptions are never deduplicated:
// subscribing twice yields two independent subscriptions,
// each of which receives every later publish.
//
// An error is only returned if ctx is canceled before the broker
// accepts the request, or if the broker has stopped.
// A subscription is never registered without being returned.
func (b *Broker[T]) Subscribe(ctx context.Context, topic string) (*Subscription[T], error) {
	req := subscribeRequest[T]{
		Topic: topicOrDefault(topic),
		Resp:  make(chan *Subscription[T], 1),
	}

	// Checked first so a canceled ctx never races the request send.
	if ctx.Err() != nil {
		return nil, fmt.Errorf(
			"context canceled before subscribe request: %w", context.Cause(ctx),
		)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf(
			"context canceled while making subscribe request: %w", context.Cause(ctx),
		)
	case <-b.done:
		return nil, b.stoppedErr()
	case b.subscribeRequests <- req:
		// Okay.
	}

	// Once the main loop has the request, the subscription is registered
	// and the response is sent without blocking,
	// so the caller must always receive it.
	return <-req.Resp, nil
}

func (b *Broker[T]) handleSubscribeRequest(req subscribeRequest[T]) {
	sub := newSubscription[T](req.Topic, b.capacity)

	subs, ok := b.topics[req.Topic]
	b.topics[req.Topic] = append(subs, sub)

	b.regTail.Publish(Registration{
		Topic:          req.Topic,
		SubscriptionID: sub.id,
		NewTopic:       !ok,
	})
	b.regTail = b.regTail.Next

	b.log.Debug(
		"Created subscription",
		"topic", req.Topic,
		"subscription_id", sub.id,
		"topic_subscriptions", len(b.topics[req.Topic]),
	)

	// Assume the response channel is buffered.
	req.Resp <- sub
}

// Publish broadcasts msg to every current subscription on topic,
// in subscription order.
// An empty topic means [DefaultTopic].
//
// Publish does not wait for delivery.
// The returned [*Delivery] is done once every subscription
// has accepted msg into its buffer.
//
// Publish returns a [NoSubscribersError] if no topic has ever been subscribed to,
// and an [UnknownTopicError] if topic has never been subscribed to
// while other topics have.
// It also returns an error if ctx is canceled before the broker
// accepts the request, or if the broker has stopped.
// No error is returned for a message the broker has fanned out.
func (b *Broker[T]) Publish(ctx context.Context, topic string, msg T) (*Delivery, error) {
	topic = topicOrDefault(topic)

	_, span := b.tracer.Start(
		ctx,
		"publish",
		ebtrace.WithAttributes(ebtrace.TopicAttr(topic)),
	)
	defer span.End()

	req := publishRequest[T]{
		Topic: topic,
		Msg:   msg,
		Resp:  make(chan publishResponse, 1),
	}

	if ctx.Err() != nil {
		err := fmt.Errorf(
			"context canceled before publish request: %w", context.Cause(ctx),
		)
		ebtrace.SpanError(span, err)
		return nil, err
	}

	select {
	case <-ctx.Done():
		err := fmt.Errorf(
			"context canceled while making publish request: %w", context.Cause(ctx),
		)
		ebtrace.SpanError(span, err)
		return nil, err
	case <-b.done:
		err := b.stoppedErr()
		ebtrace.SpanError(span, err)
		return nil, err
	case b.publishRequests <- req:
		// Okay.
	}

	// The main loop has fanned out the message by the time it responds,
	// and it never blocks on the response.
	resp := <-req.Resp

	if resp.Err != nil {
		ebtrace.SpanError(span, resp.Err)
		return nil, resp.Err
	}

	d := resp.Delivery
	span.SetAttributes(
		ebtrace.TargetsAttr(d.Targets()),
		ebtrace.ImmediateAttr(resp.Immediate),
	)
	return d, nil
}

func (b *Broker[T]) handlePublishRequest(req publishRequest[T]) {
	// The emptiness check is global:
	// with no topics at all, the topic name is irrelevant.
	if len(b.topics) == 0 {
		req.Resp <- publishResponse{Err: NoSubscribersError{Topic: req.Topic}}
		return
	}

	subs, ok := b.topics[req.Topic]
	if !ok {
		req.Resp <- publishResponse{Err: UnknownTopicError{Topic: req.Topic}}
		return
	}

	ids := make([]uuid.UUID, len(subs))
	for i, s := range subs {
		ids[i] = s.id
	}

	d := newDelivery(req.Topic, ids)
	for i, s := range subs {
		_ = s.deliver(req.Msg, d.acceptFunc(uint(i)))
	}

	// Consumers may accept waiting puts as soon as the fan-out ends,
	// so this is only meaningful when read here.
	pending := d.Pending()
	if pending > 0 {
		b.log.Debug(
			"Published message with delivery pending on full buffers",
			"topic", req.Topic,
			"targets", len(subs),
			"pending", pending,
		)
	}

	req.Resp <- publishResponse{
		Delivery:  d,
		Immediate: len(subs) - pending,
	}
}

// Topics returns the sorted names of every registered topic.
func (b *Broker[T]) Topics(ctx context.Context) ([]string, error) {
	counts, err := b.topicCounts(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(counts)), nil
}

// SubscriberCount returns the number of subscriptions on topic,
// which is zero for an unregistered topic.
// An empty topic means [DefaultTopic].
func (b *Broker[T]) SubscriberCount(ctx context.Context, topic string) (int, error) {
	counts, err := b.topicCounts(ctx)
	if err != nil {
		return 0, err
	}
	return counts[topicOrDefault(topic)], nil
}

func (b *Broker[T]) topicCounts(ctx context.Context) (map[string]int, error) {
	req := topicsRequest{
		Resp: make(chan map[string]int, 1),
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf(
			"context canceled while making topics request: %w", context.Cause(ctx),
		)
	case <-b.done:
		return nil, b.stoppedErr()
	case b.topicsRequests <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf(
			"context canceled while waiting for topics response: %w", context.Cause(ctx),
		)
	case counts := <-req.Resp:
		return counts, nil
	}
}

func (b *Broker[T]) handleTopicsRequest(req topicsRequest) {
	counts := make(map[string]int, len(b.topics))
	for topic, subs := range b.topics {
		counts[topic] = len(subs)
	}
	req.Resp <- counts
}

// Registrations returns the root of the broker's registration stream,
// which receives one value for every subscription created,
// in creation order.
//
// Readers that stop advancing through the stream
// keep every later node alive.
func (b *Broker[T]) Registrations() *ebpubsub.Stream[Registration] {
	return b.registrations
}

// stoppedErr must only be called after b.done is closed.
func (b *Broker[T]) stoppedErr() error {
	return fmt.Errorf("broker stopped: %w", b.stopCause)
}

func topicOrDefault(topic string) string {
	if topic == "" {
		return DefaultTopic
	}
	return topic
}
