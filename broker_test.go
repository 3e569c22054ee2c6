package eventbroker_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gordian-engine/eventbroker"
	"github.com/gordian-engine/eventbroker/eventbrokertest"
	"github.com/gordian-engine/eventbroker/internal/ebtest"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBroker_unboundedStatusSequence(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "STATUS")

	for _, msg := range []string{"Active", "Down", "Active"} {
		d := fx.MustPublish(ctx, b, "STATUS", msg)
		ebtest.IsSending(t, d.Done())
	}

	for _, want := range []string{"Active", "Down", "Active"} {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Zero(t, sub.Len())
}

func TestBroker_fullBufferDelaysDelivery(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	fx.Cfg.Capacity = 1
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "t")

	first := fx.MustPublish(ctx, b, "t", 1)
	ebtest.IsSending(t, first.Done())

	second := fx.MustPublish(ctx, b, "t", 2)
	ebtest.NotSending(t, second.Done())
	require.Equal(t, 1, second.Pending())
	require.Equal(t, []uuid.UUID{sub.ID()}, second.PendingSubscriptions())

	// Consuming one message frees the slot,
	// which immediately admits the waiting message.
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got)

	ebtest.IsSending(t, second.Done())
	require.Zero(t, second.Pending())
	require.Empty(t, second.PendingSubscriptions())
	require.Equal(t, 1, sub.Len())

	got, err = sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, got)
}

func TestBroker_Publish_noSubscribers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	for _, topic := range []string{"X", "", "STATUS"} {
		d, err := b.Publish(ctx, topic, "m")
		require.Nil(t, d)

		var nse eventbroker.NoSubscribersError
		require.ErrorAs(t, err, &nse)
	}

	// Failed publishes do not register anything.
	topics, err := b.Topics(ctx)
	require.NoError(t, err)
	require.Empty(t, topics)

	regs, _ := b.Registrations().Collect()
	require.Empty(t, regs)
}

func TestBroker_Publish_unknownTopic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "known")

	d, err := b.Publish(ctx, "unknown", "m")
	require.Nil(t, d)

	var ute eventbroker.UnknownTopicError
	require.ErrorAs(t, err, &ute)
	require.Equal(t, "unknown", ute.Topic)

	// The known topic is unaffected.
	require.Zero(t, sub.Len())
	count, err := b.SubscriberCount(ctx, "unknown")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestBroker_twoSubscribersReceiveIndependently(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	s1 := fx.MustSubscribe(ctx, b, "A")
	s2 := fx.MustSubscribe(ctx, b, "A")
	require.NotEqual(t, s1.ID(), s2.ID())

	count, err := b.SubscriberCount(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	d := fx.MustPublish(ctx, b, "A", "hello")
	ebtest.IsSending(t, d.Done())
	require.Equal(t, 2, d.Targets())

	require.Equal(t, 1, s1.Len())
	require.Equal(t, 1, s2.Len())

	got, err := s1.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	// Consuming from s1 did not touch s2.
	require.Zero(t, s1.Len())
	require.Equal(t, 1, s2.Len())

	got, err = s2.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestBroker_deliveryWaitsForSlowestSubscriber(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	fx.Cfg.Capacity = 1
	b := fx.NewBroker(ctx)

	subs := []*eventbroker.Subscription[int]{
		fx.MustSubscribe(ctx, b, "t"),
		fx.MustSubscribe(ctx, b, "t"),
		fx.MustSubscribe(ctx, b, "t"),
	}

	// Fill every buffer.
	ebtest.IsSending(t, fx.MustPublish(ctx, b, "t", 0).Done())

	d := fx.MustPublish(ctx, b, "t", 1)
	require.Equal(t, 3, d.Pending())

	// Drain in an order different from registration order.
	for i, idx := range []int{1, 2, 0} {
		ebtest.NotSending(t, d.Done())

		got, err := subs[idx].Next(ctx)
		require.NoError(t, err)
		require.Zero(t, got)

		require.Equal(t, 2-i, d.Pending())
	}

	ebtest.IsSending(t, d.Done())
	require.NoError(t, d.Wait(ctx))
}

func TestDelivery_PendingSubscriptions_registrationOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	fx.Cfg.Capacity = 1
	b := fx.NewBroker(ctx)

	s0 := fx.MustSubscribe(ctx, b, "t")
	s1 := fx.MustSubscribe(ctx, b, "t")
	s2 := fx.MustSubscribe(ctx, b, "t")

	fx.MustPublish(ctx, b, "t", 0)
	d := fx.MustPublish(ctx, b, "t", 1)

	_, err := s1.Next(ctx)
	require.NoError(t, err)

	require.Equal(t, []uuid.UUID{s0.ID(), s2.ID()}, d.PendingSubscriptions())
}

func TestDelivery_Wait_contextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	fx.Cfg.Capacity = 1
	b := fx.NewBroker(ctx)

	_ = fx.MustSubscribe(ctx, b, "t")
	fx.MustPublish(ctx, b, "t", 0)
	d := fx.MustPublish(ctx, b, "t", 1)

	waitCtx, waitCancel := context.WithCancel(ctx)
	waitCancel()
	require.ErrorIs(t, d.Wait(waitCtx), context.Canceled)

	// The delivery is still pending, not abandoned.
	require.Equal(t, 1, d.Pending())
}

func TestBroker_defaultTopic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "")
	require.Equal(t, eventbroker.DefaultTopic, sub.Topic())

	d := fx.MustPublish(ctx, b, eventbroker.DefaultTopic, "explicit")
	require.Equal(t, eventbroker.DefaultTopic, d.Topic())
	fx.MustPublish(ctx, b, "", "implicit")

	for _, want := range []string{"explicit", "implicit"} {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestBroker_Topics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	b := fx.NewBroker(ctx)

	fx.MustSubscribe(ctx, b, "b")
	fx.MustSubscribe(ctx, b, "a")
	fx.MustSubscribe(ctx, b, "b")

	topics, err := b.Topics(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, topics)
}

func TestBroker_Registrations(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	b := fx.NewBroker(ctx)

	root := b.Registrations()
	ebtest.NotSending(t, root.Ready)

	s1 := fx.MustSubscribe(ctx, b, "x")
	s2 := fx.MustSubscribe(ctx, b, "y")
	s3 := fx.MustSubscribe(ctx, b, "x")

	regs, tail := root.Collect()
	require.Equal(t, []eventbroker.Registration{
		{Topic: "x", SubscriptionID: s1.ID(), NewTopic: true},
		{Topic: "y", SubscriptionID: s2.ID(), NewTopic: true},
		{Topic: "x", SubscriptionID: s3.ID(), NewTopic: false},
	}, regs)
	ebtest.NotSending(t, tail.Ready)
}

func TestBroker_stopped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)

	brokerCtx, brokerCancel := context.WithCancel(ctx)
	b := fx.NewBroker(brokerCtx)

	sub := fx.MustSubscribe(ctx, b, "t")
	fx.MustPublish(ctx, b, "t", "before")

	brokerCancel()
	b.Wait()

	_, err := b.Subscribe(ctx, "t")
	require.ErrorIs(t, err, context.Canceled)

	_, err = b.Publish(ctx, "t", "after")
	require.ErrorIs(t, err, context.Canceled)

	_, err = b.Topics(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Existing subscriptions still drain.
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "before", got)
}

func TestSubscription_Next_contextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "t")

	nextCtx, nextCancel := context.WithCancel(ctx)
	nextCancel()

	_, err := sub.Next(nextCtx)
	require.ErrorIs(t, err, context.Canceled)

	// The canceled call does not swallow a later message.
	fx.MustPublish(ctx, b, "t", "m")
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "m", got)
}

func TestSubscription_NextOp(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	a := fx.MustSubscribe(ctx, b, "a")
	z := fx.MustSubscribe(ctx, b, "z")

	opA := a.NextOp()
	opZ := z.NextOp()
	defer opA.Cancel()

	fx.MustPublish(ctx, b, "z", "zed")

	select {
	case <-opA.Done():
		t.Fatal("subscription a should not have received a message")
	case <-opZ.Done():
		require.Equal(t, "zed", opZ.Val())
	}
}

func TestBroker_fifoPerSubscriberWithConcurrentConsumers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	fx.Cfg.Capacity = 4
	b := fx.NewBroker(ctx)

	const nSubs = 3
	subs := make([]*eventbroker.Subscription[string], nSubs)
	for i := range subs {
		subs[i] = fx.MustSubscribe(ctx, b, "t")
	}

	msgs := ebtest.RandomMessagesForTest(t, 200, 16)

	received := make([][]string, nSubs)
	var wg sync.WaitGroup
	wg.Add(nSubs)
	for i, sub := range subs {
		go func() {
			defer wg.Done()
			for range msgs {
				v, err := sub.Next(ctx)
				if err != nil {
					return
				}
				received[i] = append(received[i], v)
			}
		}()
	}

	for _, m := range msgs {
		d := fx.MustPublish(ctx, b, "t", string(m))
		require.NoError(t, d.Wait(ctx))
	}

	wg.Wait()

	want := make([]string, len(msgs))
	for i, m := range msgs {
		want[i] = string(m)
	}
	for i := range subs {
		require.Equal(t, want, received[i], "subscription %d", i)
	}
}

func TestBroker_concurrentPublishersSeenInSameOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	b := fx.NewBroker(ctx)

	s1 := fx.MustSubscribe(ctx, b, "t")
	s2 := fx.MustSubscribe(ctx, b, "t")

	const (
		publishers   = 4
		perPublisher = 50
	)

	var wg sync.WaitGroup
	wg.Add(publishers)
	for p := range publishers {
		go func() {
			defer wg.Done()
			for i := range perPublisher {
				if _, err := b.Publish(ctx, "t", p*perPublisher+i); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	drain := func(s *eventbroker.Subscription[int]) []int {
		out := make([]int, 0, publishers*perPublisher)
		for range publishers * perPublisher {
			v, err := s.Next(ctx)
			require.NoError(t, err)
			out = append(out, v)
		}
		return out
	}

	got1 := drain(s1)
	got2 := drain(s2)
	require.Equal(t, got1, got2)
	require.Len(t, got1, publishers*perPublisher)
}

func TestBroker_Publish_tracing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	fx := eventbrokertest.NewFixture[int](t)
	fx.Cfg.Capacity = 1
	fx.Cfg.TracerProvider = tp
	b := fx.NewBroker(ctx)

	fx.MustSubscribe(ctx, b, "t")
	fx.MustSubscribe(ctx, b, "t")

	// First publish fits everywhere, second finds both buffers full.
	fx.MustPublish(ctx, b, "t", 1)
	fx.MustPublish(ctx, b, "t", 2)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	wantImmediate := []int64{2, 0}
	for i, span := range spans {
		require.Equal(t, "publish", span.Name())

		attrs := map[string]int64{}
		for _, kv := range span.Attributes() {
			if kv.Key == "eventbroker.topic" {
				require.Equal(t, "t", kv.Value.AsString())
				continue
			}
			attrs[string(kv.Key)] = kv.Value.AsInt64()
		}
		require.Equal(t, int64(2), attrs["eventbroker.publish.targets"])
		require.Equal(t, wantImmediate[i], attrs["eventbroker.publish.immediate"])
	}
}

func TestBroker_Subscribe_canceledContextRegistersNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	fx.Cfg.Capacity = 1
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "t")

	canceledCtx, canceledCancel := context.WithCancel(ctx)
	canceledCancel()

	for range 200 {
		s, err := b.Subscribe(canceledCtx, "t")
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, s)
	}

	count, err := b.SubscriberCount(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	regs, _ := b.Registrations().Collect()
	require.Len(t, regs, 1)

	// With no hidden subscriptions, draining the known one completes delivery.
	fx.MustPublish(ctx, b, "t", 1)
	d := fx.MustPublish(ctx, b, "t", 2)
	for _, want := range []int{1, 2} {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	ebtest.IsSending(t, d.Done())
}

func TestBroker_Publish_canceledContextDeliversNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[string](t)
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "t")

	canceledCtx, canceledCancel := context.WithCancel(ctx)
	canceledCancel()

	for range 200 {
		d, err := b.Publish(canceledCtx, "t", "dropped")
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, d)
	}

	require.Zero(t, sub.Len())
}

func TestBroker_deliveryCompletesWhenConsumerGoroutineDrains(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := eventbrokertest.NewFixture[int](t)
	fx.Cfg.Capacity = 1
	b := fx.NewBroker(ctx)

	sub := fx.MustSubscribe(ctx, b, "t")

	// The consumer reads one message per value sent on drain.
	drain := make(chan struct{})
	got := make(chan int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-drain:
			}

			v, err := sub.Next(ctx)
			if err != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case got <- v:
			}
		}
	}()
	defer func() {
		cancel()
		<-done
	}()

	ebtest.IsSending(t, fx.MustPublish(ctx, b, "t", 1).Done())
	d := fx.MustPublish(ctx, b, "t", 2)
	ebtest.NotSending(t, d.Done())

	ebtest.SendSoon(t, drain, struct{}{})
	require.Equal(t, 1, ebtest.ReceiveSoon(t, got))
	_ = ebtest.ReceiveSoon(t, d.Done())

	ebtest.SendSoon(t, drain, struct{}{})
	require.Equal(t, 2, ebtest.ReceiveSoon(t, got))
}
