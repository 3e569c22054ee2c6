package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordian-engine/eventbroker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDemoCmd(cfg config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo [messages...]",
		Short: "Publish messages to a topic and print what each consumer receives",
		Long: `Starts a broker, subscribes the requested number of consumers to one topic,
publishes each message in order, and prints every message each consumer receives.

With no messages given, publishes "Active", "Down", "Active".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: lvl,
			}))

			msgs := args
			if len(msgs) == 0 {
				msgs = []string{"Active", "Down", "Active"}
			}

			return runDemo(cmd.Context(), cmd.OutOrStdout(), log, cfg, msgs)
		},
	}

	f := cmd.Flags()
	f.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "per-subscriber buffer capacity (0 for unbounded)")
	f.StringVar(&cfg.Topic, "topic", cfg.Topic, "topic to publish and subscribe on")
	f.IntVar(&cfg.Consumers, "consumers", cfg.Consumers, "number of consumers subscribed to the topic")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	return cmd
}

// runDemo publishes msgs to cfg.Topic and writes one line per message
// received by each consumer, in the form "<consumer index>: <message>".
// It returns once every consumer has received every message.
func runDemo(
	ctx context.Context,
	out io.Writer,
	log *slog.Logger,
	cfg config,
	msgs []string,
) error {
	if cfg.Consumers < 0 {
		return fmt.Errorf("consumers must not be negative (got %d)", cfg.Consumers)
	}

	ctx, cancel := context.WithCancel(ctx)
	b := eventbroker.NewBroker[string](ctx, log, eventbroker.BrokerConfig{
		Capacity: cfg.Capacity,
	})
	defer b.Wait()
	defer cancel()

	subs := make([]*eventbroker.Subscription[string], cfg.Consumers)
	for i := range subs {
		sub, err := b.Subscribe(ctx, cfg.Topic)
		if err != nil {
			return err
		}
		subs[i] = sub
	}

	var outMu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		g.Go(func() error {
			for range msgs {
				msg, err := sub.Next(gCtx)
				if err != nil {
					return err
				}

				outMu.Lock()
				_, err = fmt.Fprintf(out, "%d: %s\n", i, msg)
				outMu.Unlock()
				if err != nil {
					return fmt.Errorf("write consumer output: %w", err)
				}
			}
			return nil
		})
	}

	// Publishing under gCtx stops waiting on deliveries if a consumer fails.
	if err := publishAll(gCtx, log, b, cfg.Topic, msgs); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	return g.Wait()
}

func publishAll(
	ctx context.Context,
	log *slog.Logger,
	b *eventbroker.Broker[string],
	topic string,
	msgs []string,
) error {
	for _, msg := range msgs {
		d, err := b.Publish(ctx, topic, msg)
		if err != nil {
			return fmt.Errorf("publish %q: %w", msg, err)
		}

		if err := d.Wait(ctx); err != nil {
			return err
		}

		log.Debug("Delivered", "topic", topic, "msg", msg, "targets", d.Targets())
	}
	return nil
}
