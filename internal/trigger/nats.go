// Package trigger consumes trigger events from NATS JetStream and feeds
// them to the automation engine.
//
// Delivery is at least once: malformed payloads are acked and dropped
// (redelivery cannot fix them), infrastructure failures are nacked for
// redelivery, and the engine's (rule, event, patient) dedup makes the
// redeliveries harmless.
//
// Each message is handled on its own goroutine from a bounded pool, so one
// execution sleeping in a WAIT action or a retry backoff never stalls
// unrelated trigger events. The message is acked or nacked only after its
// handler returns; MaxAckPending bounds redelivery exposure.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/practicehq/engage/internal/types"
)

// Handler processes one decoded trigger event. Satisfied by
// *automation.Engine.
type Handler interface {
	HandleTrigger(ctx context.Context, event types.TriggerEvent) error
}

// Config describes the JetStream consumer.
type Config struct {
	URLs          []string
	Stream        string
	Subject       string
	ConsumerName  string
	DeliverGroup  string
	AckWait       time.Duration
	NackDelay     time.Duration
	MaxDeliver    int
	MaxAckPending int
	// MaxConcurrent bounds in-flight handlers. When the pool is exhausted
	// the subscription callback blocks, which backpressures delivery.
	MaxConcurrent int
}

// Subscriber is a durable JetStream queue consumer for trigger events.
type Subscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger

	slots    chan struct{}
	handlers sync.WaitGroup
}

// NewSubscriber connects and starts consuming. Processing stops when ctx is
// cancelled or Close is called; queue-group delivery lets multiple engine
// instances share the stream.
func NewSubscriber(ctx context.Context, cfg Config, handler Handler, logger *slog.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(strings.Join(cfg.URLs, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	subscriber := &Subscriber{
		nc:     nc,
		logger: logger.With("component", "trigger"),
		slots:  make(chan struct{}, maxConcurrent),
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
		subscriber.dispatch(ctx, message, handler, cfg.NackDelay)
	}, subOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub

	subscriber.logger.Info("trigger consumer started",
		"stream", cfg.Stream, "subject", cfg.Subject, "consumer", cfg.ConsumerName)
	return subscriber, nil
}

// dispatch hands the message to a pooled handler goroutine. The
// subscription delivers callbacks serially; handing off immediately keeps a
// slow execution (WAIT, retry backoff, execution delay) from stalling the
// events behind it.
func (s *Subscriber) dispatch(ctx context.Context, message *nats.Msg, handler Handler, nackDelay time.Duration) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return // shutting down; unacked message redelivers
	}
	s.handlers.Add(1)
	go func() {
		defer func() {
			<-s.slots
			s.handlers.Done()
		}()
		s.handle(ctx, message, handler, nackDelay)
	}()
}

func (s *Subscriber) handle(ctx context.Context, message *nats.Msg, handler Handler, nackDelay time.Duration) {
	event, err := types.DecodeTriggerEvent(message.Data)
	if err != nil {
		// Redelivering a malformed payload yields the same failure; drop it.
		s.logger.Warn("dropping malformed trigger event",
			"subject", message.Subject, "error", err)
		s.ack(message, "malformed")
		return
	}

	if err := handler.HandleTrigger(ctx, event); err != nil {
		s.logger.Error("trigger handling failed, requesting redelivery",
			"event_id", event.ID, "type", event.Type, "error", err)
		s.nack(message, nackDelay)
		return
	}
	s.ack(message, "processed")
}

func (s *Subscriber) ack(message *nats.Msg, reason string) {
	if err := message.Ack(); err != nil {
		s.logger.Warn("trigger ack failed",
			"subject", message.Subject, "reason", reason, "error", err)
	}
}

func (s *Subscriber) nack(message *nats.Msg, delay time.Duration) {
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("trigger nack failed", "subject", message.Subject, "error", err)
	}
}

// Close drains the subscription, waits for in-flight handlers to finish,
// and closes the connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.handlers.Wait()
			s.nc.Close()
			return err
		}
	}
	s.handlers.Wait()
	s.nc.Close()
	return nil
}
