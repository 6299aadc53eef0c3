// Package platform is the NATS facade over the rest of the practice
// platform. The engine is one bounded context among several; messaging and
// patient data live elsewhere and are reached over the shared NATS fabric:
//
//   - outbound delivery publishes to JetStream subjects the messaging
//     service consumes (at-least-once, persisted before ack)
//   - patient attribute lookups are request-reply against the patient
//     domain service
package platform

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config describes the platform fabric endpoints.
type Config struct {
	URLs            []string
	OutboundPrefix  string // subject prefix for outbound delivery, e.g. "engage.outbound"
	AttributePrefix string // subject prefix for attribute lookups, e.g. "engage.patients"
	RequestTimeout  time.Duration
}

// Client implements outbound delivery and patient attribute lookups over
// one NATS connection. Satisfies automation.Delivery and
// segments.AttributeSource.
type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	logger *slog.Logger
}

// Connect dials the fabric and prepares the JetStream publisher.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	nc, err := nats.Connect(strings.Join(cfg.URLs, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	return &Client{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		logger: logger.With("component", "platform"),
	}, nil
}

// Close closes the fabric connection. Published messages are already
// persisted by the stream; nothing to drain.
func (c *Client) Close() {
	c.nc.Close()
}
