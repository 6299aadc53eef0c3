// Package config provides configuration management for the Engage engine.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/practicehq/engage/internal/types"
)

// Config holds the full engine configuration.
type Config struct {
	DB       DBConfig
	NATS     NATSConfig
	Platform PlatformConfig
	Engine   EngineConfig
	Loyalty  LoyaltyConfig
}

// DBConfig holds database connection settings.
type DBConfig struct {
	URL string
}

// NATSConfig holds the JetStream trigger consumer settings.
type NATSConfig struct {
	URLs          []string
	Stream        string
	Subject       string
	ConsumerName  string
	DeliverGroup  string
	AckWait       time.Duration
	NackDelay     time.Duration
	MaxDeliver    int
	MaxAckPending int
	MaxConcurrent int // bounded handler pool; delivery backpressures when full
}

// PlatformConfig holds the subjects for the rest of the practice platform:
// outbound delivery publishing and patient attribute request-reply.
type PlatformConfig struct {
	OutboundPrefix  string
	AttributePrefix string
	RequestTimeout  time.Duration
}

// EngineConfig holds automation engine settings.
type EngineConfig struct {
	ActionTimeout          time.Duration
	SegmentRefreshInterval time.Duration // cadence of the dynamic-segment refresh sweep
}

// LoyaltyConfig holds the organization's tier ladder and per-tier accrual
// multipliers, parsed from NAME:VALUE pair lists.
type LoyaltyConfig struct {
	Tiers       string // e.g. "BRONZE:0,SILVER:500,GOLD:1000"
	Multipliers string // e.g. "SILVER:1.25,GOLD:1.5"
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://127.0.0.1:4222"},
			Stream:        "ENGAGE_TRIGGERS",
			Subject:       "engage.triggers.>",
			ConsumerName:  "engage-engine",
			DeliverGroup:  "engage",
			AckWait:       30 * time.Second,
			NackDelay:     5 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: 256,
			MaxConcurrent: 16,
		},
		Platform: PlatformConfig{
			OutboundPrefix:  "engage.outbound",
			AttributePrefix: "engage.patients",
			RequestTimeout:  5 * time.Second,
		},
		Engine: EngineConfig{
			ActionTimeout:          30 * time.Second,
			SegmentRefreshInterval: time.Minute,
		},
		Loyalty: LoyaltyConfig{
			Tiers: "BRONZE:0",
		},
	}
}

// AccrualRule parses the loyalty configuration into the ledger's tier
// ladder, sorted ascending by threshold.
func (c LoyaltyConfig) AccrualRule() (types.AccrualRule, error) {
	rule := types.AccrualRule{Multipliers: make(map[string]float64)}

	for _, pair := range splitPairs(c.Tiers) {
		name, raw, err := splitPair(pair)
		if err != nil {
			return types.AccrualRule{}, fmt.Errorf("loyalty tiers: %w", err)
		}
		min, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || min < 0 {
			return types.AccrualRule{}, fmt.Errorf("loyalty tiers: %q is not a valid threshold", raw)
		}
		rule.Tiers = append(rule.Tiers, types.TierThreshold{Name: name, MinPoints: min})
	}
	if len(rule.Tiers) == 0 {
		return types.AccrualRule{}, fmt.Errorf("loyalty tiers: at least one tier is required")
	}
	sort.SliceStable(rule.Tiers, func(i, j int) bool {
		return rule.Tiers[i].MinPoints < rule.Tiers[j].MinPoints
	})
	if rule.Tiers[0].MinPoints != 0 {
		return types.AccrualRule{}, fmt.Errorf("loyalty tiers: base tier must start at 0, got %d", rule.Tiers[0].MinPoints)
	}

	for _, pair := range splitPairs(c.Multipliers) {
		name, raw, err := splitPair(pair)
		if err != nil {
			return types.AccrualRule{}, fmt.Errorf("loyalty multipliers: %w", err)
		}
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil || m <= 0 {
			return types.AccrualRule{}, fmt.Errorf("loyalty multipliers: %q is not a valid multiplier", raw)
		}
		rule.Multipliers[name] = m
	}
	return rule, nil
}

func splitPairs(s string) []string {
	var out []string
	for _, pair := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(pair); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitPair(pair string) (string, string, error) {
	parts := strings.SplitN(pair, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("%q is not a NAME:VALUE pair", pair)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}
