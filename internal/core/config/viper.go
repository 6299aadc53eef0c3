package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
// Environment variables use the ENGAGE_ prefix with underscores, e.g.
// ENGAGE_DB_URL, ENGAGE_NATS_STREAM.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	defaults := DefaultConfig()

	v.SetDefault("db.url", "")
	v.SetDefault("nats.urls", defaults.NATS.URLs)
	v.SetDefault("nats.stream", defaults.NATS.Stream)
	v.SetDefault("nats.subject", defaults.NATS.Subject)
	v.SetDefault("nats.consumer_name", defaults.NATS.ConsumerName)
	v.SetDefault("nats.deliver_group", defaults.NATS.DeliverGroup)
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.nack_delay", "5s")
	v.SetDefault("nats.max_deliver", defaults.NATS.MaxDeliver)
	v.SetDefault("nats.max_ack_pending", defaults.NATS.MaxAckPending)
	v.SetDefault("nats.max_concurrent", defaults.NATS.MaxConcurrent)
	v.SetDefault("platform.outbound_prefix", defaults.Platform.OutboundPrefix)
	v.SetDefault("platform.attribute_prefix", defaults.Platform.AttributePrefix)
	v.SetDefault("platform.request_timeout", "5s")
	v.SetDefault("engine.action_timeout", "30s")
	v.SetDefault("engine.segment_refresh_interval", "1m")
	v.SetDefault("loyalty.tiers", defaults.Loyalty.Tiers)
	v.SetDefault("loyalty.multipliers", "")

	v.SetEnvPrefix("ENGAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DB: DBConfig{URL: v.GetString("db.url")},
		NATS: NATSConfig{
			URLs:          v.GetStringSlice("nats.urls"),
			Stream:        v.GetString("nats.stream"),
			Subject:       v.GetString("nats.subject"),
			ConsumerName:  v.GetString("nats.consumer_name"),
			DeliverGroup:  v.GetString("nats.deliver_group"),
			AckWait:       v.GetDuration("nats.ack_wait"),
			NackDelay:     v.GetDuration("nats.nack_delay"),
			MaxDeliver:    v.GetInt("nats.max_deliver"),
			MaxAckPending: v.GetInt("nats.max_ack_pending"),
			MaxConcurrent: v.GetInt("nats.max_concurrent"),
		},
		Platform: PlatformConfig{
			OutboundPrefix:  v.GetString("platform.outbound_prefix"),
			AttributePrefix: v.GetString("platform.attribute_prefix"),
			RequestTimeout:  v.GetDuration("platform.request_timeout"),
		},
		Engine: EngineConfig{
			ActionTimeout:          v.GetDuration("engine.action_timeout"),
			SegmentRefreshInterval: v.GetDuration("engine.segment_refresh_interval"),
		},
		Loyalty: LoyaltyConfig{
			Tiers:       v.GetString("loyalty.tiers"),
			Multipliers: v.GetString("loyalty.multipliers"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig checks required fields and positive durations.
func validateConfig(cfg *Config) error {
	if len(cfg.NATS.URLs) == 0 {
		return fmt.Errorf("nats.urls must not be empty")
	}
	if cfg.NATS.Stream == "" || cfg.NATS.Subject == "" {
		return fmt.Errorf("nats.stream and nats.subject are required")
	}
	if cfg.NATS.AckWait <= 0 {
		return fmt.Errorf("nats.ack_wait must be positive, got %v", cfg.NATS.AckWait)
	}
	if cfg.NATS.MaxDeliver <= 0 {
		return fmt.Errorf("nats.max_deliver must be positive, got %d", cfg.NATS.MaxDeliver)
	}
	if cfg.NATS.MaxConcurrent <= 0 {
		return fmt.Errorf("nats.max_concurrent must be positive, got %d", cfg.NATS.MaxConcurrent)
	}
	if cfg.Platform.OutboundPrefix == "" || cfg.Platform.AttributePrefix == "" {
		return fmt.Errorf("platform.outbound_prefix and platform.attribute_prefix are required")
	}
	if cfg.Platform.RequestTimeout <= 0 {
		return fmt.Errorf("platform.request_timeout must be positive, got %v", cfg.Platform.RequestTimeout)
	}
	if cfg.Engine.ActionTimeout <= 0 {
		return fmt.Errorf("engine.action_timeout must be positive, got %v", cfg.Engine.ActionTimeout)
	}
	if cfg.Engine.SegmentRefreshInterval <= 0 {
		return fmt.Errorf("engine.segment_refresh_interval must be positive, got %v", cfg.Engine.SegmentRefreshInterval)
	}
	if _, err := cfg.Loyalty.AccrualRule(); err != nil {
		return err
	}
	return nil
}
