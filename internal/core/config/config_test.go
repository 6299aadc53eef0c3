package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}
	if cfg.NATS.Stream != "ENGAGE_TRIGGERS" {
		t.Errorf("NATS.Stream = %q, want ENGAGE_TRIGGERS", cfg.NATS.Stream)
	}
	if cfg.NATS.AckWait != 30*time.Second {
		t.Errorf("NATS.AckWait = %v, want 30s", cfg.NATS.AckWait)
	}
	if cfg.Engine.ActionTimeout != 30*time.Second {
		t.Errorf("Engine.ActionTimeout = %v, want 30s", cfg.Engine.ActionTimeout)
	}
	if cfg.Platform.OutboundPrefix != "engage.outbound" {
		t.Errorf("Platform.OutboundPrefix = %q, want engage.outbound", cfg.Platform.OutboundPrefix)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENGAGE_DB_URL", "sqlite://./engage.db")
	t.Setenv("ENGAGE_NATS_STREAM", "CUSTOM_STREAM")
	t.Setenv("ENGAGE_ENGINE_ACTION_TIMEOUT", "10s")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}
	if cfg.DB.URL != "sqlite://./engage.db" {
		t.Errorf("DB.URL = %q, want sqlite://./engage.db", cfg.DB.URL)
	}
	if cfg.NATS.Stream != "CUSTOM_STREAM" {
		t.Errorf("NATS.Stream = %q, want CUSTOM_STREAM", cfg.NATS.Stream)
	}
	if cfg.Engine.ActionTimeout != 10*time.Second {
		t.Errorf("Engine.ActionTimeout = %v, want 10s", cfg.Engine.ActionTimeout)
	}
}

func TestLoyaltyConfig_AccrualRule(t *testing.T) {
	tests := []struct {
		name        string
		tiers       string
		multipliers string
		wantErr     bool
		wantTiers   int
	}{
		{
			name:        "full ladder",
			tiers:       "GOLD:1000,BRONZE:0,SILVER:500",
			multipliers: "SILVER:1.25,GOLD:1.5",
			wantTiers:   3,
		},
		{
			name:      "single base tier",
			tiers:     "BRONZE:0",
			wantTiers: 1,
		},
		{
			name:    "missing base tier",
			tiers:   "SILVER:500",
			wantErr: true,
		},
		{
			name:    "malformed pair",
			tiers:   "BRONZE",
			wantErr: true,
		},
		{
			name:    "negative threshold",
			tiers:   "BRONZE:-5",
			wantErr: true,
		},
		{
			name:    "empty",
			tiers:   "",
			wantErr: true,
		},
		{
			name:        "zero multiplier rejected",
			tiers:       "BRONZE:0",
			multipliers: "BRONZE:0",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoyaltyConfig{Tiers: tt.tiers, Multipliers: tt.multipliers}
			rule, err := cfg.AccrualRule()
			if tt.wantErr {
				if err == nil {
					t.Fatal("AccrualRule() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("AccrualRule() error = %v, want nil", err)
			}
			if len(rule.Tiers) != tt.wantTiers {
				t.Errorf("tiers = %d, want %d", len(rule.Tiers), tt.wantTiers)
			}
			// Ladder must come out ascending regardless of input order.
			for i := 1; i < len(rule.Tiers); i++ {
				if rule.Tiers[i].MinPoints < rule.Tiers[i-1].MinPoints {
					t.Errorf("tiers not ascending: %v", rule.Tiers)
				}
			}
		})
	}
}
