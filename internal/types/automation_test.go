package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "duration string", raw: `"5m"`, want: 5 * time.Minute},
		{name: "seconds string", raw: `"90s"`, want: 90 * time.Second},
		{name: "integer nanoseconds", raw: `60000000000`, want: time.Minute},
		{name: "garbage string", raw: `"soon"`, wantErr: true},
		{name: "object", raw: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.raw), &d)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Unmarshal() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal() error = %v, want nil", err)
			}
			if time.Duration(d) != tt.want {
				t.Errorf("duration = %v, want %v", time.Duration(d), tt.want)
			}
		})
	}
}

func TestActionSpec_JSONRoundTrip(t *testing.T) {
	spec := ActionSpec{
		ID:            "act-1",
		Kind:          ActionWait,
		Params:        WaitParams{Duration: Duration(10 * time.Minute)},
		Order:         2,
		StopOnFailure: true,
		RetryAttempts: 1,
	}

	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("Marshal() error = %v, want nil", err)
	}

	var got ActionSpec
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v, want nil", err)
	}
	params, ok := got.Params.(WaitParams)
	if !ok {
		t.Fatalf("Params type = %T, want WaitParams", got.Params)
	}
	if time.Duration(params.Duration) != 10*time.Minute {
		t.Errorf("Duration = %v, want 10m", time.Duration(params.Duration))
	}
	if got.Order != 2 || !got.StopOnFailure || got.RetryAttempts != 1 {
		t.Errorf("spec fields = %+v, want order 2, stopOnFailure, 1 retry", got)
	}
}

func TestAccrualRule_TierFor(t *testing.T) {
	rule := AccrualRule{Tiers: []TierThreshold{
		{Name: "BRONZE", MinPoints: 0},
		{Name: "SILVER", MinPoints: 500},
		{Name: "GOLD", MinPoints: 1000},
	}}

	tests := []struct {
		earned int64
		want   string
	}{
		{0, "BRONZE"},
		{499, "BRONZE"},
		{500, "SILVER"}, // thresholds are inclusive
		{999, "SILVER"},
		{1000, "GOLD"},
		{100000, "GOLD"},
	}
	for _, tt := range tests {
		if got := rule.TierFor(tt.earned); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.earned, got, tt.want)
		}
	}
}

func TestAccrualRule_MultiplierFor(t *testing.T) {
	rule := AccrualRule{Multipliers: map[string]float64{"GOLD": 1.5}}

	if got := rule.MultiplierFor("GOLD"); got != 1.5 {
		t.Errorf("MultiplierFor(GOLD) = %v, want 1.5", got)
	}
	if got := rule.MultiplierFor("BRONZE"); got != 1.0 {
		t.Errorf("MultiplierFor(BRONZE) = %v, want 1.0 default", got)
	}
}
