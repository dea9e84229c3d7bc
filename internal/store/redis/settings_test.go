package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptopulse/internal/model"
)

func TestSettingsStore_MemoryOnly(t *testing.T) {
	s := NewSettingsStore(nil, nil)
	ctx := context.Background()

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != model.DefaultSettings() {
		t.Errorf("initial = %+v, want defaults", got)
	}

	want := model.Settings{DefaultAnalysisMode: "ultra", EnableNotifications: false, DefaultPair: model.Pair{Symbol: "ETHUSDT", Interval: "4h"}}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetSettings(ctx); got != want {
		t.Errorf("after save = %+v, want %+v", got, want)
	}
}

func TestSettingsStore_WithDefaults(t *testing.T) {
	d := model.DefaultSettings()
	d.DefaultPair = model.Pair{Symbol: "SOLUSDT", Interval: "15m"}
	s := NewSettingsStore(nil, nil).WithDefaults(d)

	got, err := s.GetSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultPair != d.DefaultPair {
		t.Errorf("default pair = %v, want %v", got.DefaultPair, d.DefaultPair)
	}
}

func TestSettingsStore_FallsBackWhenRedisDown(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	cb := NewCircuitBreaker(2, time.Minute)
	s := NewSettingsStore(client, cb)
	ctx := context.Background()

	want := model.Settings{DefaultAnalysisMode: "ultra", EnableNotifications: true}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings should not surface redis errors: %v", err)
	}
	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want in-memory %+v", got, want)
	}
	if cb.CurrentState() != StateOpen {
		t.Errorf("breaker = %v, want open after two failures", cb.CurrentState())
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		st      model.Settings
		wantErr bool
	}{
		{"defaults", model.DefaultSettings(), false},
		{"ultra without pair", model.Settings{DefaultAnalysisMode: "ultra"}, false},
		{"bad mode", model.Settings{DefaultAnalysisMode: "pro"}, true},
		{"bad pair", model.Settings{DefaultAnalysisMode: "quick", DefaultPair: model.Pair{Symbol: "DOGEUSDT", Interval: "1h"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSettings(tt.st)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if err := NewSettingsStore(nil, nil).SaveSettings(context.Background(), model.Settings{DefaultAnalysisMode: "x"}); err == nil {
		t.Error("SaveSettings accepted invalid settings")
	}
}
