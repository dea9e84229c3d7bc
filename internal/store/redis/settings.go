package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"cryptopulse/internal/model"
)

const settingsKey = "settings:user"

// SettingsStore implements model.SettingsStore on a Redis key, with an
// in-memory copy that answers whenever Redis cannot.
type SettingsStore struct {
	client *goredis.Client
	cb     *CircuitBreaker

	defaults model.Settings

	mu     sync.RWMutex
	memory model.Settings
}

// NewSettingsStore creates a store. client may be nil for memory only.
func NewSettingsStore(client *goredis.Client, cb *CircuitBreaker) *SettingsStore {
	d := model.DefaultSettings()
	return &SettingsStore{client: client, cb: cb, defaults: d, memory: d}
}

// WithDefaults replaces the settings served before anything is saved, and
// the base that partially stored settings are merged onto.
func (s *SettingsStore) WithDefaults(d model.Settings) *SettingsStore {
	s.mu.Lock()
	s.defaults = d
	s.memory = d
	s.mu.Unlock()
	return s
}

// GetSettings returns the saved settings, or the in-memory copy when Redis
// is unavailable or holds nothing.
func (s *SettingsStore) GetSettings(ctx context.Context) (model.Settings, error) {
	if s.client == nil {
		return s.cached(), nil
	}

	var raw string
	err := s.cb.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		v, err := s.client.Get(ctx, settingsKey).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = v
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrCircuitOpen) {
			log.Printf("[settings] redis read failed, using memory: %v", err)
		}
		return s.cached(), nil
	}
	if raw == "" {
		return s.cached(), nil
	}

	s.mu.RLock()
	st := s.defaults
	s.mu.RUnlock()
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		log.Printf("[settings] ignoring malformed stored settings: %v", err)
		return s.cached(), nil
	}
	s.mu.Lock()
	s.memory = st
	s.mu.Unlock()
	return st, nil
}

// SaveSettings validates st, keeps it in memory, and persists it when Redis
// is reachable. A Redis failure is logged, not returned.
func (s *SettingsStore) SaveSettings(ctx context.Context, st model.Settings) error {
	if err := ValidateSettings(st); err != nil {
		return err
	}
	s.mu.Lock()
	s.memory = st
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	err = s.cb.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return s.client.Set(ctx, settingsKey, data, 0).Err()
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		log.Printf("[settings] redis write failed, kept in memory: %v", err)
	}
	return nil
}

func (s *SettingsStore) cached() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memory
}

// ValidateSettings checks the analysis mode and default pair.
func ValidateSettings(st model.Settings) error {
	switch st.DefaultAnalysisMode {
	case "quick", "ultra":
	default:
		return fmt.Errorf("settings: defaultAnalysisMode must be quick or ultra, got %q", st.DefaultAnalysisMode)
	}
	if !st.DefaultPair.IsZero() {
		if err := st.DefaultPair.Validate(); err != nil {
			return fmt.Errorf("settings: defaultPair: %w", err)
		}
	}
	return nil
}
