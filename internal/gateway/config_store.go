package gateway

import (
	"context"
	"log"

	"cryptopulse/internal/model"
)

// ConfigStore fronts the settings store and broadcasts every saved change
// to connected clients.
type ConfigStore struct {
	hub   *Hub
	store model.SettingsStore
}

// NewConfigStore creates a ConfigStore backed by store.
func NewConfigStore(hub *Hub, store model.SettingsStore) *ConfigStore {
	return &ConfigStore{hub: hub, store: store}
}

// Get returns the current settings.
func (cs *ConfigStore) Get(ctx context.Context) (model.Settings, error) {
	return cs.store.GetSettings(ctx)
}

// Set saves s and broadcasts it. Validation errors are returned as is.
func (cs *ConfigStore) Set(ctx context.Context, s model.Settings) error {
	if err := cs.store.SaveSettings(ctx, s); err != nil {
		return err
	}
	log.Printf("[gateway] settings updated: mode=%s notifications=%t pair=%s",
		s.DefaultAnalysisMode, s.EnableNotifications, s.DefaultPair.Key())
	cs.hub.BroadcastSettings(s)
	return nil
}
