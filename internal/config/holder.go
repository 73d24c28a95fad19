package config

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/livearc/livearc/internal/log"
)

// Holder provides thread-safe access to the active configuration with atomic
// reloading: either the new config is valid and fully applied, or the old one
// stays in force.
type Holder struct {
	mu      sync.RWMutex
	current *Config
	path    string
	logger  zerolog.Logger

	listenerMu sync.Mutex
	listeners  []func(old, new *Config)
}

func NewHolder(initial *Config, path string) *Holder {
	return &Holder{
		current: initial,
		path:    path,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Path returns the config file path the holder reloads from.
func (h *Holder) Path() string { return h.path }

// OnChange registers a listener invoked after every successful reload.
func (h *Holder) OnChange(fn func(old, new *Config)) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload loads and validates the file and swaps it in. On failure the previous
// configuration is kept and the error returned.
func (h *Holder) Reload() error {
	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("keeping previous configuration")
		return fmt.Errorf("reload: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.listenerMu.Lock()
	listeners := append([](func(old, new *Config))(nil), h.listeners...)
	h.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(oldCfg, newCfg)
	}

	h.logger.Info().
		Str("event", "config.reload_success").
		Int("streamers", len(newCfg.Streamers)).
		Msg("configuration reloaded")
	return nil
}
