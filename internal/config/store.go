package config

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultReloadInterval = 30 * time.Second

// Store publishes an immutable Config snapshot behind an atomic pointer. Readers call Snapshot
// and operate on the returned value without further synchronization; an in-flight reload never
// tears a reader's view.
type Store struct {
	path    string
	current atomic.Pointer[Config]
	logger  *logrus.Logger
}

// NewStore loads the initial configuration from path and returns a Store. If
// CONFIG_HOT_RELOAD is truthy, call Watch to start the background reload loop.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

// Snapshot returns the currently published configuration.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// HotReloadEnabled reports whether CONFIG_HOT_RELOAD is set to a truthy value.
func HotReloadEnabled() bool {
	v := os.Getenv("CONFIG_HOT_RELOAD")
	return v == "true" || v == "1"
}

func reloadInterval() time.Duration {
	if v := os.Getenv("CONFIG_RELOAD_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultReloadInterval
}

// Watch runs the reload loop until ctx is canceled. A parse or validation failure is logged and
// leaves the previous snapshot untouched.
func (s *Store) Watch(ctx context.Context) {
	interval := reloadInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithField("interval", interval).Info("config hot-reload enabled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg, err := Load(s.path)
			if err != nil {
				s.logger.WithError(err).Warn("config reload failed, keeping previous snapshot")
				continue
			}
			s.current.Store(cfg)
			s.logger.Debug("config snapshot reloaded")
		}
	}
}
