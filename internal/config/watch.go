package config

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/streamctl/internal/errors"
	"codeberg.org/mutker/streamctl/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration file whenever it changes and passes every
// valid result to callback. Invalid files are logged and ignored. Watch
// blocks until ctx is done.
func (c *Config) Watch(ctx context.Context, log logger.Logger, callback func(*Config)) error {
	if c.FileUsed() == "" {
		return errors.New().New(ErrNoConfigFile)
	}

	var stopped atomic.Bool
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if stopped.Load() {
			return
		}
		next, err := c.reload()
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}
		log.Info().Str("file", e.Name).Msg("Configuration reloaded")
		callback(next)
	})
	c.v.WatchConfig()

	<-ctx.Done()
	stopped.Store(true)
	return nil
}

func (c *Config) reload() (*Config, error) {
	next := &Config{v: c.v}
	if err := c.v.Unmarshal(next); err != nil {
		return nil, errors.New().Wrap(ErrDecode, err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}
