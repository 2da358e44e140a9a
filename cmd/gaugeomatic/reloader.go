package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/kana-shii/GaugeOMatic/internal/config"
	"github.com/kana-shii/GaugeOMatic/internal/engine"
	"github.com/kana-shii/GaugeOMatic/internal/util"
)

type configReloader struct {
	store  *config.FileStore
	logger *util.Logger
	engine *engine.Engine

	mu             sync.Mutex
	lastSerialized []byte
}

func newConfigReloader(store *config.FileStore, logger *util.Logger, eng *engine.Engine, serialized []byte) *configReloader {
	return &configReloader{
		store:          store,
		logger:         logger,
		engine:         eng,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

// Reload re-reads the config file and hands a valid document to the engine.
// Writes made by the store itself are ignored.
func (r *configReloader) Reload(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := os.ReadFile(r.store.Path())
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if r.store.WroteLast(raw) {
		r.logger.Debugf("%s: ignoring our own write", reason)
		r.lastSerialized = append([]byte(nil), raw...)
		return nil
	}
	r.logger.Infof("%s, reloading config", reason)
	cfg, err := config.Parse(raw)
	if err != nil {
		r.logDiff(raw)
		return err
	}
	if lintErrs := cfg.Lint(); len(lintErrs) > 0 {
		r.logLintErrors(lintErrs)
		r.logDiff(raw)
		return lintErrs[0]
	}

	if cfg.LogLevel != "" {
		r.logger.SetLevel(util.ParseLogLevel(cfg.LogLevel))
	}
	var previous *config.Configuration
	err = r.engine.Do(ctx, func() {
		previous = r.engine.Config()
		r.engine.Reload(ctx, cfg)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrNotRunning) {
			return nil
		}
		return fmt.Errorf("apply reload: %w", err)
	}
	if diff := config.DiffTrackers(previous, cfg); diff != "" {
		r.logger.Debugf("tracker changes:\n%s", diff)
	}
	r.lastSerialized = append([]byte(nil), raw...)
	return nil
}

func (r *configReloader) logDiff(current []byte) {
	diff := config.DiffSerialized(r.lastSerialized, current)
	if diff == "" {
		r.logger.Warnf("config change rejected; unable to compute diff vs last valid config")
		return
	}
	r.logger.Warnf("config change rejected; diff vs last valid config:\n%s", diff)
}

func (r *configReloader) logLintErrors(errs []config.LintError) {
	r.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		if lintErr.Path != "" {
			r.logger.Warnf(" - %s: %s", lintErr.Path, lintErr.Message)
			continue
		}
		r.logger.Warnf(" - %s", lintErr.Message)
	}
}
