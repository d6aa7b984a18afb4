package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kidcode-ai/kidcode/pkg/audit"
	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/config"
	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/provider"
	"github.com/kidcode-ai/kidcode/pkg/share"
	"github.com/kidcode-ai/kidcode/pkg/store"
)

// app holds the long-lived dependencies assembled from the config.
type app struct {
	cache   *cache.Cache
	engine  *provider.Engine
	shares  share.Store
	auditor *audit.Logger
	closers []func() error
}

func (a *app) recorder() coordinator.Recorder {
	if a.auditor == nil {
		return nil
	}
	return a.auditor
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// openCache opens the durable store and loads the response cache from it.
func openCache(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*cache.Cache, store.Store, error) {
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	c := cache.New(ctx, st,
		cache.WithMaxAge(cfg.Cache.MaxAge),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithLogger(log),
	)
	return c, st, nil
}

func openAuditor(cfg *config.Config, log logrus.FieldLogger) (*audit.Logger, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	l, err := audit.New(cfg.Audit, log)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, nil
}

// buildApp wires storage, cache, provider and optionally sharing and the
// generation log. A missing API key fails here.
func buildApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, withShares bool) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	c, st, err := openCache(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.cache = c
	a.closers = append(a.closers, st.Close)

	backend, err := provider.Select(cfg.Providers, nil, log)
	if err != nil {
		return nil, err
	}
	a.engine = provider.New(backend,
		provider.WithCache(c),
		provider.WithLimiter(provider.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)),
		provider.WithLogger(log),
	)

	if withShares {
		shares, err := share.Open(ctx, cfg.Share, nil)
		if err != nil {
			return nil, fmt.Errorf("open share store: %w", err)
		}
		a.shares = shares
		a.closers = append(a.closers, shares.Close)
	}

	auditor, err := openAuditor(cfg, log)
	if err != nil {
		return nil, err
	}
	if auditor != nil {
		a.auditor = auditor
		a.closers = append(a.closers, auditor.Close)
	}

	log.WithFields(logrus.Fields{
		"provider": backend.Name(),
		"storage":  cfg.Storage.Driver,
		"audit":    cfg.Audit.Enabled,
	}).Info("kidcode ready")
	ok = true
	return a, nil
}
