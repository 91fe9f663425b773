package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/schoolscope/extract-cli/internal/config"
	"github.com/schoolscope/extract-cli/internal/extract"
	"github.com/schoolscope/extract-cli/internal/resilience"
	"github.com/schoolscope/extract-cli/internal/store"
)

// env holds the initialized store, field registry, and breaker registry
// shared by the extract/dedupe/serve commands.
type env struct {
	Store    store.Store
	Fields   *extract.Registry
	Breakers *resilience.Registry
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, runs migrations, loads the field registry, and
// builds the breaker registry. Callers should defer env.Close().
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fields := extract.SchoolFields()
	if cfg.Extract.ProfilePath != "" {
		if err := extract.LoadProfile(cfg.Extract.ProfilePath, fields); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load field profile")
		}
	}

	return &env{
		Store:    st,
		Fields:   fields,
		Breakers: resilience.NewRegistry(breakerPresets()),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "schoolscope.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// breakerPresets merges config overrides onto the built-in breaker presets.
func breakerPresets() map[string]resilience.CircuitBreakerConfig {
	presets := resilience.Presets()
	overrides := map[string]*config.BreakerConfig{
		resilience.BreakerRecordStore: cfg.Resilience.RecordStore,
		resilience.BreakerDocumentIO:  cfg.Resilience.DocumentIO,
		resilience.BreakerExternal:    cfg.Resilience.External,
	}
	for name, o := range overrides {
		if o == nil {
			continue
		}
		presets[name] = resilience.FromBreakerConfig(
			o.FailureThreshold, o.RecoverySecs, o.SuccessThreshold,
			o.MaxRetries, o.TimeoutSecs, o.RetryDelayMs, o.MaxRetryDelayMs,
		)
	}
	return presets
}
