package cli

import (
	"fmt"

	"github.com/scopekv/scopekv/internal/backend"
	"github.com/scopekv/scopekv/internal/backend/memory"
	"github.com/scopekv/scopekv/internal/backend/postgres"
	"github.com/scopekv/scopekv/internal/backend/sqlite"
	"github.com/scopekv/scopekv/internal/config"
	"github.com/scopekv/scopekv/internal/scopedkv"
)

// loadConfig resolves the effective configuration: the file named by
// --config, or the built-in default when the flag is unset.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default(), nil
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// openCollection opens the engine the configuration selects. Failures are
// command errors: without the engine's constraints nothing can be assumed.
func openCollection(cfg config.Config) (backend.Collection, error) {
	switch cfg.Engine {
	case config.EngineSQLite:
		coll, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open sqlite engine", err)
		}
		return coll, nil
	case config.EnginePostgres:
		coll, err := postgres.Open(cfg.Postgres.DSN)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open postgres engine", err)
		}
		return coll, nil
	case config.EngineMemory:
		return memory.Open(), nil
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown engine %q", cfg.Engine))
	}
}

// openStore opens the configured engine and binds a store to the scope named
// by --context. The caller must Close the returned collection.
func openStore(opts *RootOptions) (*scopedkv.Store, backend.Collection, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	coll, err := openCollection(cfg)
	if err != nil {
		return nil, nil, err
	}

	return scopedkv.New(coll, scopedkv.Owned(opts.Context)), coll, nil
}
