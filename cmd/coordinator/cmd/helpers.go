package cmd

import (
	"context"
	"fmt"

	"github.com/renwick/coordinator/internal/config"
	"github.com/renwick/coordinator/internal/coord"
	"github.com/renwick/coordinator/internal/events"
	"github.com/renwick/coordinator/internal/persistence"
	"github.com/renwick/coordinator/internal/taskfile"
)

// runtime bundles everything a command needs to talk to the coordinator.
type runtime struct {
	cfg         *config.Config
	coordinator *coord.Coordinator
	bus         *events.Bus
	store       *persistence.SQLiteStore
}

// close releases the runtime's resources.
func (rt *runtime) close() {
	rt.bus.Close()
	rt.store.Close()
}

// buildRuntime loads configuration, opens the store, and restores
// coordination state.
func buildRuntime(ctx context.Context) (*runtime, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load("", configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}

	store, err := persistence.NewSQLiteStore(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	bus := events.NewBus()
	coordinator := coord.New(coord.Config{
		LockTTL:        cfg.LockTTL(),
		StaleThreshold: cfg.StaleThreshold(),
		SweepInterval:  cfg.SweepInterval(),
		Source:         taskfile.NewParser(),
		Oracle:         store,
		Store:          store,
		Bus:            bus,
	})
	if err := coordinator.Load(ctx); err != nil {
		bus.Close()
		store.Close()
		return nil, err
	}

	return &runtime{
		cfg:         cfg,
		coordinator: coordinator,
		bus:         bus,
		store:       store,
	}, nil
}
