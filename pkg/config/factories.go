package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/cairnfs/cairnfs/pkg/cache"
	badgerdelegate "github.com/cairnfs/cairnfs/pkg/delegate/badger"
	"github.com/cairnfs/cairnfs/pkg/delegate/memory"
	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// BuildDelegate constructs the configured storage delegate.
//
// Returns the delegate's export surface and a close function releasing its
// resources (a no-op for delegates without persistent state).
func BuildDelegate(ctx context.Context, cfg *DelegateConfig) (fsal.Export, func() error, error) {
	switch cfg.Type {
	case "memory":
		var opts memory.Options
		if err := mapstructure.Decode(cfg.Memory, &opts); err != nil {
			return nil, nil, fmt.Errorf("invalid memory delegate options: %w", err)
		}
		store := memory.New(opts)
		return memory.NewExport(store), func() error { return nil }, nil

	case "badger":
		var bcfg badgerdelegate.Config
		if err := mapstructure.Decode(cfg.Badger, &bcfg); err != nil {
			return nil, nil, fmt.Errorf("invalid badger delegate options: %w", err)
		}
		store, err := badgerdelegate.Open(ctx, bcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger delegate: %w", err)
		}
		return badgerdelegate.NewExport(store), store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown delegate type: %s", cfg.Type)
	}
}

// BuildExports wires the configured exports over a delegate, sharing one
// process-wide open-file budget.
func BuildExports(cfg *Config, delegate fsal.Export) (*cache.OpenBudget, []*cache.Export) {
	limit := cfg.Cache.OpenFileLimit
	if limit < 0 {
		// -1 in configuration means unlimited
		limit = 0
	}
	budget := cache.NewOpenBudget(limit)

	exports := make([]*cache.Export, 0, len(cfg.Exports))
	for _, e := range cfg.Exports {
		exports = append(exports, cache.NewExport(
			e.ID, e.Path, delegate,
			cache.ExportOptions{StableWrites: e.StableWrites},
			budget,
		))
	}
	return budget, exports
}
