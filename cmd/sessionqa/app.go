package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiercare/sessionqa/internal/batch"
	"github.com/tiercare/sessionqa/internal/cache"
	"github.com/tiercare/sessionqa/internal/config"
	"github.com/tiercare/sessionqa/internal/engine"
	"github.com/tiercare/sessionqa/internal/report"
	"github.com/tiercare/sessionqa/internal/store"
)

// app wires the configured collaborators for one command invocation.
type app struct {
	cfg         *config.Config
	store       *store.Store
	cache       *cache.Cache
	processor   *batch.Processor
	coordinator *batch.Coordinator
	reports     *report.Builder
}

// newApp loads configuration (file, environment, --set overrides) and
// opens the store and cache. Call close when done.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}

	sets, err := cmd.Flags().GetStringArray("set")
	if err != nil {
		return nil, err
	}
	overrides, err := parseOverrides(sets)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	analyzer, err := engine.New(engine.Options{
		APIKey:      cfg.APIKey,
		Mock:        cfg.Mock(),
		Model:       cfg.Engine.Model,
		MaxAttempts: cfg.Engine.MaxAttempts,
		BaseDelay:   cfg.BaseDelay(),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	c := cache.New(cfg.RedisURL)
	processor := batch.NewProcessor(st, c, analyzer, cfg.Thresholds)
	coordinator := batch.NewCoordinator(st, c, processor, batch.CoordinatorOptions{
		MaxSize:         cfg.Batch.MaxSize,
		ChunkWidth:      cfg.Batch.ChunkWidth,
		InterChunkDelay: cfg.InterChunkDelay(),
	})

	return &app{
		cfg:         cfg,
		store:       st,
		cache:       c,
		processor:   processor,
		coordinator: coordinator,
		reports:     report.NewBuilder(st, cfg.Thresholds),
	}, nil
}

func (a *app) close() {
	_ = a.cache.Close()
	_ = a.store.Close()
}

func parseOverrides(sets []string) (map[string]string, error) {
	overrides := make(map[string]string, len(sets))
	for _, set := range sets {
		key, value, ok := strings.Cut(set, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected dotted.key=value", set)
		}
		overrides[key] = value
	}
	return overrides, nil
}
