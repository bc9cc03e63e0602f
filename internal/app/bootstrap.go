package app

import (
	"context"
	"fmt"

	"roombot/internal/config"
	"roombot/internal/dedup"
	"roombot/internal/storage"
	logx "roombot/pkg/logx"
)

// LoadConfig reads and validates the file at path without starting anything.
func LoadConfig(path string) (*config.Manager, *config.Config, error) {
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfgm, cfg, nil
}

// OpenStore opens the job document described by cfg and takes ownership of
// it. It fails with storage.ErrLocked while a running bot owns the document.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (*storage.ConfigStore, error) {
	return openStore(ctx, mapStorageConfig(cfg), log)
}

// OpenStoreReadOnly opens the job document without taking ownership, so it
// works next to a running bot.
func OpenStoreReadOnly(ctx context.Context, cfg *config.Config, log logx.Logger) (*storage.ConfigStore, error) {
	sc := mapStorageConfig(cfg)
	sc.ReadOnly = true
	return openStore(ctx, sc, log)
}

func openStore(ctx context.Context, sc storage.Config, log logx.Logger) (*storage.ConfigStore, error) {
	st, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage (%s %s): %w", sc.Driver, sc.Path, err)
	}
	return st, nil
}

func newDeduplicator(cfg *config.Config) (dedup.Deduplicator, error) {
	return dedup.New(cfg.Dedup.Policy, cfg.Dedup.Capacity)
}
