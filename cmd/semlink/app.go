package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"semlink/internal/config"
	"semlink/internal/entity"
	"semlink/internal/jobqueue"
	"semlink/internal/kernel"
	"semlink/internal/orchestrator"
	"semlink/internal/search"
	"semlink/internal/store"
	"semlink/internal/vault"

	// Embedding providers register themselves.
	_ "semlink/internal/provider/genai"
	_ "semlink/internal/provider/mock"
	_ "semlink/internal/provider/ollama"
)

// app wires the collaborators for one CLI invocation.
type app struct {
	cfg     *config.Config
	db      *store.Store
	kern    *kernel.Store
	queue   *jobqueue.Queue
	sources *entity.Collection
	blocks  *entity.Collection
	vault   *vault.Vault
	orch    *orchestrator.Orchestrator
}

// newApp builds the app: config, persistence, collections restored from
// disk, vault, orchestrator with the configured model installed.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	db, err := store.New(dbPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		kern:    kernel.NewStore(),
		queue:   jobqueue.New(ctx),
		sources: entity.NewCollection(),
		blocks:  entity.NewCollection(),
	}

	loaded, err := db.LoadInto(ctx, a.sources, a.blocks)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("restored entities", zap.Int("count", loaded))

	root := cfg.Vault.Path
	if root == "" {
		root = workspace
	} else if !filepath.IsAbs(root) {
		root = filepath.Join(workspace, root)
	}
	a.vault = vault.New(root, a.sources, a.blocks, vault.Options{
		Extensions:  cfg.Vault.Extensions,
		ExcludeDirs: cfg.Vault.ExcludeDirs,
		MinChars:    cfg.Vault.MinChars,
	})

	a.orch = orchestrator.New(a.kern, a.queue, a.sources, a.blocks, orchestrator.Options{
		MinChars:     cfg.Vault.MinChars,
		BatchSize:    cfg.Pipeline.BatchSize,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		SaveInterval: cfg.Pipeline.SaveInterval,
		HaltOnError:  cfg.Pipeline.HaltOnError,
		Save: func(ctx context.Context) error {
			_, _, err := db.SaveSnapshot(ctx, a.sources, a.blocks)
			return err
		},
		Ingest: func(ctx context.Context) error {
			_, err := a.vault.Scan(ctx)
			return err
		},
	})
	a.orch.Boot()

	if _, err := a.orch.SwitchModel(cfg.Embedding).Wait(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("model switch failed: %w", err)
	}
	return a, nil
}

// scanAndRun ingests content and embeds whatever is stale.
func (a *app) scanAndRun(ctx context.Context, reason string) error {
	if _, err := a.vault.Scan(ctx); err != nil {
		return err
	}
	if _, err := a.orch.RunEmbed(reason).Wait(ctx); err != nil {
		return err
	}
	return nil
}

func (a *app) connectionOptions() search.ConnectionOptions {
	return search.ConnectionOptions{
		Limit:             a.cfg.ConnectionLimit(),
		MinScore:          a.cfg.Search.MinScore,
		ExcludeSameSource: !a.cfg.Search.IncludeSameSource,
	}
}

func (a *app) close(ctx context.Context) {
	a.queue.Clear("shutdown")
	if _, _, err := a.db.SaveSnapshot(ctx, a.sources, a.blocks); err != nil {
		logger.Warn("final checkpoint failed", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}
