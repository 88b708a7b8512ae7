package main

import (
	"context"
	"fmt"
	"os"

	"github.com/relist-ops/relist/internal/config"
	"github.com/relist-ops/relist/internal/history"
	"github.com/relist-ops/relist/internal/inbox"
	"github.com/relist-ops/relist/internal/pipeline"
)

func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no config at %s; run 'relist init' first", path)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*history.Store, error) {
	var backend history.Backend
	switch cfg.State.Backend {
	case "sqlite":
		b, err := history.NewSQLiteBackend(history.DefaultDBPath(cfg.State.Dir))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize state: %w", err)
		}
		backend = b
	case "memory":
		backend = history.NewMemoryBackend()
	default:
		backend = history.NewFileBackend(cfg.State.Dir)
	}

	store, err := history.Open(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

// openSource connects to the configured mailbox. The returned func closes
// the connection and is safe to call when nothing needs closing.
func openSource(ctx context.Context, cfg *config.Config) (pipeline.Source, func(), error) {
	if cfg.Inbox.Provider == "maildir" {
		return inbox.NewMaildirSource(cfg.Inbox.Maildir), func() {}, nil
	}

	src := inbox.NewIMAPSource(cfg.Inbox)
	if err := src.Connect(ctx); err != nil {
		return nil, nil, &pipeline.UnavailableError{
			Resource: fmt.Sprintf("imap server %s:%d", cfg.Inbox.Server, cfg.Inbox.Port),
			Err:      err,
		}
	}
	return src, func() { src.Close() }, nil
}

func pipelineOptions(cfg *config.Config, batchSize int) pipeline.Options {
	return pipeline.Options{
		Folder:          cfg.Inbox.Folder,
		ProcessedFolder: cfg.Inbox.ProcessedFolder,
		BatchSize:       batchSize,
		MarkRead:        cfg.Inbox.ShouldMarkRead(),
	}
}
