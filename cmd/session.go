package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weavrhq/weavr/internal/config"
	"github.com/weavrhq/weavr/internal/graphsync"
	"github.com/weavrhq/weavr/internal/observability"
	"github.com/weavrhq/weavr/internal/store"
	"github.com/weavrhq/weavr/internal/transfer"
)

// modelSession is an open store client plus a running engine over one model.
type modelSession struct {
	Client store.Client
	Engine *graphsync.Engine
	log    *zap.Logger
}

// openModelSession connects to the configured store backend and opens the
// synchronization engine on the selected model.
func openModelSession(ctx context.Context, opts *rootOptions) (*modelSession, error) {
	log := observability.GetLogger()

	client, err := openStore(ctx, opts.cfg, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	engine, err := graphsync.Open(ctx, client, opts.modelID, opts.cfg, log)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening model %q: %w", opts.modelID, err)
	}

	return &modelSession{Client: client, Engine: engine, log: log}, nil
}

// Close shuts the engine down before releasing the store connection.
func (s *modelSession) Close() {
	s.Engine.Close()
	if err := s.Client.Close(); err != nil {
		s.log.Warn("store close failed", zap.Error(err))
	}
}

// openStore builds the store client the configuration selects.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Client, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn("memory backend keeps nothing between runs")
		return store.NewMemory(), nil
	case config.BackendBadger:
		return store.NewBadger(cfg.Store.Badger.Dir, cfg.Store.Badger.InMemory, log)
	case config.BackendPostgres:
		return store.ConnectPostgres(ctx, cfg.Store.Postgres.URL, log)
	default:
		// Config validation rejects unknown backends before this runs.
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// openInput returns the document source named by the first positional
// argument, or stdin when the argument is absent or "-". The caller closes it.
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, string, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), "stdin", nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("opening document: %w", err)
	}
	return f, args[0], nil
}

// readDocument loads and decodes the document named by the arguments.
func readDocument(cmd *cobra.Command, args []string) (transfer.Document, string, error) {
	in, name, err := openInput(cmd, args)
	if err != nil {
		return transfer.Document{}, "", err
	}
	defer in.Close()

	doc, err := transfer.Decode(in)
	if err != nil {
		return transfer.Document{}, "", fmt.Errorf("%s: %w", name, err)
	}
	return doc, name, nil
}

// writeDocument encodes the document to the named file, or to the command's
// stdout when the path is empty or "-".
func writeDocument(cmd *cobra.Command, path string, doc transfer.Document) error {
	if path == "" || path == "-" {
		return transfer.Encode(cmd.OutOrStdout(), doc)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := transfer.Encode(f, doc); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
