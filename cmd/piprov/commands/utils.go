package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/piprov/piprov/internal/config"
	"github.com/piprov/piprov/pkg/catalog"
	"github.com/piprov/piprov/pkg/errors"
	"github.com/piprov/piprov/pkg/reachability"
	"github.com/piprov/piprov/pkg/storage"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(dbPath, fsmDBPath string, dirs ...string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed for provision)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create "+dir)
		}
	}
	return nil
}

func isRoot() bool {
	return os.Geteuid() == 0
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

func setupLogging(verbose bool, format string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "", "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// newFetcher routes http(s) to the vendor and s3:// to the mirror bucket.
func newFetcher(ctx context.Context, cfg *config.Config) (*storage.Router, error) {
	router := &storage.Router{HTTP: storage.NewHTTPFetcher(nil)}
	if strings.HasPrefix(cfg.Mirror, "s3://") {
		client, err := storage.NewClient(ctx, cfg.S3Region)
		if err != nil {
			return nil, errors.Wrap(err, "S3 client failed")
		}
		router.S3 = client
	}
	return router, nil
}

func newResolver(cfg *config.Config, fetcher storage.Fetcher) *catalog.Resolver {
	probe := reachability.Probe{
		Pinger:  reachability.CommandPinger{},
		Target:  cfg.ProbeTarget,
		Timeout: cfg.ProbeTimeout,
	}
	return catalog.NewResolver(cfg.CatalogURL, cfg.Mirror, catalog.NewHTMLLister(fetcher), probe)
}
