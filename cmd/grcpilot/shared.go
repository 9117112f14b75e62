package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/grcpilot/internal/config"
	"github.com/jkaninda/grcpilot/internal/storage"
	pgstore "github.com/jkaninda/grcpilot/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/grcpilot/internal/storage/sqlite"
)

// loadConfig resolves the config path from --config or GRCPILOT_CONFIG and
// loads it. A missing default file is not an error; defaults and env apply.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("GRCPILOT_CONFIG", configPath)
	if path == "" {
		if def := config.DefaultConfigPath(); fileExists(def) {
			path = def
		}
	}
	return config.Load(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// newLogger builds the process logger from the log section. Logs go to
// stderr so that stdout stays free for the MCP transport.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// setup loads config, builds the logger and opens the migrated store.
// Callers must close the store.
func setup(ctx context.Context) (*config.Config, *slog.Logger, storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg.Log)

	store, err := initStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return cfg, logger, store, nil
}

// initStore creates the storage backend named by config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case "postgres":
		return initPostgresStore(cfg, logger)
	case "sqlite":
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sc := sqlitestore.Config{Path: cfg.DatabasePath()}
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		sc.JournalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sc, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pc := cfg.Storage.Postgres
	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pc.DSN,
		MaxOpenConns:    pc.MaxOpenConns,
		MaxIdleConns:    pc.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pc.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(pgDB), nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func closeStore(store storage.Store, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("closing store", slog.String("error", err.Error()))
	}
}
