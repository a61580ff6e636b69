// Package app wires configuration, storage, notifications and the engine
// into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quoteflow/internal/config"
	"quoteflow/internal/db"
	"quoteflow/internal/engine"
	"quoteflow/internal/metrics"
	"quoteflow/internal/migrate"
	"quoteflow/internal/notify"
	"quoteflow/internal/repo"
	"quoteflow/internal/repo/dynamo"
)

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.Logging) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging level: %w", err)
		}
		zc.Level.SetLevel(lvl)
	}
	return zc.Build()
}

type Options struct {
	Workspace string
	// DBPath overrides the SQLite location inside the workspace.
	DBPath string
	// Config skips loading quoteflow.yml from the workspace.
	Config *config.Config
	Log    *zap.Logger
	// HTTPClient is used for webhook deliveries.
	HTTPClient *http.Client
}

// App is a fully wired engine with its supporting services.
type App struct {
	Config     *config.Config
	Engine     engine.Engine
	Log        *zap.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Recorder
	Dispatcher *notify.Dispatcher

	closers []func() error
}

// Open loads config, opens and migrates the store and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log := opts.Log
	if log == nil {
		l, err := NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		log = l
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	a := &App{Config: cfg, Log: log, Registry: reg, Metrics: rec}
	store, closeStore, err := OpenStore(ctx, cfg, opts.Workspace, opts.DBPath, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	eng, err := engine.New(store, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Dispatcher = notify.NewDispatcher(NewNotifier(cfg.Notifications, log, opts.HTTPClient), log.Named("notify"), rec, cfg.Notifications.Timeout)
	eng.Notify = a.Dispatcher
	eng.Metrics = rec
	eng.Log = log.Named("engine")
	a.Engine = eng
	return a, nil
}

// OpenStore selects the persistence backend named by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, workspace, dbPath string, log *zap.Logger) (engine.Store, func() error, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		conn, err := db.Open(db.Config{Workspace: workspace, Path: dbPath})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		version, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Debug("sqlite store ready", zap.Int("schema_version", version))
		return repo.New(conn), conn.Close, nil
	case "dynamodb":
		client, err := dynamo.NewClient(ctx, cfg.Store.DynamoDB)
		if err != nil {
			return nil, nil, fmt.Errorf("dynamodb client: %w", err)
		}
		log.Debug("dynamodb store ready", zap.String("table", cfg.Store.DynamoDB.Table))
		return dynamo.New(client, cfg.Store.DynamoDB.Table, cfg.Store.DynamoDB.EventsTable), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// NewNotifier logs every notification and also posts it to the configured
// webhook, if any.
func NewNotifier(cfg config.Notifications, log *zap.Logger, client *http.Client) notify.Notifier {
	logged := notify.Log(log.Named("notify"))
	if cfg.Webhook.URL == "" {
		return logged
	}
	hook := &notify.Webhook{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret, Client: client}
	return notify.Multi(logged, hook.Notifier())
}

// Sweeper returns a deadline sweeper using the configured interval.
func (a *App) Sweeper() engine.Sweeper {
	return engine.Sweeper{Engine: a.Engine, Interval: a.Config.Approval.SweepInterval}
}

// Close drains pending notifications and releases the store.
func (a *App) Close() error {
	a.Dispatcher.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
