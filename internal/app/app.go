// Package app wires configuration into a ready reconcile service and its
// transports.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/pricewatch/internal/adapter/handler"
	"github.com/rl1809/pricewatch/internal/adapter/mailer"
	"github.com/rl1809/pricewatch/internal/adapter/scraper"
	"github.com/rl1809/pricewatch/internal/adapter/storage"
	"github.com/rl1809/pricewatch/internal/config"
	"github.com/rl1809/pricewatch/internal/core/service"
	"github.com/rl1809/pricewatch/internal/obs"
	"github.com/rl1809/pricewatch/internal/port"
)

type itemStore interface {
	port.ItemRepository
	Migrate(ctx context.Context) error
}

type App struct {
	Config  config.Config
	Service *service.ReconcileService
	HTTP    *handler.HTTPHandler
	GRPC    *handler.GRPCHandler

	store   itemStore
	fetcher port.ObservationFetcher
	mail    port.MailTransport
	closers []func() error
}

type Option func(*App)

// WithFetcher replaces the HTTP scraper.
func WithFetcher(f port.ObservationFetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithMailer replaces the transport chosen from the SMTP settings.
func WithMailer(m port.MailTransport) Option {
	return func(a *App) { a.mail = m }
}

// New opens the configured store and optional Redis connection and builds
// the reconcile service on top of them. Callers must Close the app.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var cache *storage.RedisAdapter
	if cfg.Redis.URL != "" {
		rdb, err := storage.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		cache = storage.NewRedisAdapter(rdb)
		obs.Logger.Info("redis_connected")
	} else {
		obs.Logger.Warn("redis_disabled", "effect", "no dispatch dedupe, run lock or run history")
	}

	if a.fetcher == nil {
		a.fetcher = scraper.NewHTTPFetcher(scraper.Options{
			Timeout:    cfg.Fetch.Timeout,
			UserAgent:  cfg.Fetch.UserAgent,
			RatePerSec: cfg.Fetch.RatePerSec,
			Burst:      cfg.Fetch.Burst,
		})
	}
	if a.mail == nil {
		if cfg.SMTP.Enabled() {
			a.mail = mailer.NewSMTPTransport(mailer.Options{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			})
		} else {
			obs.Logger.Warn("smtp_disabled", "effect", "notifications are logged only")
			a.mail = mailer.LogTransport{}
		}
	}

	var ledger port.DispatchLedger
	if cache != nil {
		ledger = cache
	}
	dispatcher := service.NewDispatcher(a.mail, ledger, cfg.Run.DedupeTTL)

	a.Service = service.NewReconcileService(
		a.store,
		a.fetcher,
		service.NewClassifier(cfg.Run.ThresholdPercent),
		dispatcher,
		service.ReconcileConfig{
			WorkerCount: cfg.Run.WorkerCount,
			RunTimeout:  cfg.Run.Timeout,
		},
	)
	if cache != nil {
		a.Service.WithRunLock(cache).WithRecorder(cache)
	}

	a.HTTP = handler.NewHTTPHandler(a.Service)
	a.GRPC = handler.NewGRPCHandler(a.Service)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store.Driver {
	case config.DriverPostgres:
		db, err := storage.OpenPostgres(a.Config.Store.DatabaseURL, a.Config.Log.Level == "debug")
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		a.store = storage.NewPostgresAdapter(db)
	default:
		db, err := storage.OpenMySQL(ctx, a.Config.Store.MySQLDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.store = storage.NewMySQLAdapter(db)
	}
	obs.Logger.Info("store_connected", "driver", a.Config.Store.Driver)
	return nil
}

// Migrate creates the store schema if it does not exist yet.
func (a *App) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
