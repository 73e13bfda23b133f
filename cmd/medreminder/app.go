package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/medcia/medreminder/internal/claim"
	"github.com/medcia/medreminder/internal/config"
	"github.com/medcia/medreminder/internal/notify"
	"github.com/medcia/medreminder/internal/observability"
	"github.com/medcia/medreminder/internal/repo"
	"github.com/medcia/medreminder/internal/services"
	"github.com/medcia/medreminder/internal/sysutil"
)

// app is the wired process: store, channels, claim and dispatcher.
type app struct {
	cfg        config.Config
	logger     zerolog.Logger
	db         *gorm.DB
	metrics    *observability.DispatchMetrics
	dispatcher *services.Dispatcher

	closers []func(context.Context) error
}

// newApp builds the process from cfg. The summary line of every sweep goes
// to stdout, logs go to stderr.
func newApp(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) (a *app, err error) {
	logger := sysutil.SetupLogger(stderr, cfg.LogPretty, cfg.OTEL.ServiceName)
	sysutil.SetLogLevel(cfg.LogLevel)

	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(version, "dev"))
	if err != nil {
		return a, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, shutdownOTel)

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return a, fmt.Errorf("%w: open %s: %w", services.ErrStoreUnavailable, cfg.DB.Driver, err)
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if cfg.OTEL.Enabled {
		if err := repo.InstrumentDB(db); err != nil {
			return a, fmt.Errorf("instrument db: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return a, fmt.Errorf("%w: migrate: %w", services.ErrStoreUnavailable, err)
	}

	channels, err := notify.FromConfig(cfg, logger)
	if err != nil {
		return a, fmt.Errorf("channels: %w", err)
	}

	var locker claim.Locker = claim.NewLocal()
	if cfg.Claim.RedisAddr != "" {
		rl := claim.NewRedisFromConfig(cfg.Claim)
		locker = rl
		a.closers = append(a.closers, func(context.Context) error { return rl.Close() })
	}

	a.metrics = observability.NewDispatchMetrics()
	reporter := &services.Reporter{Out: stdout, Logger: logger}
	a.dispatcher, err = services.NewDispatcher(cfg, db, channels, locker, a.metrics, reporter, logger)
	if err != nil {
		return a, err
	}

	logger.Debug().
		Str("db_driver", cfg.DB.Driver).
		Strs("channels", channels.Names()).
		Bool("sms_enabled", cfg.SMS.Enabled()).
		Bool("redis_claim", cfg.Claim.RedisAddr != "").
		Msg("medreminder wired")
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
