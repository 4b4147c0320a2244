package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vigil/internal/api"
	"vigil/internal/booking"
	"vigil/internal/captcha"
	"vigil/internal/config"
	"vigil/internal/db"
	"vigil/internal/demo"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/scheduler"
	"vigil/internal/service"
	"vigil/internal/site"
	"vigil/internal/store"
	"vigil/internal/version"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting vigil", zap.String("version", version.Current().Version), zap.String("env", cfg.AppEnv))

	sqdb, err := db.Open(cfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqdb.Close()
	if err := db.Migrate(sqdb, cfg.DBDriver); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	svc := service.New(store.New(sqdb, cfg.DBDriver), notify.NewSender(cfg, logger), captcha.NewVerifier(cfg), logger)
	defer svc.Close()

	var booker demo.Booker = booking.NewLocalBooker(svc)
	if cfg.BookingEndpoint != "" {
		booker = booking.NewClient(cfg.BookingEndpoint, cfg.BookingTimeout(), logger)
		logger.Info("demo bookings forwarded", zap.String("endpoint", cfg.BookingEndpoint))
	}

	reg := site.NewRegistry(booker, cfg.SessionIdleDuration(), logger)
	defer reg.Close()

	sm := scs.New()
	sm.IdleTimeout = cfg.SessionIdleDuration()
	sm.Cookie.Name = cfg.SessionCookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.CookieSecure

	m := metrics.New()
	sched, err := scheduler.New(reg, func(evicted int) {
		m.VisitorsEvicted.Add(float64(evicted))
		m.ActiveVisitors.Set(float64(reg.Len()))
	}, svc, cfg.DigestSchedule, logger)
	if err != nil {
		return err
	}
	sched.Start()

	hsrv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(cfg, api.Deps{
			Service:  svc,
			Registry: reg,
			Sessions: sm,
			Metrics:  m,
			Logger:   logger,
		}),
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serveUntil(ctx, hsrv, sched, logger)
}

type stopper interface {
	Stop(ctx context.Context)
}

// serveUntil runs hsrv until ctx is done or the listener fails. The
// background jobs are stopped on both paths.
func serveUntil(ctx context.Context, hsrv *http.Server, jobs stopper, logger *zap.Logger) error {
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		jobs.Stop(stopCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", hsrv.Addr))
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hsrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
