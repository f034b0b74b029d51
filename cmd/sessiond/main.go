package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/Morditux/sessionkit"
	"github.com/Morditux/sessionkit/internal/config"
	"github.com/Morditux/sessionkit/internal/observability"
	"github.com/Morditux/sessionkit/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	writeExample := flag.String("write-example-config", "", "write an example config to this path and exit")
	flag.Parse()

	if *writeExample != "" {
		if err := config.ExampleFile(*writeExample); err != nil {
			fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}

	logger := observability.InitLogger("sessiond", cfg.Log.Level, cfg.Log.Pretty)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("sessiond stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := openStore(cfg.Store, cfg.Session)
	if err != nil {
		return err
	}

	mgr := sessionkit.NewManager(sessionkit.Config{
		Store:           store,
		TTL:             cfg.Session.TTL,
		CookieName:      cfg.Session.CookieName,
		CleanupInterval: cfg.Session.CleanupInterval,
		Secure:          &cfg.Session.Secure,
		SameSite:        cfg.Session.SameSiteMode(),
		MaxSessionBytes: cfg.Session.MaxBytes,
		Readiness: sessionkit.ReadinessConfig{
			MaxAttempts:  cfg.Readiness.MaxAttempts,
			InitialDelay: cfg.Readiness.InitialDelay,
			MaxDelay:     cfg.Readiness.MaxDelay,
		},
		Logger:  &logger,
		Metrics: sessionkit.NewMetrics(registry),
	})
	defer mgr.Close()

	auth, err := web.NewStaticAuthenticator(cfg.Users)
	if err != nil {
		return err
	}
	if len(cfg.Users) == 0 {
		logger.Warn().Msg("no users configured; every login will be rejected")
	}

	router := web.NewRouter(web.Deps{
		Config:        cfg,
		Manager:       mgr,
		Authenticator: auth,
		Logger:        logger,
		Registry:      registry,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("env", cfg.Server.Env).
			Str("store", cfg.Store.Driver).
			Msg("sessiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
