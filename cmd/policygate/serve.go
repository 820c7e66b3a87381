package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carepoint/policygate/internal/config"
	"github.com/carepoint/policygate/internal/httpapi"
	"github.com/carepoint/policygate/internal/logger"
	"github.com/carepoint/policygate/internal/observability"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and the observability server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure & Wiring
	// -------------------------------------------------------------------------
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	app.startBackground(bgCtx)

	// -------------------------------------------------------------------------
	// 3. Servers
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(log, &cfg.Observability, app.checkers...)
	obsServer.Start()

	api := httpapi.NewAPI(log, app.gateway, httpapi.Config{MaxBodyBytes: cfg.Server.HTTP.MaxBodyBytes})

	httpCfg := cfg.Server.HTTP
	srv := &http.Server{
		Addr:              httpCfg.Addr(),
		Handler:           api.Router,
		ReadTimeout:       httpCfg.ReadTimeout,
		WriteTimeout:      httpCfg.WriteTimeout,
		ReadHeaderTimeout: httpCfg.ReadHeaderTimeout,
		IdleTimeout:       httpCfg.IdleTimeout,
		MaxHeaderBytes:    httpCfg.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("gateway listening",
			slog.String("addr", srv.Addr),
			slog.Bool("tls", httpCfg.TLSEnabled),
		)

		var err error
		if httpCfg.TLSEnabled {
			err = srv.ListenAndServeTLS(httpCfg.TLSCert, httpCfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 4. Graceful Shutdown
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway shutdown failed", slog.String("error", err.Error()))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	// Stop the flushers only after in-flight requests have written their audit records.
	cancelBackground()
	app.wait(shutdownCtx)

	log.Info("service exited")
	return runErr
}
