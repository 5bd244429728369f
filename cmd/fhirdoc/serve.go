package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"fhirdoc/internal/adapters/fhirapi"
	"fhirdoc/internal/fixtures"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr   string
		sample bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if cfg.Log.Mode != "development" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					log.Warn("shutdown cleanup failed", "error", err)
				}
			}()
			if sample {
				if err := fixtures.DocumentScenario().Load(ctx, a.store); err != nil {
					return err
				}
				log.Info("sample document loaded", "composition", "Composition/comp-1")
			}

			router := fhirapi.NewRouter(fhirapi.RouterConfig{
				Service:     a.service,
				Logger:      log,
				Metrics:     a.metrics,
				CORSOrigins: cfg.Server.CORSOrigins,
				ServiceName: appName,
			})
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info("fhirdoc listening", "addr", cfg.Server.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&sample, "sample", false, "Load the built-in sample document on start")
	return cmd
}
