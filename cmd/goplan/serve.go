package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/goplan"
	"github.com/aretw0/goplan/internal/presentation/tui"
	httpAdapter "github.com/aretw0/goplan/pkg/adapters/http"
	"github.com/aretw0/goplan/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Starts the planner as an HTTP service with server-sent event streams and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			app.cfg.Server.Addr = addr
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := observability.NewMetrics(registry)
		hooks := metrics.Hooks().Merge(observability.LogHooks(app.logger))

		engine, closeStore, err := openEngine(ctx, true, goplan.WithLifecycleHooks(hooks))
		if err != nil {
			return err
		}
		defer closeStore()

		handler := httpAdapter.NewHandler(engine,
			httpAdapter.WithLogger(app.logger),
			httpAdapter.WithMaxInputSize(app.cfg.Server.MaxInputSize),
			httpAdapter.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		)
		srv := &http.Server{
			Addr:              app.cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			tui.PrintBanner(cmd.ErrOrStderr(), goplan.Version)
			app.logger.Info("starting goplan server", "addr", srv.Addr, "store", app.cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil

		case <-ctx.Done():
			app.logger.Info("shutting down")

			// Give outstanding requests (including running plans) a deadline for completion.
			grace, _ := cmd.Flags().GetDuration("grace")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.logger.Warn("graceful shutdown did not complete", "grace", grace, "err", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			app.logger.Info("goplan server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().Duration("grace", 30*time.Second, "Graceful shutdown timeout")
}
