package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"reconciliation-engine/internal/api"
	"reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes statements, recorded transactions, reconciliation and the
audit log under /api/v1. SIGINT or SIGTERM drains in-flight requests before
the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().Int("port", 0, "port to listen on")
	cmd.Flags().String("mode", "", "gin mode: release, debug, test")
	opts.bind("port", "server.port")
	opts.bind("mode", "server.mode")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.config
	log := opts.logger.WithComponent("server")

	a, err := newApp(ctx, cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	apiCfg := cfg.APIConfig()
	router, err := api.NewRouter(a.apiDependencies(), &apiCfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server", cfg.Server.Mode, err)
	}

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("Listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.ServiceUnavailable(server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	log.Info("Server stopped")
	return nil
}
