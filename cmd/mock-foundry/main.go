// Command mock-foundry serves the Foundry dataset endpoints the ETL writes
// to, backed by a local directory. It is meant for docker-compose and manual
// runs of `etl run --scheme foundry`.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/logging"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/mockfoundry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		addr    = envOr("MOCK_FOUNDRY_ADDR", ":8080")
		dataDir = envOr("MOCK_FOUNDRY_DATA_DIR", "/data/foundry")
		token   = envOr("MOCK_FOUNDRY_TOKEN", "")
		level   = envOr("LOG_LEVEL", "info")
	)
	cmd := &cobra.Command{
		Use:           "mock-foundry",
		Short:         "Serve a local stand-in for the Foundry dataset API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Config{Level: level})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), logger, addr, dataDir, token)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", addr, "listen address")
	f.StringVar(&dataDir, "data-dir", dataDir, "directory holding committed dataset files as <rid>/<path>")
	f.StringVar(&token, "token", token, "bearer token to require (empty disables auth)")
	f.StringVar(&level, "log-level", level, "log level")
	return cmd
}

func serve(ctx context.Context, logger *zap.Logger, addr, dataDir, token string) error {
	srv := mockfoundry.New(dataDir)
	srv.RequireBearerToken(token)

	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	logger.Info("mock-foundry listening",
		zap.String("addr", addr),
		zap.String("data_dir", dataDir),
		zap.Bool("auth", token != ""),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("mock-foundry stopped", zap.Int("calls", len(srv.Calls())))
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
