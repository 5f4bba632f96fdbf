// Package main implements mock-llm, an OpenAI-compatible chat server that
// answers desai's pipeline steps from JSON fixtures. Point llm.base_url at
// it and set each step's model to "mock-<step>" to run desai offline.
//
// Fixtures are read from a directory: "<step>.json" is the base response
// and "<step>.<n>.json" files are served first, in order. Steps without a
// fixture file use built-in responses.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var (
		addr        string
		fixturesDir string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:           "mock-llm",
		Short:         "Serve desai pipeline steps from JSON fixtures",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fixturesDir == "" {
				fixturesDir = os.Getenv("MOCK_LLM_FIXTURES")
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(logLevel)}))

			f := builtinFixtures()
			if fixturesDir != "" {
				loaded, err := loadFixtures(fixturesDir)
				if err != nil {
					return err
				}
				f = f.merge(loaded)
				logger.Info("Loaded fixtures", "dir", fixturesDir, "files", len(loaded))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, newServer(f, logger), logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":11434", "listen address")
	cmd.Flags().StringVar(&fixturesDir, "fixtures", "", "fixtures directory (default $MOCK_LLM_FIXTURES)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string, s *server, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("mock-llm listening", "addr", ln.Addr().String(), "fixtures", s.fixtures.names())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
