// Package main provides the desai binary entry point.
// Desai plans, runs and refines batches of web searches until it has
// collected a de-duplicated dataset of the requested size.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/desai/approval"
	"github.com/c360studio/desai/export"

	// Register LLM providers via init()
	_ "github.com/c360studio/desai/llm/providers"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "desai"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command line flags.
type options struct {
	configPath  string
	logLevel    string
	description string
	minItems    int
	columns     string
	dedupe      string
	format      string
	yes         bool
	mock        bool
	metricsAddr string
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Collect a de-duplicated dataset with planned web searches",
		Long: `Desai turns a description of the items you need into a set of web
searches, lets you review the plan, runs the searches in parallel and keeps
retrying with a performance report until enough unique rows are collected.

Every run writes a debug export with all collected rows and a refined report.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log-level") {
				if env, ok := os.LookupEnv("LOG_LEVEL"); ok {
					opts.logLevel = env
				}
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVarP(&opts.description, "description", "d", "", "Description of the items to collect (prompted when empty)")
	f.IntVarP(&opts.minItems, "min-items", "n", 0, "Minimum number of unique items (prompted when zero)")
	f.StringVar(&opts.columns, "columns", "", "Comma-separated output columns (inferred when empty)")
	f.StringVar(&opts.dedupe, "dedupe", "", "Dedupe field: name, website, link, url, email or description")
	f.StringVar(&opts.format, "format", "csv", "Export format (csv, jsonl)")
	f.BoolVarP(&opts.yes, "yes", "y", false, "Approve every search plan without review")
	f.BoolVar(&opts.mock, "mock", false, "Use deterministic mock search results")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, opts options) error {
	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	interactive := isInteractive()
	ask := surveyPrompter{}

	req, err := requestFromFlags(opts)
	if err != nil {
		return err
	}
	if req == nil {
		if !interactive {
			return fmt.Errorf("--description and --min-items are required when stdin is not a terminal")
		}
		collected, err := collectRequest(ask, os.Stdout)
		if err != nil {
			return err
		}
		req = &collected
	}

	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, withFormat(format))
	if err != nil {
		return err
	}
	defer a.Close()

	var reviewer approval.Reviewer
	if !opts.yes && interactive {
		reviewer = newConsoleReviewer(ask, os.Stdout)
	} else {
		logger.Info("Search plans are approved automatically")
	}

	sum, err := a.Run(ctx, *req, reviewer)
	if err != nil {
		return err
	}

	fmt.Printf("Debug export: %s\n", sum.DebugPath)
	fmt.Printf("Report: %s\n", sum.ReportPath)
	fmt.Println(sum.StatusLine)
	return nil
}
