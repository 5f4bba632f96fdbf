package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/desai/approval"
	"github.com/c360studio/desai/config"
	"github.com/c360studio/desai/export"
	"github.com/c360studio/desai/llm"
	"github.com/c360studio/desai/model"
	"github.com/c360studio/desai/orchestrator"
	"github.com/c360studio/desai/planner"
	"github.com/c360studio/desai/prompts"
	"github.com/c360studio/desai/refine"
	"github.com/c360studio/desai/search"
	"github.com/c360studio/desai/storage"
	"github.com/c360studio/desai/workerpool"
	"github.com/c360studio/desai/workflow"
)

// loadConfig loads layered configuration and applies flag overrides.
func loadConfig(opts options, logger *slog.Logger) (*config.Config, error) {
	var loaderOpts []config.LoaderOption
	if opts.configPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(opts.configPath))
	}
	cfg, err := config.NewLoader(logger, loaderOpts...).Load()
	if err != nil {
		return nil, err
	}
	if opts.mock {
		cfg.Search.UseMock = true
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	return cfg, nil
}

// requestFromFlags builds the request from flags. It returns nil when the
// description or minimum was not given.
func requestFromFlags(opts options) (*workflow.UserRequest, error) {
	if strings.TrimSpace(opts.description) == "" || opts.minItems == 0 {
		return nil, nil
	}
	req, err := workflow.NewUserRequest(opts.description, opts.minItems, splitColumns(opts.columns), opts.dedupe)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func splitColumns(s string) []string {
	var cols []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// appOption configures an app.
type appOption func(*app)

// withFormat sets the export format.
func withFormat(f export.Format) appOption {
	return func(a *app) {
		a.format = f
	}
}

// withCompleter replaces the configured LLM client.
func withCompleter(c llm.Completer) appOption {
	return func(a *app) {
		a.client = c
	}
}

// app wires the pipeline from configuration. Connections it opens are
// released by Close.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	format export.Format

	client   llm.Completer
	pool     *workerpool.Pool
	prompts  *prompts.Repository
	registry *prometheus.Registry
	metrics  *orchestrator.Metrics

	nc        *nats.Conn
	publisher orchestrator.Publisher
	runs      *storage.RunStore
	server    *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		format:   export.FormatCSV,
		pool:     workerpool.New(cfg.Limits.WorkerPoolSize),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := cfg.Paths.Ensure(); err != nil {
		return nil, err
	}

	repo, err := prompts.NewRepository(cfg.Paths.PromptsDir, prompts.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if err := repo.Watch(ctx); err != nil {
		logger.Debug("Prompt templates are not watched", "error", err)
	}
	a.prompts = repo

	if a.client == nil {
		client, err := newLLMClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.client = client
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = orchestrator.NewMetrics(a.registry)
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.publisher = orchestrator.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		a.connectEvents(ctx)
	}

	return a, nil
}

func newLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.Client, error) {
	if llm.GetProvider(cfg.LLM.Provider) == nil {
		return nil, fmt.Errorf("unknown llm provider %q (registered: %s)", cfg.LLM.Provider, strings.Join(llm.ListProviders(), ", "))
	}
	registry := model.RegistryFromModels(cfg.Models, cfg.LLM.Provider, cfg.LLM.BaseURL)

	clientOpts := []llm.ClientOption{
		llm.WithLogger(logger),
		llm.WithRetryConfig(llm.DefaultRetryConfig().WithMaxAttempts(cfg.LLM.MaxAttempts)),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
	}
	if dir := cfg.Paths.RawResponsesDir; dir != "" {
		store, err := llm.NewCallStore(dir)
		if err != nil {
			return nil, fmt.Errorf("open raw response store: %w", err)
		}
		clientOpts = append(clientOpts, llm.WithCallStore(store))
	}
	return llm.NewClient(registry, clientOpts...), nil
}

// connectEvents enables progress events. Events are optional: failures are
// logged and the run continues without them.
func (a *app) connectEvents(ctx context.Context) {
	nc, err := nats.Connect(a.cfg.Events.NATSURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3))
	if err != nil {
		a.logger.Warn("Failed to connect to NATS, progress events disabled", "url", a.cfg.Events.NATSURL, "error", err)
		return
	}
	a.nc = nc
	a.publisher = orchestrator.NewNATSPublisher(nc, a.cfg.Events.Subject)
	a.logger.Info("Publishing progress events", "url", a.cfg.Events.NATSURL, "subject", a.cfg.Events.Subject)

	if !a.cfg.Events.StoreRuns {
		return
	}
	js, err := jetstream.New(nc)
	if err != nil {
		a.logger.Warn("JetStream unavailable, run summaries not stored", "error", err)
		return
	}
	runs, err := storage.NewRunStore(ctx, js)
	if err != nil {
		a.logger.Warn("Failed to open run store", "error", err)
		return
	}
	a.runs = runs
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on metrics address: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "addr", ln.Addr().String())
	return nil
}

// Close releases the metrics server and the NATS connection.
func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
}

// controller builds a controller for one run. ID sequences are per run.
func (a *app) controller(reviewer approval.Reviewer) (*orchestrator.Controller, error) {
	cfg := a.cfg

	var backend search.Backend = search.NewLLMBackend(a.client, a.logger)
	if cfg.Search.UseMock {
		a.logger.Info("Using mock search results")
		backend = search.MockBackend{}
	}
	execOpts := []search.ExecutorOption{
		search.WithTimeout(cfg.Search.Timeout),
		search.WithLogger(a.logger),
	}
	if cfg.Search.EnrichPages {
		execOpts = append(execOpts, search.WithEnricher(search.NewEnricher(nil, a.logger)))
	}

	return orchestrator.NewController(orchestrator.Deps{
		Generator: planner.NewGenerator(a.client, a.prompts, a.pool, workflow.NewIDSequence("g"), planner.WithLogger(a.logger)),
		Filter: planner.NewFilter(a.client, a.prompts, planner.FilterConfig{
			FilteredCount: cfg.Limits.FilteredCount,
			GroupSize:     cfg.Limits.FilterGroupSize,
		}, planner.WithLogger(a.logger)),
		Schema:   planner.NewSchemaResolver(a.client, a.prompts, cfg.Search.DefaultColumns, planner.WithLogger(a.logger)),
		Gate:     approval.NewGate(workflow.NewIDSequence("u"), approval.WithLogger(a.logger)),
		Reviewer: reviewer,
		Executor: search.NewExecutor(backend, search.NewStrategyMap(cfg.Search.Strategies), a.pool, execOpts...),
	}, orchestrator.Limits{
		InitialBatches: cfg.Limits.InitialBatches,
		PerBatch:       cfg.Limits.PerBatch,
		RetryBatches:   cfg.Limits.RetryBatches,
		MaxRetryRounds: cfg.Limits.MaxRetryRounds,
	},
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithPublisher(a.publisher),
		orchestrator.WithLogger(a.logger))
}

func (a *app) finalizer() (*orchestrator.Finalizer, error) {
	debug, err := export.NewFileExporter(a.cfg.Paths.DebugExportDir, a.format)
	if err != nil {
		return nil, err
	}
	reports, err := export.NewFileExporter(a.cfg.Paths.ReportsDir, a.format)
	if err != nil {
		return nil, err
	}
	opts := []orchestrator.FinalizerOption{
		orchestrator.WithRefiner(refine.NewRefiner(a.client, a.prompts, a.pool, refine.WithLogger(a.logger))),
		orchestrator.WithFinalizerLogger(a.logger),
	}
	if a.runs != nil {
		opts = append(opts, orchestrator.WithRunRecorder(a.runs))
	}
	return orchestrator.NewFinalizer(debug, reports, opts...), nil
}

// Run collects rows for req and exports them. A nil reviewer approves every
// plan.
func (a *app) Run(ctx context.Context, req workflow.UserRequest, reviewer approval.Reviewer) (orchestrator.Summary, error) {
	ctrl, err := a.controller(reviewer)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	fin, err := a.finalizer()
	if err != nil {
		return orchestrator.Summary{}, err
	}

	res, err := ctrl.Run(ctx, req)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	return fin.Finalize(ctx, res)
}
