// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package main is the entry point for the vigilo detector.
//
// Vigilo correlates Gemini assistant activity with Drive sharing,
// download and export events from the Google Workspace audit logs. An
// actor who asks the assistant about documents and shortly afterwards
// moves data outside the organization produces a ranked finding.
//
// # Modes
//
// One-shot (default): fetch the lookback window, correlate, write the
// findings file, deliver alerts, exit. Suited to cron and incident
// response replays.
//
//	vigilo --config config.yaml --lookback-hours 24 --output findings.json
//
// Scheduled: --schedule runs sweeps on an interval under a supervisor
// tree, with /healthz, /status and /metrics served on ops.listen.
// Findings already alerted by an earlier sweep are not re-delivered.
//
//	vigilo --config config.yaml --schedule 15m
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, a YAML config file, built-in
// defaults. --config names the file explicitly; otherwise CONFIG_PATH
// and the default search paths are probed. Offline replays set
// sources.provider=file and point recon_path/exfil_path at JSONL dumps.
//
// # Exit codes
//
//	0  completed, no high severity findings
//	1  completed, at least one high severity finding
//	2  configuration or source setup failure
//	3  internal error (including an interrupted sweep; partial
//	   findings are still written)
//
// Scheduled mode exits 0 on clean shutdown. Sweep failures there are
// logged and retried on the next tick instead of terminating.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/vigilo/internal/alerting"
	"github.com/tomtom215/vigilo/internal/baseline"
	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/detection"
	"github.com/tomtom215/vigilo/internal/filecontext"
	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/models"
	"github.com/tomtom215/vigilo/internal/reconstate"
	"github.com/tomtom215/vigilo/internal/report"
	"github.com/tomtom215/vigilo/internal/scheduler"
	"github.com/tomtom215/vigilo/internal/server"
	"github.com/tomtom215/vigilo/internal/sources"
	"github.com/tomtom215/vigilo/internal/supervisor"
)

// version is reported by --version, /healthz and the build info metric.
const version = "1.0.0"

// Exit codes. Response playbooks and cron wrappers key off these.
const (
	exitOK       = 0
	exitHigh     = 1
	exitConfig   = 2
	exitInternal = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// options holds the parsed command line.
type options struct {
	configPath    string
	lookbackHours float64
	windowMinutes int
	output        string
	verbose       bool
	schedule      time.Duration
	showVersion   bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("vigilo", flag.ContinueOnError)
	opts := &options{}

	fs.StringVar(&opts.configPath, "config", "", "path to YAML config file")
	fs.Float64Var(&opts.lookbackHours, "lookback-hours", 24, "hours of audit history to fetch")
	fs.IntVar(&opts.windowMinutes, "window-minutes", 0, "override the immediate correlation window")
	fs.StringVar(&opts.output, "output", "findings.json", "findings file path, \"-\" for stdout")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	fs.DurationVar(&opts.schedule, "schedule", 0, "sweep interval for service mode, 0 runs once")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		return exitConfig
	}
	if opts.showVersion {
		fmt.Println("vigilo " + version)
		return exitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return exitConfig
	}
	if opts.windowMinutes > 0 {
		cfg.WindowMinutes = opts.windowMinutes
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	if opts.verbose {
		logging.SetLevelString("debug")
	}

	logging.Info().
		Str("version", version).
		Str("source", cfg.Sources.Provider).
		Str("recon_backend", cfg.ReconState.Backend).
		Int("window_minutes", cfg.WindowMinutes).
		Str("config_file", cfg.LoadedFrom).
		Msg("Starting vigilo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	pipe, err := buildPipeline(ctx, cfg, opts.output)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to build detection pipeline")
		return exitConfig
	}
	defer pipe.Close()

	lookback := time.Duration(opts.lookbackHours * float64(time.Hour))

	if opts.schedule > 0 {
		return runScheduled(ctx, cfg, pipe, lookback, opts.schedule)
	}
	return runOnce(ctx, pipe, lookback)
}

// pipeline holds the wired detection components for one process.
type pipeline struct {
	backend  reconstate.Backend
	source   sources.Source
	engine   *detection.Engine
	writer   *report.Writer
	notifier alerting.Notifier

	// dedupe is set in scheduled mode only; a nil dedupe passes every
	// finding through to alerting.
	dedupe *scheduler.Dedupe
}

// buildPipeline constructs every component a sweep needs. All failures
// here are configuration problems: bad credentials, unreachable
// backends, unknown providers.
func buildPipeline(ctx context.Context, cfg *config.Config, output string) (*pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolving timezone: %w", err)
	}

	source, err := sources.New(ctx, cfg.Sources)
	if err != nil {
		return nil, err
	}

	backend, err := reconstate.OpenBackend(ctx, cfg.ReconState)
	if err != nil {
		return nil, fmt.Errorf("opening recon state backend: %w", err)
	}

	store := reconstate.NewStore(backend, cfg.HalfLife(), cfg.ReconTTL(), reconstate.DefaultEvictBelow)
	baselines := baseline.NewTracker(backend, cfg.ReconTTL())

	contexts, err := buildFileContexts(ctx, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	orgs, err := buildOrgResolver(ctx, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	contexts.UseOrgResolver(orgs, cfg.SeverityOverrides.HighRiskOUs)

	engine, err := detection.NewEngine(store, contexts, baselines, orgs, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &pipeline{
		backend:  backend,
		source:   source,
		engine:   engine,
		writer:   report.NewWriter(output, loc),
		notifier: alerting.NewWebhookNotifier(cfg.Alerting, loc),
	}, nil
}

// buildFileContexts selects the document metadata source matching the
// event source: the Drive API alongside the google provider, a static
// JSONL fixture (or synthetic contexts) for file replays.
func buildFileContexts(ctx context.Context, cfg *config.Config) (*filecontext.Provider, error) {
	sensitive := cfg.SeverityOverrides.SensitiveLabels

	if cfg.Sources.Provider == "google" {
		svc, err := filecontext.NewDriveService(ctx, cfg.Sources.Google)
		if err != nil {
			return nil, fmt.Errorf("building drive service: %w", err)
		}
		home := emailDomain(cfg.Sources.Google.DelegatedUser)
		return filecontext.NewProvider(filecontext.NewDriveSource(svc, home), cfg.FileContext, sensitive), nil
	}

	if path := cfg.Sources.File.ContextsPath; path != "" {
		src, err := filecontext.LoadStaticSource(path)
		if err != nil {
			return nil, fmt.Errorf("loading file contexts: %w", err)
		}
		logging.Info().
			Int("documents", src.Len()).
			Str("path", path).
			Msg("Loaded static file contexts")
		return filecontext.NewProvider(src, cfg.FileContext, sensitive), nil
	}

	// No metadata available: every lookup degrades to a synthetic
	// unknown-sensitivity context.
	return filecontext.NewProvider(filecontext.NewStaticSource(nil), cfg.FileContext, sensitive), nil
}

// buildOrgResolver maps actors to org units via the Directory API when
// running against Google, or the static org_units table otherwise.
func buildOrgResolver(ctx context.Context, cfg *config.Config) (filecontext.OrgResolver, error) {
	if cfg.Sources.Provider == "google" {
		svc, err := filecontext.NewDirectoryService(ctx, cfg.Sources.Google)
		if err != nil {
			return nil, fmt.Errorf("building directory service: %w", err)
		}
		return filecontext.NewDirectoryResolver(svc, cfg.OrgUnits), nil
	}
	return filecontext.NewStaticOrgResolver(cfg.OrgUnits), nil
}

func (p *pipeline) Close() {
	if err := p.backend.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing recon state backend")
	}
}

// sweep runs one complete detection pass: concurrent recon and exfil
// fetches, correlation, findings file, alert delivery. A canceled
// correlation still writes the findings gathered so far.
func (p *pipeline) sweep(ctx context.Context, lookback time.Duration) (scheduler.Outcome, error) {
	end := time.Now().UTC()
	start := end.Add(-lookback)

	var (
		recon []models.ReconEvent
		exfil []models.ExfilEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recon, err = p.source.FetchRecon(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		exfil, err = p.source.FetchExfil(gctx, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return scheduler.Outcome{}, err
	}

	rep, runErr := p.engine.Run(ctx, recon, exfil)
	if rep == nil {
		return scheduler.Outcome{}, runErr
	}

	outcome := scheduler.Outcome{
		Findings:     len(rep.Findings),
		HighFindings: countHigh(rep.Findings),
		Actors:       rep.Stats.Actors,
	}

	if err := p.writer.Write(ctx, rep.Findings); err != nil {
		return outcome, err
	}

	fresh := p.dedupe.Filter(rep.Findings)
	if err := alerting.Deliver(ctx, p.notifier, fresh); err != nil {
		return outcome, err
	}

	return outcome, runErr
}

// runOnce performs a single sweep and maps its result to an exit code.
func runOnce(ctx context.Context, pipe *pipeline, lookback time.Duration) int {
	runCtx := logging.ContextWithNewRunID(ctx)

	outcome, err := pipe.sweep(runCtx, lookback)
	if err != nil {
		logging.CtxErr(runCtx, err).Msg("Sweep failed")
		if errors.Is(err, sources.ErrSourceUnavailable) {
			return exitConfig
		}
		return exitInternal
	}

	if outcome.HighFindings > 0 {
		return exitHigh
	}
	return exitOK
}

// runScheduled runs sweeps on an interval under the supervisor tree,
// with the ops server alongside. Returns only after shutdown.
func runScheduled(ctx context.Context, cfg *config.Config, pipe *pipeline, lookback, interval time.Duration) int {
	// Remember alerted findings across overlapping windows so each
	// exfil event is delivered once.
	dedupeTTL := 2 * lookback
	if dedupeTTL < 2*time.Hour {
		dedupeTTL = 2 * time.Hour
	}
	pipe.dedupe = scheduler.NewDedupe(0, dedupeTTL)

	status := server.NewStatus()
	ops := server.New(cfg.Ops, status, version)

	sweeper := scheduler.NewSweeper(interval,
		func(ctx context.Context) (scheduler.Outcome, error) {
			return pipe.sweep(ctx, lookback)
		},
		func(r scheduler.Result) {
			status.Record(toSummary(r))
		},
	)

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return exitInternal
	}
	tree.AddDetectionService(sweeper)
	tree.AddOpsService(ops)

	logging.Info().
		Dur("interval", interval).
		Str("ops_listen", cfg.Ops.Listen).
		Msg("Starting scheduled mode")

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished).
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Vigilo stopped gracefully")
	return exitOK
}

// toSummary adapts a sweep result for the ops status endpoint.
func toSummary(r scheduler.Result) server.Summary {
	sum := server.Summary{
		State:        "ok",
		RunID:        r.RunID,
		StartedAt:    r.StartedAt,
		DurationMS:   r.Duration.Milliseconds(),
		Findings:     r.Outcome.Findings,
		HighFindings: r.Outcome.HighFindings,
	}
	if r.Err != nil {
		sum.State = "error"
		sum.Error = r.Err.Error()
	}
	return sum
}

func countHigh(findings []models.Finding) int {
	n := 0
	for i := range findings {
		if findings[i].Severity == models.SeverityHigh {
			n++
		}
	}
	return n
}

// emailDomain returns the part after "@", lowercased.
func emailDomain(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[at+1:]
	}
	return ""
}
