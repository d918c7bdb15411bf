// Command datapact is the process entrypoint for the contract service:
// it wires the policy catalog, validation engines, history store,
// metadata registry, and archive mirror, and exposes the lifecycle as
// subcommands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/datapact-labs/datapact/pkg/archive"
	"github.com/datapact-labs/datapact/pkg/builder"
	"github.com/datapact-labs/datapact/pkg/config"
	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/engine/rule"
	"github.com/datapact-labs/datapact/pkg/engine/semantic"
	"github.com/datapact-labs/datapact/pkg/history"
	"github.com/datapact-labs/datapact/pkg/llm"
	"github.com/datapact-labs/datapact/pkg/metadata"
	"github.com/datapact-labs/datapact/pkg/observability"
	"github.com/datapact-labs/datapact/pkg/orchestrator"
	"github.com/datapact-labs/datapact/pkg/policy"
	"github.com/datapact-labs/datapact/pkg/service"
)

const version = "0.3.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the subcommand and returns the process exit code:
// 0 ok, 1 runtime error, 2 usage.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	var rest []string
	if len(args) > 1 {
		cmd = args[1]
		rest = args[2:]
	}

	switch cmd {
	case "run":
		return cmdRun(stderr)
	case "publish":
		return cmdPublish(rest, stdout, stderr)
	case "validate":
		return cmdValidate(rest, stdout, stderr)
	case "get":
		return cmdGet(rest, stdout, stderr)
	case "log":
		return cmdLog(rest, stdout, stderr)
	case "diff":
		return cmdDiff(rest, stdout, stderr)
	case "datasets":
		return cmdDatasets(stdout, stderr)
	case "approve":
		return cmdApprove(rest, stdout, stderr)
	case "policies":
		return cmdPolicies(stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "datapact "+version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: datapact <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run                         Wire all subsystems and wait for signals (default)")
	fmt.Fprintln(w, "  publish -f <file>           Validate and commit a contract revision")
	fmt.Fprintln(w, "  validate -f <file>          Validate without committing")
	fmt.Fprintln(w, "  get <dataset> [version]     Print a committed contract")
	fmt.Fprintln(w, "  log [-n <limit>] [-since <commit>]  Show commit history, newest first")
	fmt.Fprintln(w, "  diff <a> <b> <dataset>      Unified diff of a dataset between two commits")
	fmt.Fprintln(w, "  datasets                    List registered datasets")
	fmt.Fprintln(w, "  approve [flags] <dataset> <consumer>  Publish a successor carrying the approved SLA")
	fmt.Fprintln(w, "  policies                    List the active policy catalog")
	fmt.Fprintln(w, "  version                     Print the build version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is taken from DATAPACT_*, LLM_*, SEMANTIC_*,")
	fmt.Fprintln(w, "LIMITER_*, ARCHIVE_*, and OTEL_* environment variables.")
}

// app holds the wired subsystems for one invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	catalog  *policy.Catalog
	orch     *orchestrator.Orchestrator
	svc      *service.Service
	meta     metadata.Store
	provider *observability.Provider
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	provider, err := observability.New(ctx, observability.Config{
		ServiceName:    "datapact",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return nil, err
	}

	catalog, err := policy.Open(cfg.PolicyDir, policy.Options{
		KnownPredicate: rule.KnownPredicate,
		Logger:         logger.With("component", "policy"),
	})
	if err != nil {
		return nil, err
	}

	meta, err := openMetadata(cfg)
	if err != nil {
		return nil, err
	}

	hist, err := history.Open(cfg.HistoryDir, logger.With("component", "history"))
	if err != nil {
		return nil, err
	}

	mirror, err := archive.New(ctx, archive.Config{
		Backend:   cfg.ArchiveBackend,
		Dir:       cfg.ArchiveDir,
		S3Bucket:  cfg.ArchiveS3Bucket,
		S3Region:  cfg.ArchiveS3Region,
		S3Prefix:  cfg.ArchiveS3Prefix,
		GCSBucket: cfg.ArchiveGCSBucket,
	})
	if err != nil {
		return nil, err
	}

	var client llm.Client = llm.NewHTTPClient(llm.HTTPConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.SemanticTimeout,
	})
	var limiter llm.LimiterStore
	if cfg.LimiterBackend == "redis" {
		limiter = llm.NewRedisLimiterStore(cfg.RedisAddr, "", 0)
	} else {
		limiter = llm.NewMemoryLimiterStore()
	}
	client = llm.NewRateLimitedClient(client, limiter,
		llm.RatePolicy{RPM: cfg.LLMRPM, Burst: cfg.LLMRPM}, "llm")

	sem := semantic.New(ctx, client, semantic.Options{
		Timeout:       cfg.SemanticTimeout,
		Fanout:        cfg.SemanticFanout,
		MaxInflight:   cfg.SemanticMaxInflight,
		ProbeInterval: cfg.SemanticProbeInterval,
		Logger:        logger.With("component", "semantic"),
	})

	orch := orchestrator.New(catalog, rule.New(logger.With("component", "rule")),
		sem, logger.With("component", "orchestrator"))

	svc := service.New(service.Options{
		Orchestrator: orch,
		History:      hist,
		Metadata:     meta,
		Archive:      mirror,
		Telemetry:    provider,
		Logger:       logger.With("component", "service"),
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog,
		orch:     orch,
		svc:      svc,
		meta:     meta,
		provider: provider,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.meta.Close(); err != nil {
		a.logger.Warn("metadata store close failed", "error", err)
	}
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

func openMetadata(cfg *config.Config) (metadata.Store, error) {
	switch cfg.MetadataDriver {
	case "memory":
		return metadata.NewMemory(), nil
	case "postgres":
		return metadata.OpenPostgres(cfg.DatabaseURL)
	default:
		return metadata.OpenSQLite(cfg.SQLitePath)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// cmdRun wires everything and blocks on signals. SIGHUP reloads the
// policy catalog; SIGINT/SIGTERM shut down with a telemetry flush.
func cmdRun(stderr io.Writer) int {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	snap := a.catalog.Snapshot()
	a.logger.Info("datapact ready",
		"policies", snap.Len(),
		"catalog", snap.Version(),
		"history", a.cfg.HistoryDir,
		"metadata", a.cfg.MetadataDriver,
		"archive", a.cfg.ArchiveBackend)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			if err := a.catalog.Reload(); err != nil {
				a.logger.Error("catalog reload failed", "error", err)
			}
			continue
		}
		a.logger.Info("shutting down", "signal", sig.String())
		break
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(shutCtx)
	return 0
}

func cmdPublish(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "-", "contract file, - for stdin")
	strategy := fs.String("strategy", string(contracts.StrategyAdaptive), "FAST|BALANCED|THOROUGH|ADAPTIVE")
	author := fs.String("author", "", "commit author")
	deadline := fs.Duration("deadline", 0, "validation deadline, 0 = none")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := readInput(*file)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer a.close(ctx)

	res, err := a.svc.CreateOrUpdateContract(ctx, service.Submission{
		Raw:      raw,
		Strategy: contracts.Strategy(strings.ToUpper(*strategy)),
		Author:   *author,
		Deadline: *deadline,
	})
	if res != nil && res.Report != nil {
		printReport(stdout, res.Report, *asJSON)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "published %s v%s (%s) commit %s\n",
		res.Contract.Dataset, res.Version, res.Change.Kind, res.CommitID[:12])
	return 0
}

func cmdValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "-", "contract file, - for stdin")
	strategy := fs.String("strategy", string(contracts.StrategyAdaptive), "FAST|BALANCED|THOROUGH|ADAPTIVE")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := readInput(*file)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer a.close(ctx)

	candidate, err := builder.Build(raw, builder.FormatAuto)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	predecessor, _, err := a.svc.GetContract(ctx, candidate.Dataset, "")
	if err != nil && !contracts.IsKind(err, contracts.KindNotFound) {
		fmt.Fprintln(stderr, err)
		return 1
	}

	report, err := a.orch.Validate(ctx, orchestrator.Request{
		Contract:    candidate,
		Predecessor: predecessor,
		Strategy:    contracts.Strategy(strings.ToUpper(*strategy)),
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	printReport(stdout, report, *asJSON)
	if report.Status == contracts.StatusFailed {
		return 1
	}
	return 0
}

func cmdGet(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: datapact get <dataset> [version]")
		return 2
	}
	dataset := args[0]
	ver := ""
	if len(args) > 1 {
		ver = args[1]
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer a.close(ctx)

	contract, _, err := a.svc.GetContract(ctx, dataset, ver)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	blob, _, err := a.svc.History().RefRead(ctx, history.RefName(dataset, contract.Version))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	stdout.Write(blob)
	return 0
}

func cmdLog(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("n", 20, "max commits, 0 = all")
	since := fs.String("since", "", "list only commits made after this commit id")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer a.close(ctx)

	commits, err := a.svc.History().Log(ctx, *limit, *since)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, c := range commits {
		author := c.Author
		if author == "" {
			author = "-"
		}
		fmt.Fprintf(stdout, "%s  %s  %-12s  %s\n",
			c.Short(), c.Timestamp.Format(time.RFC3339), author, c.Message)
	}
	return 0
}

func cmdDiff(args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		fmt.Fprintln(stderr, "Usage: datapact diff <commit-a> <commit-b> <dataset>")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer a.close(ctx)

	out, err := a.svc.History().Diff(ctx, args[0], args[1], args[2])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprint(stdout, out)
	return 0
}

func cmdDatasets(stdout, stderr io.Writer) int {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer a.close(ctx)

	rows, err := a.svc.ListDatasets(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, row := range rows {
		fmt.Fprintf(stdout, "%-32s  v%-10s  %-8s  %-8s  %s\n",
			row.Name, row.LastVersion, row.RiskLevel, row.Status, row.LastCommit[:12])
	}
	return 0
}

func cmdApprove(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	latency := fs.Int("latency-ms", 0, "latency target in milliseconds")
	availability := fs.Float64("availability", 0, "availability target within [0,1]")
	staleness := fs.Duration("max-staleness", 0, "maximum acceptable staleness")
	fields := fs.String("fields", "", "comma-separated approved fields")
	window := fs.String("window", "", "access window, e.g. business-hours")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(stderr, "Usage: datapact approve [flags] <dataset> <consumer>")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "startup:", err)
		return 1
	}
	defer a.close(ctx)

	sla := contracts.SubscriptionSLA{
		Consumer:           rest[1],
		LatencyTargetMs:    *latency,
		AvailabilityTarget: *availability,
		MaxStaleness:       contracts.Duration(*staleness),
		AccessWindow:       *window,
	}
	if *fields != "" {
		sla.ApprovedFields = strings.Split(*fields, ",")
	}

	res, err := a.svc.ApproveSubscription(ctx, rest[0], sla)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "approved %s for %s at v%s (commit %s)\n",
		rest[0], rest[1], res.Version, res.CommitID[:12])
	return 0
}

func cmdPolicies(stdout, stderr io.Writer) int {
	// The catalog needs no stores; load it directly.
	cfg := config.Load()
	catalog, err := policy.Open(cfg.PolicyDir, policy.Options{
		KnownPredicate: rule.KnownPredicate,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	snap := catalog.Snapshot()
	fmt.Fprintf(stdout, "catalog %s (%d policies)\n\n", snap.Version(), snap.Len())
	for _, p := range snap.Policies() {
		engine := "rule"
		if p.IsSemantic() {
			engine = "semantic"
		}
		fmt.Fprintf(stdout, "%-8s  %-8s  %-8s  %s\n", p.ID, engine, p.Severity, p.Description)
	}
	return 0
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printReport(w io.Writer, report *contracts.ValidationReport, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		return
	}
	fmt.Fprintf(w, "%s v%s: %s (%s", report.Dataset, report.Version,
		report.Status, report.Meta.StrategyExecuted)
	if report.Meta.DegradedFrom != "" {
		fmt.Fprintf(w, ", degraded from %s", report.Meta.DegradedFrom)
	}
	if report.Meta.DeadlineExceeded {
		fmt.Fprint(w, ", deadline exceeded")
	}
	fmt.Fprintln(w, ")")
	for _, f := range report.Findings {
		field := f.Field
		if field == "" {
			field = "-"
		}
		fmt.Fprintf(w, "  [%s] %-8s %-24s %s\n", f.Severity, f.PolicyID, field, f.Message)
	}
}
