package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/canvasflow/canvasflow/config"
	"github.com/canvasflow/canvasflow/cost"
	"github.com/canvasflow/canvasflow/internal/telemetry"
	"github.com/canvasflow/canvasflow/types"
	"github.com/canvasflow/canvasflow/workflow"
)

// Build metadata, injected at link time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runExecute(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowPath := fs.String("workflow", "", "Definition to mirror from the remote event stream")
	fs.Parse(args)

	cfg, loader := loadConfig(*configPath)

	logger, logLevel := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting canvasflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	server := NewServer(cfg, *workflowPath, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// With a config file on disk, pick up edits without a restart. Only
	// the log level is applied live; other settings need a restart.
	if *configPath != "" {
		watcher, err := config.NewWatcher(loader, cfg, config.WithWatcherLogger(logger))
		if err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		} else {
			watcher.OnReload(func(old, updated *config.Config) {
				if old.Log.Level != updated.Log.Level {
					logLevel.SetLevel(parseLogLevel(updated.Log.Level))
					logger.Info("log level updated", zap.String("level", updated.Log.Level))
				}
			})
			if err := watcher.Start(context.Background()); err != nil {
				logger.Warn("failed to start config watcher", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}
	}

	server.WaitForShutdown()

	if otelProviders != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	logger.Info("canvasflow stopped")
}

func runExecute(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow-id", "", "Workflow id stamped on the run (defaults to the definition name)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: canvasflow run [options] <definition file>")
		os.Exit(1)
	}

	cfg, _ := loadConfig(*configPath)
	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	def, err := workflow.LoadDefinition(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load definition: %v\n", err)
		os.Exit(1)
	}
	graph, err := def.BuildGraph()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid definition: %v\n", err)
		os.Exit(1)
	}

	id := *workflowID
	if id == "" {
		id = def.Name
	}

	engine := newEngineFromConfig(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := engine.Execute(ctx, id, graph)
	if err != nil && !types.IsCode(err, types.ErrRunCancelled) {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}

	printRunSummary(snap)
	if snap.Status != workflow.RunStatusCompleted {
		os.Exit(1)
	}
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: canvasflow validate <definition file>")
		os.Exit(1)
	}

	def, err := workflow.LoadDefinition(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load definition: %v\n", err)
		os.Exit(1)
	}
	graph, err := def.BuildGraph()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid definition: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: valid (%d nodes, %d edges)\n", def.Name, graph.NodeCount(), graph.EdgeCount())
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("CanvasFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`CanvasFlow - Workflow Execution Service

Usage:
  canvasflow <command> [options]

Commands:
  serve     Start the CanvasFlow server
  run       Execute a workflow definition locally
  validate  Check a workflow definition
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)
  --workflow <path>   Definition to mirror from the remote event stream

Options for 'run':
  --config <path>       Path to configuration file (YAML)
  --workflow-id <id>    Workflow id stamped on the run

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate steps <n> Apply n migrations (negative rolls back)
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations
  migrate info      Show database and migration details

Examples:
  canvasflow serve --config /etc/canvasflow/config.yaml
  canvasflow serve --workflow render-pipeline.yaml
  canvasflow run render-pipeline.yaml
  canvasflow validate render-pipeline.yaml
  canvasflow migrate up
  canvasflow health --addr http://localhost:8080`)
}

// loadConfig resolves and validates configuration, exiting on failure.
// The loader is returned alongside the config so serve can hand it to a
// file watcher.
func loadConfig(path string) (*config.Config, *config.Loader) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg, loader
}

func parseLogLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLogLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            level,
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    !cfg.EnableCaller,
	}

	var buildOpts []zap.Option
	if cfg.EnableStacktrace {
		buildOpts = append(buildOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(buildOpts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}

// newEngineFromConfig assembles the simulated executor and the engine
// the way the configuration describes them. Extra options attach server
// hooks; the run subcommand uses the engine bare.
func newEngineFromConfig(cfg *config.Config, logger *zap.Logger, extra ...workflow.EngineOption) *workflow.Engine {
	est := cost.NewEstimator()
	execOpts := []workflow.SimulatedExecutorOption{
		workflow.WithExecutorLogger(logger),
		workflow.WithTokenEstimator(est.TokenEstimator(cfg.Engine.DefaultModel, cost.DefaultPriceTable())),
	}
	if cfg.Engine.Latency > 0 {
		execOpts = append(execOpts, workflow.WithLatency(cfg.Engine.Latency))
	}
	if cfg.Engine.RateLimitRPS > 0 {
		execOpts = append(execOpts, workflow.WithRateLimit(cfg.Engine.RateLimitRPS, cfg.Engine.RateLimitBurst))
	}
	executor := workflow.NewSimulatedExecutor(
		workflow.FlakyOutcomes(cfg.Engine.FailureRate, time.Now().UnixNano()),
		execOpts...,
	)

	opts := append([]workflow.EngineOption{
		workflow.WithEngineLogger(logger),
		workflow.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
	}, extra...)
	return workflow.NewEngine(executor, opts...)
}

// printRunSummary renders a finished run for the terminal.
func printRunSummary(snap workflow.RunSnapshot) {
	fmt.Printf("Run %s (%s)\n", snap.RunID, snap.WorkflowID)
	fmt.Printf("  Status:    %s\n", snap.Status)
	fmt.Printf("  Steps:     %d/%d completed\n", snap.CompletedCount, len(snap.Nodes))
	fmt.Printf("  Duration:  %s\n", snap.FinishedAt.Sub(snap.StartedAt).Round(time.Millisecond))
	if snap.TokensUsed > 0 {
		fmt.Printf("  Tokens:    %d ($%.4f)\n", snap.TokensUsed, snap.CostUSD)
	}
	if snap.Error != "" {
		fmt.Printf("  Error:     %s\n", snap.Error)
	}
	fmt.Println()

	for _, node := range snap.Nodes {
		line := fmt.Sprintf("  %-8s %s", statusMark(node.Status), node.ID)
		if node.Duration > 0 {
			line += fmt.Sprintf("  %s", node.Duration.Round(time.Millisecond))
		}
		if node.RetryCount > 0 {
			line += fmt.Sprintf("  retries=%d", node.RetryCount)
		}
		if node.Error != "" {
			line += "  error=" + node.Error
		}
		fmt.Println(line)
	}
}

func statusMark(status workflow.NodeStatus) string {
	switch status {
	case workflow.StatusSuccess:
		return "ok"
	case workflow.StatusError:
		return "failed"
	case workflow.StatusSkipped:
		return "skipped"
	default:
		return string(status)
	}
}
