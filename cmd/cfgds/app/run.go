package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/cfgds/internal/config"
	"github.com/zjy-dev/cfgds/internal/corpus"
	"github.com/zjy-dev/cfgds/internal/logger"
	"github.com/zjy-dev/cfgds/internal/oracle"
	"github.com/zjy-dev/cfgds/internal/report"
	"github.com/zjy-dev/cfgds/internal/search"
	"github.com/zjy-dev/cfgds/internal/telemetry"
)

// NewRunCommand creates the "run" subcommand.
func NewRunCommand() *cobra.Command {
	var (
		configName  string
		program     string
		packages    []string
		dir         string
		methods     []string
		timeLimit   time.Duration
		strategy    string
		outputDir   string
		parallelism int
		seed        uint64
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate inputs for the configured methods.",
		Long: `Generate test inputs that cover the branches of each target method.

This command:
  1. Loads the target program (YAML descriptor or Go packages)
  2. Builds a coverage graph per method
  3. Repeatedly forces the cheapest uncovered branch and follows static
     paths toward it, solving and executing each candidate
  4. Saves every input that covers a new branch to the corpus

The run resumes from the corpus in the output directory if one exists.

Output directory structure:
  {output}/
    ├── corpus/      # Generated inputs, one directory per method
    ├── coverage/    # Vertex-to-seed mappings
    ├── state/       # Run state (for resume)
    └── reports/     # Markdown coverage reports

Configuration:
  Default values are loaded from configs/<config>.yaml.
  Command line flags override the config file values.

Examples:
  # Explore every method of a descriptor
  cfgds run --program demo.yaml

  # Explore two methods of a Go package for one minute each
  cfgds run --packages ./pkg/... --method pkg.Parse --method pkg.Eval --time-limit 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadNamed(configName)
			if err != nil {
				if !config.IsNotFound(err) || cmd.Flags().Changed("config") {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = config.Default()
			}

			// Command line flags override config values
			if cmd.Flags().Changed("program") {
				cfg.Target.Program = program
				cfg.Target.Packages = nil
			}
			if cmd.Flags().Changed("packages") {
				cfg.Target.Packages = packages
				cfg.Target.Program = ""
			}
			if cmd.Flags().Changed("dir") {
				cfg.Target.Dir = dir
			}
			if cmd.Flags().Changed("method") {
				cfg.Target.Methods = methods
			}
			if cmd.Flags().Changed("time-limit") {
				cfg.Search.TimeLimit = timeLimit
			}
			if cmd.Flags().Changed("strategy") {
				cfg.Search.Strategy = strategy
			}
			if cmd.Flags().Changed("output") {
				cfg.Output.Dir = outputDir
			}
			if cmd.Flags().Changed("parallelism") {
				cfg.Search.Parallelism = parallelism
			}
			if cmd.Flags().Changed("seed") {
				cfg.Search.Seed = seed
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSearch(ctx, cmd, cfg)
		},
	}

	// Flags (these are placeholder defaults, actual defaults come from config)
	cmd.Flags().StringVar(&configName, "config", "config", "Config file name under configs/ (without extension)")
	cmd.Flags().StringVar(&program, "program", "", "YAML program descriptor")
	cmd.Flags().StringSliceVar(&packages, "packages", nil, "Go package patterns to load instead of a descriptor")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory the Go packages are loaded from")
	cmd.Flags().StringArrayVar(&methods, "method", nil, "Method to explore, Class.name (repeatable; default all)")
	cmd.Flags().DurationVar(&timeLimit, "time-limit", search.DefaultTimeLimit, "Time limit per method")
	cmd.Flags().StringVar(&strategy, "strategy", search.StrategyCFGDS, "Search strategy: cfgds or generational")
	cmd.Flags().StringVar(&outputDir, "output", "cfgds_out", "Output directory")
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "Methods searched concurrently")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (0 = time-based)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger.Init(cfg.Log.Level)
	logger.SetLevel(cfg.Log.Level)
	if cfg.Log.Dir != "" {
		if err := logger.InitWithFile(cfg.Log.Level, cfg.Log.Dir); err != nil {
			return err
		}
		defer logger.Close()
		logger.Info("[Run] Logging to %s", logger.GetLogFilePath())
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "cfgds",
		ServiceVersion: Version,
		Traces:         cfg.Telemetry.Traces,
		Metrics:        cfg.Telemetry.Metrics,
		MetricsFile:    cfg.Telemetry.MetricsFile,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("[Run] Telemetry shutdown: %v", err)
		}
	}()

	// 1. Load the target
	program, err := loadProgram(cfg.Target)
	if err != nil {
		return err
	}
	methods, err := selectMethods(program, cfg.Target.Methods)
	if err != nil {
		return err
	}
	logger.Info("[Run] Target: %d methods", len(methods))
	logger.Info("[Run] Output directory: %s", cfg.Output.Dir)

	// 2. Create the oracle backends
	solver, err := oracle.NewSolver(cfg.Oracle.Solver, cfg.Oracle.Options)
	if err != nil {
		return fmt.Errorf("failed to create solver: %w", err)
	}
	materializer, err := oracle.NewMaterializer(cfg.Oracle.Materializer, cfg.Oracle.Options)
	if err != nil {
		return fmt.Errorf("failed to create materializer: %w", err)
	}
	runner, err := oracle.NewRunner(cfg.Oracle.Runner, program, cfg.Oracle.Options)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	logger.Info("[Run] Oracle: solver %s, materializer %s, runner %s", cfg.Oracle.Solver, cfg.Oracle.Materializer, cfg.Oracle.Runner)

	// 3. Initialize the corpus and recover earlier seeds
	corpusManager := corpus.NewFileManager(cfg.Output.Dir)
	if err := corpusManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize corpus: %w", err)
	}
	if err := corpusManager.Recover(); err != nil {
		return fmt.Errorf("failed to recover corpus: %w", err)
	}
	if n := corpusManager.Len(); n > 0 {
		logger.Info("[Run] Found %d seeds in the corpus, resuming...", n)
	}

	// 4. Create the search engine
	engine, err := search.NewEngine(search.Config{
		Oracle:              oracle.New(solver, materializer, runner, cfg.Oracle.Timeout),
		Corpus:              corpusManager,
		Strategy:            cfg.Search.Strategy,
		MaxFailedIterations: cfg.Search.MaxFailedIterations,
		TimeLimit:           cfg.Search.TimeLimit,
		InitialAttempts:     cfg.Search.InitialAttempts,
		MaxNonImproving:     cfg.Search.MaxNonImproving,
		MaxSAPPaths:         cfg.Search.MaxSAPPaths,
		TieBreak:            cfg.Search.TieBreak,
		Seed:                int64(cfg.Search.Seed),
		Parallelism:         cfg.Search.Parallelism,
		CallDepth:           cfg.Search.CallDepth,
		OverrideScope:       cfg.Target.OverrideScope,
	})
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}

	// 5. Run the search
	start := time.Now()
	results, runErr := engine.Run(ctx, methods)
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}

	// 6. Report
	run := &report.Run{
		ID:        corpusManager.GetStateManager().GetState().RunID,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	for _, r := range results {
		if r != nil {
			run.Results = append(run.Results, r)
		}
	}
	if cfg.Output.Report {
		path, err := report.NewMarkdownReporter(filepath.Join(cfg.Output.Dir, "reports")).Save(run)
		if err != nil {
			return err
		}
		logger.Info("[Run] Report written to %s", path)
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Summary(run))

	if runErr != nil {
		logger.Warn("[Run] Interrupted: %v", runErr)
	}
	return nil
}
