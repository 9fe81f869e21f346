package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refactorswarm/internal/checks"
	"github.com/lucasnoah/refactorswarm/internal/config"
	"github.com/lucasnoah/refactorswarm/internal/db"
	"github.com/lucasnoah/refactorswarm/internal/logger"
	"github.com/lucasnoah/refactorswarm/internal/oracle"
	"github.com/lucasnoah/refactorswarm/internal/orchestrator"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Audit, test and repair a Python source tree",
	Long: `Runs the full refactoring loop over --target-dir:

  DISCOVER → AUDIT → GENERATE_TESTS → (FIX → VALIDATE → DECIDE)* → DONE | FAILED

Exit status is 0 when the run succeeds, 1 when it fails or errors, and 130
when it is interrupted. An interrupt is honoured at the next phase boundary;
a partial report is still written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target-dir")

		errs := config.Validate(cfg)
		errs = append(errs, config.CheckCredentials(cfg, os.LookupEnv)...)
		if err := config.AsError(errs); err != nil {
			return err
		}

		logOut, closeLog, err := logWriter(cmd.ErrOrStderr(), cfg.Log.File)
		if err != nil {
			return err
		}
		defer closeLog()
		log := logger.NewConsoleLogger(logOut, cfg.Log.Level)

		store, err := pipeline.DefaultStore(cfg.StateDir)
		if err != nil {
			return err
		}

		history, err := openHistory(cfg)
		if err != nil {
			log.Warnf("run history disabled: %v", err)
		}
		if history != nil {
			defer history.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orch := orchestrator.New(cfg, buildDeps(ctx, cfg, store, history, log))
		report, runErr := orch.Run(ctx, target)
		if report != nil {
			fmt.Fprintln(cmd.OutOrStdout(), RenderSummary(report))
			fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", filepath.Join(store.RunDir(report.RunID), "report.json"))
		}
		if runErr != nil {
			return runErr
		}
		if !report.Success {
			return ErrRunFailed
		}
		return nil
	},
}

// applyRunFlags lets explicitly set flags override the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.SwarmConfig) error {
	flags := cmd.Flags()
	if flags.Changed("max-iterations") {
		cfg.MaxIterations, _ = flags.GetInt("max-iterations")
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if flags.Changed("threshold") {
		cfg.SuccessThreshold, _ = flags.GetFloat64("threshold")
	}
	if flags.Changed("provider") {
		cfg.Oracle.Provider, _ = flags.GetString("provider")
		cfg.Oracle.Model = ""
		cfg.Oracle.APIKeyEnv = ""
		config.ApplyDefaults(cfg)
	}
	if flags.Changed("model") {
		cfg.Oracle.Model, _ = flags.GetString("model")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("no-lint") {
		cfg.StaticAnalysis.Enabled = false
	}
	return nil
}

// buildDeps wires the production collaborators.
func buildDeps(ctx context.Context, cfg *config.SwarmConfig, store *pipeline.Store, history *db.DB, log logger.Logger) orchestrator.Deps {
	runner := checks.NewRunner(&checks.ExecRunner{})

	var analyzer checks.StaticAnalyzer = checks.NoopAnalyzer{}
	if cfg.StaticAnalysis.Enabled {
		analyzer = checks.NewPylintAnalyzer(runner, cfg.StaticAnalysis.Command, cfg.LintTimeout())
	}

	return orchestrator.Deps{
		NewOracle: func(env orchestrator.RunEnv) (oracle.Oracle, error) {
			gen, err := oracle.NewGenerator(ctx, cfg.Oracle, os.LookupEnv)
			if err != nil {
				return nil, err
			}
			log.Infof("oracle: %s %s", gen.Provider(), gen.Model())
			return oracle.New(gen, oracle.Options{
				TemplateDir:       filepath.Join(cfg.StateDir, "templates"),
				RequestsPerMinute: cfg.Oracle.RequestsPerMinute,
				ParseRetries:      cfg.Oracle.ParseRetries,
				MaxSourceChars:    cfg.Oracle.MaxSourceChars,
				Timeout:           cfg.OracleTimeout(),
				RunLog:            env.RunLog,
				Metrics:           env.Metrics,
				Log:               log,
			}), nil
		},
		Analyzer: analyzer,
		Tests:    checks.NewPytestExecutor(runner, cfg.Tests.Command, cfg.TestTimeout()),
		Store:    store,
		DB:       history,
		Log:      log,
	}
}

// openHistory opens and migrates the run-history database. It returns nil
// when history is disabled.
func openHistory(cfg *config.SwarmConfig) (*db.DB, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	dsn := cfg.History.DSN
	if dsn == "" {
		path, err := db.DefaultDBPath(cfg.StateDir)
		if err != nil {
			return nil, err
		}
		dsn = path
	}
	d, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// logWriter returns w, or w tee'd into path when path is set.
func logWriter(w io.Writer, path string) (io.Writer, func(), error) {
	if path == "" {
		return w, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return io.MultiWriter(w, f), func() { f.Close() }, nil
}

func init() {
	f := runCmd.Flags()
	f.String("target-dir", "", "directory of Python sources to repair (required)")
	f.Int("max-iterations", 3, "maximum fix/validate iterations")
	f.Int("max-retries", 2, "retries per file when a candidate is rejected")
	f.Float64("threshold", 1.0, "minimum pass rate (0..1) for success after the last iteration")
	f.String("provider", "", "oracle provider: gemini, openai or ollama")
	f.String("model", "", "oracle model name")
	f.String("log-level", "", "console log level: trace, debug, info, warn, error")
	f.Bool("no-lint", false, "skip static analysis during the audit")
	_ = runCmd.MarkFlagRequired("target-dir")
}
