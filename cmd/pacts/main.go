// Package main implements the pacts driver binary (spec.md §6): it reads a
// requirement file, plans it into one or more runs, drives each through the
// orchestrator graph against a connected browser, persists the result, and
// exits with a verdict-derived status code.
//
// Grounded in the teacher's cmd/nerd/main.go rootCmd pattern: a cobra root
// command whose PersistentPreRunE builds a *zap.Logger for process-level
// output and initializes the internal category logger for file telemetry,
// and whose PersistentPostRun syncs/closes both.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pacts/internal/browser"
	"pacts/internal/cache"
	"pacts/internal/config"
	"pacts/internal/logging"
	"pacts/internal/model"
	"pacts/internal/orchestrator"
	"pacts/internal/planner"
	"pacts/internal/store"
)

var (
	verbose    bool
	workspace  string
	configPath string
	reqID      string
	timeout    time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pacts",
	Short: "PACTS - Plan/Act/Cache/Triage/Synthesize web test runner",
	Long: `pacts drives an autonomous, self-healing web UI test from a plain-text
requirement file: it discovers elements by a resolution waterfall, executes
each step, heals selector drift through a reveal/reprobe/stabilize cycle,
classifies the outcome, and emits a replayable test artifact on success.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		} else if abs, err := filepath.Abs(ws); err == nil {
			ws = abs
		}
		level := "info"
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(ws, verbose, nil, level, false); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// exitCode is set by runCmd and consumed by main after Execute returns, so
// cobra's PersistentPostRun (logger sync, file-handle close) still runs
// before the process exits.
var exitCode int

var runCmd = &cobra.Command{
	Use:   "run <requirement-file>",
	Short: "Run a requirement file against a connected browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exitCode = runRequirement(args[0])
		return nil
	},
}

// cachePurgeCmd is the operator-command cache invalidation path: it empties
// the durable selector cache wholesale, e.g. after a known site redesign.
var cachePurgeCmd = &cobra.Command{
	Use:   "cache-purge",
	Short: "Invalidate every cached selector",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s, err := store.Open(cfg.Store.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		n, err := s.PurgeSelectorCache(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("selector cache purged", zap.Int64("entries", n))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pacts.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&reqID, "req-id", "", "override the generated req_id")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "run-level hard cap")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cachePurgeCmd)
}

// runRequirement executes the full driver pipeline for one requirement file
// and returns the process exit code spec.md §6 defines: 0 pass/healed, 1
// fail/blocked, 2 error.
func runRequirement(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read requirement file", zap.Error(err))
		return 2
	}

	req, err := planner.ParseRequirementFile(data)
	if err != nil {
		logger.Error("parse requirement file", zap.Error(err))
		return 2
	}
	if reqID != "" {
		req.ReqID = reqID
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", zap.Error(err))
		return 2
	}
	req.MaxHealRounds = cfg.Heal.MaxHealRounds

	s, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		logger.Error("open store", zap.Error(err))
		return 2
	}
	defer s.Close()

	c := cache.New(s)

	bcfg := browser.DefaultConfig()
	bcfg.DebuggerURL = cfg.Browser.DebuggerURL
	bcfg.Headless = cfg.Browser.Headless
	bcfg.Launch = cfg.Browser.Launch
	if cfg.Browser.ViewportWidth > 0 {
		bcfg.ViewportWidth = cfg.Browser.ViewportWidth
	}
	if cfg.Browser.ViewportHeight > 0 {
		bcfg.ViewportHeight = cfg.Browser.ViewportHeight
	}
	bcfg.NavigationTimeoutMs = cfg.Browser.NavigationTimeoutMs
	bcfg.StorageStatePath = cfg.Browser.StorageStatePath
	bcfg.FingerprintMitigations = cfg.Browser.FingerprintMitigations

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	d, err := browser.Connect(ctx, bcfg)
	if err != nil {
		logger.Error("connect to browser", zap.Error(err))
		return 2
	}
	defer d.Close()

	states := planner.Plan(req)
	for _, rs := range states {
		// The planner treats a non-positive MaxHealRounds as unset; an
		// operator-configured 0 (healing disabled) is applied here.
		if cfg.Heal.MaxHealRounds == 0 {
			rs.MaxHealRounds = 0
		}
	}

	worst := 0
	for _, rs := range states {
		worst = max(worst, runOne(ctx, d, c, s, req.URL, rs))
	}

	if cfg.Browser.StorageStatePath != "" {
		if err := d.SaveStorageState(cfg.Browser.StorageStatePath); err != nil {
			logger.Warn("save storage state", zap.Error(err))
		}
	}
	return worst
}

// runOne drives a single RunState through the orchestrator graph, persists
// its record, and returns its exit code contribution.
func runOne(ctx context.Context, d *browser.Driver, c *cache.Cache, s *store.Store, pageURL string, rs *model.RunState) int {
	g := orchestrator.New(d, c, pageURL)

	if err := g.Run(ctx, rs); err != nil {
		logger.Error("run", zap.String("req_id", rs.ReqID), zap.Error(err))
		rs.Verdict = model.VerdictError
	}

	if err := s.InsertRun(ctx, rs); err != nil {
		logger.Warn("persist run", zap.String("req_id", rs.ReqID), zap.Error(err))
	}
	for i, step := range rs.ExecutedSteps {
		if err := s.InsertStep(ctx, rs.ReqID, i, step); err != nil {
			logger.Warn("persist step", zap.String("req_id", rs.ReqID), zap.Error(err))
		}
	}
	if kind, ok := rs.Context["artifact_kind"].(string); ok {
		path := filepath.Join("artifacts", rs.ReqID+".txt")
		if src, ok := rs.Context["artifact_source"].(string); ok {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
				if err := os.WriteFile(path, []byte(src), 0o644); err == nil {
					_ = s.InsertArtifact(ctx, rs.ReqID, kind, path)
				}
			}
		}
	}

	logger.Info("run complete",
		zap.String("req_id", rs.ReqID),
		zap.String("verdict", string(rs.Verdict)),
		zap.String("rca", string(rs.RCA.Class)),
		zap.Int("heal_round", rs.HealRound),
	)

	switch rs.Verdict {
	case model.VerdictPass, model.VerdictHealed:
		return 0
	case model.VerdictFail, model.VerdictBlocked:
		return 1
	default:
		return 2
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
