// Package main is the entry point for the magpie CLI, the adaptive
// model-routing engine. It analyzes query complexity, selects models
// statically or adaptively, and tracks model performance over time.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/keruru-amuri/magpie-sub001/internal/complexity"
	"github.com/keruru-amuri/magpie-sub001/internal/config"
	"github.com/keruru-amuri/magpie-sub001/internal/engine"
	"github.com/keruru-amuri/magpie-sub001/internal/logging"
	"github.com/keruru-amuri/magpie-sub001/internal/registry"
	"github.com/keruru-amuri/magpie-sub001/internal/selector"
	"github.com/keruru-amuri/magpie-sub001/internal/tracker"
)

var (
	version = "0.1.0"
	cfgPath string
	dbPath  string
	verbose bool
	log     *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "magpie",
		Short: "Magpie - adaptive model routing engine",
		Long: `Magpie routes queries to the most suitable language model:
  • Complexity analysis across five scored dimensions
  • Static ranking by capability, performance, cost, and latency
  • Adaptive epsilon-greedy selection from measured performance
  • Usage tracking with windowed metric aggregation

Analyze a query:        magpie analyze "why is the sky blue"
Pick a model:           magpie select "refactor this function" --priority cost_sensitive
Inspect the catalog:    magpie models list`,
		PersistentPreRunE: initLogging,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.magpie/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default ~/.magpie/magpie.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Magpie v%s\n", version)
		},
	})

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(selectCmd())
	rootCmd.AddCommand(selectAdaptiveCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initLogging(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	logDir := filepath.Join(home, ".magpie", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
	}

	cfg := logging.DefaultConfig()
	cfg.Console = false
	cfg.FilePath = filepath.Join(logDir, "magpie.log")
	if verbose {
		cfg.Level = "debug"
		cfg.Console = true
	}

	log = logging.New(cfg)
	logging.SetGlobal(log)
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE SETUP
// ═══════════════════════════════════════════════════════════════════════════════

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	return cfg, nil
}

func openEngine() (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, log)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func parseCapabilities(raw []string) ([]registry.Capability, error) {
	caps := make([]registry.Capability, 0, len(raw))
	for _, r := range raw {
		c := registry.Capability(strings.TrimSpace(r))
		if !c.IsValid() {
			return nil, fmt.Errorf("unknown capability %q", r)
		}
		caps = append(caps, c)
	}
	return caps, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ANALYZE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func analyzeCmd() *cobra.Command {
	var history []string

	cmd := &cobra.Command{
		Use:   "analyze [query]",
		Short: "Score a query's complexity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			score, err := eng.AnalyzeComplexity(cmd.Context(), strings.Join(args, " "), history)
			if err != nil {
				return err
			}
			return printJSON(score)
		},
	}
	cmd.Flags().StringArrayVar(&history, "history", nil, "prior conversation turns (repeatable)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// SELECT COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func selectCmd() *cobra.Command {
	var (
		history  []string
		rawCaps  []string
		priority string
	)

	cmd := &cobra.Command{
		Use:   "select [query]",
		Short: "Analyze a query and pick the best model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := parseCapabilities(rawCaps)
			if err != nil {
				return err
			}
			mode, err := selector.ParsePriorityMode(priority)
			if err != nil {
				return err
			}

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			model, score, err := eng.SelectModel(cmd.Context(), strings.Join(args, " "), history, caps, mode)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"model":      model,
				"complexity": score,
			})
		},
	}
	cmd.Flags().StringArrayVar(&history, "history", nil, "prior conversation turns (repeatable)")
	cmd.Flags().StringSliceVar(&rawCaps, "capabilities", nil, "required capabilities (comma-separated)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority mode: cost_sensitive, performance_sensitive, latency_sensitive")
	return cmd
}

func selectAdaptiveCmd() *cobra.Command {
	var (
		level     string
		rawCaps   []string
		priority  string
		noExplore bool
	)

	cmd := &cobra.Command{
		Use:   "select-adaptive",
		Short: "Pick a model epsilon-greedily from measured performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := parseCapabilities(rawCaps)
			if err != nil {
				return err
			}
			mode, err := selector.ParsePriorityMode(priority)
			if err != nil {
				return err
			}
			lvl, err := parseLevel(level)
			if err != nil {
				return err
			}

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			model, err := eng.SelectModelAdaptive(cmd.Context(), lvl, caps, mode, !noExplore)
			if err != nil {
				return err
			}
			if model == nil {
				return fmt.Errorf("no candidate model matched the filters")
			}
			return printJSON(model)
		},
	}
	cmd.Flags().StringVar(&level, "level", "medium", "complexity level: simple, medium, complex")
	cmd.Flags().StringSliceVar(&rawCaps, "capabilities", nil, "required capabilities (comma-separated)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority mode: cost_sensitive, performance_sensitive, latency_sensitive")
	cmd.Flags().BoolVar(&noExplore, "no-explore", false, "disable epsilon exploration")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// USAGE AND FEEDBACK COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func recordCmd() *cobra.Command {
	var (
		in      tracker.UsageInput
		failed  bool
		quality float64
	)

	cmd := &cobra.Command{
		Use:   "record [model-id]",
		Short: "Record one observed model invocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			in.ModelID = args[0]
			in.Success = !failed
			if cmd.Flags().Changed("quality") {
				in.QualityScore = &quality
			}

			rec, err := eng.RecordUsage(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().IntVar(&in.InputTokens, "input-tokens", 0, "prompt tokens consumed")
	cmd.Flags().IntVar(&in.OutputTokens, "output-tokens", 0, "completion tokens produced")
	cmd.Flags().Int64Var(&in.LatencyMs, "latency", 0, "call latency in milliseconds")
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the call as failed")
	cmd.Flags().StringVar(&in.ErrorMessage, "error", "", "error message for failed calls")
	cmd.Flags().Float64Var(&quality, "quality", 0, "quality score 0-10")
	cmd.Flags().StringVar(&in.QueryID, "query-id", "", "originating query id")
	cmd.Flags().StringVar(&in.ConversationID, "conversation-id", "", "originating conversation id")
	cmd.Flags().StringVar(&in.Feedback, "feedback", "", "free-text feedback")
	return cmd
}

func feedbackCmd() *cobra.Command {
	var (
		failed  bool
		latency int64
		quality float64
	)

	cmd := &cobra.Command{
		Use:   "feedback [model-id]",
		Short: "Fold one outcome into a model's adaptive score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			var q *float64
			if cmd.Flags().Changed("quality") {
				q = &quality
			}
			if !eng.UpdateModelWeights(args[0], !failed, latency, q) {
				return fmt.Errorf("unknown model %q", args[0])
			}

			model := eng.Registry().Get(args[0])
			fmt.Printf("Updated %s: performance score %.3f\n", model.ID, model.PerformanceScore)
			return nil
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "mark the call as failed")
	cmd.Flags().Int64Var(&latency, "latency", 0, "call latency in milliseconds")
	cmd.Flags().Float64Var(&quality, "quality", 0, "quality score 0-10")
	return cmd
}

func aggregateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate usage records into windowed metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := eng.AggregateMetrics(cmd.Context(), force)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d metrics (%d pairs skipped)\n", res.MetricsWritten, res.PairsSkipped)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-aggregate even if run recently")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// MODELS COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "Inspect and administer the model catalog",
	}

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			models := eng.Registry().List(registry.ListFilter{ActiveOnly: !all})
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSIZE\tACTIVE\tPERF\tSUCCESS\tLATENCY(MS)\tCAPABILITIES")
			for _, m := range models {
				caps := make([]string, len(m.Capabilities))
				for i, c := range m.Capabilities {
					caps[i] = string(c)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%.1f\t%.2f\t%.0f\t%s\n",
					m.ID, m.Size, m.Active, m.PerformanceScore, m.SuccessRate,
					m.AverageLatencyMs, strings.Join(caps, ","))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "include deactivated models")
	cmd.AddCommand(listCmd)

	var window time.Duration
	showCmd := &cobra.Command{
		Use:   "show [model-id]",
		Short: "Show one model and its recent usage snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			model := eng.Registry().Get(args[0])
			if model == nil {
				return fmt.Errorf("unknown model %q", args[0])
			}
			snap, err := eng.ModelPerformance(cmd.Context(), args[0], window)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"model":    model,
				"snapshot": snap,
			})
		},
	}
	showCmd.Flags().DurationVar(&window, "window", 24*time.Hour, "snapshot window")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "activate [model-id]",
		Short: "Reactivate a model for selection",
		Args:  cobra.ExactArgs(1),
		RunE:  setActiveRunE(true),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "deactivate [model-id]",
		Short: "Remove a model from selection without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE:  setActiveRunE(false),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve [deployment-name]",
		Short: "Resolve an external deployment name to a model id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			id := eng.ResolveDeployment(args[0])
			if id == "" {
				return fmt.Errorf("no alias for %q", args[0])
			}
			fmt.Println(id)
			return nil
		},
	})

	return cmd
}

func setActiveRunE(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		var ok bool
		if active {
			ok = eng.Registry().Activate(args[0])
		} else {
			ok = eng.Registry().Deactivate(args[0])
		}
		if !ok {
			return fmt.Errorf("unknown model %q", args[0])
		}
		fmt.Printf("%s active=%t\n", args[0], active)
		return nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Println("Magpie Configuration:")
			fmt.Println("─────────────────────")
			fmt.Printf("Database Path:    %s\n", cfg.Storage.DBPath)
			fmt.Printf("Catalog Path:     %s\n", catalogOrDefault(cfg))
			fmt.Printf("Priority Mode:    %s\n", cfg.Selection.DefaultPriorityMode)
			fmt.Printf("Epsilon:          %g\n", cfg.Selection.Epsilon)
			fmt.Printf("Learning Rate:    %g\n", cfg.Selection.LearningRate)
			fmt.Printf("Refinement:       %t\n", cfg.Analyzer.RefinementEnabled)
			fmt.Printf("Log Level:        %s\n", cfg.Logging.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(getConfigPath())
		},
	})

	return cmd
}

func catalogOrDefault(cfg *config.Config) string {
	if cfg.Catalog.Path == "" {
		return "(embedded default)"
	}
	return cfg.Catalog.Path
}

func getConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".magpie", "config.yaml")
}

func parseLevel(s string) (complexity.Level, error) {
	switch s {
	case "simple", "medium", "complex":
		return complexity.Level(s), nil
	}
	return "", fmt.Errorf("unknown complexity level %q", s)
}
