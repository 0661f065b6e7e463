package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stagehand/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string
	apiKey    string
	model     string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "stagehand - Narrative Execution Engine",
	Long: `stagehand runs narrative documents: named, ordered workflows of acts
where each act assembles heterogeneous inputs (text, media, bot commands,
table snapshots, nested narratives) into a prompt and produces one
generation call.

Narratives live as YAML documents in a library directory. Executions and
act output tables persist to SQLite; carousel runs fan one act out into
budget-gated parallel iterations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "LLM API key (overrides config and environment)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model override")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall execution timeout (0 = none)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(carouselCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}
