package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stagehand/internal/engine"
	"stagehand/internal/narrative"
)

// runCmd executes one narrative from the library.
var runCmd = &cobra.Command{
	Use:   "run [narrative]",
	Short: "Execute a narrative from the library",
	Long: `Executes every act of the named narrative in TOC order. The full
execution record, including per-act prompts, responses, and token usage,
is persisted and printed.

Example:
  stagehand run weekly-digest`,
	Args: cobra.ExactArgs(1),
	RunE: runNarrative,
}

// carouselCmd executes one narrative with a target act fanned out.
var carouselCmd = &cobra.Command{
	Use:   "carousel [narrative] [act]",
	Short: "Execute a narrative with one act run as a budget-gated carousel",
	Long: `Runs the narrative like run, but delegates the target act to the
carousel controller: up to the configured iteration count run concurrently,
each gated by an all-or-nothing budget reservation against the provider
rate limits. The aggregate result stands in as the act's single outcome.

Example:
  stagehand carousel story-batch draft`,
	Args: cobra.ExactArgs(2),
	RunE: runCarousel,
}

var carouselIterations int

func init() {
	carouselCmd.Flags().IntVarP(&carouselIterations, "iterations", "n", 0,
		"Override the carousel iteration count (0 = use the document's config)")
}

func runNarrative(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.library.Load(args[0])
	if err != nil {
		return err
	}

	logger.Info("executing narrative",
		zap.String("narrative", n.Name),
		zap.Int("acts", len(n.TOC)))

	execCtx, execCancel := execContext(ctx)
	defer execCancel()

	exec, execErr := a.executor.Execute(execCtx, n)
	if exec != nil {
		fmt.Println(renderExecution(exec))
	}
	return execErr
}

func runCarousel(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.library.Load(args[0])
	if err != nil {
		return err
	}

	logger.Info("executing carousel",
		zap.String("narrative", n.Name),
		zap.String("target", args[1]))

	execCtx, execCancel := execContext(ctx)
	defer execCancel()

	var exec *engine.NarrativeExecution
	var execErr error
	if carouselIterations > 0 {
		cfg := carouselConfigFor(n, args[1])
		cfg.Iterations = carouselIterations
		exec, execErr = a.executor.ExecuteCarouselWith(execCtx, n, args[1], cfg)
	} else {
		exec, execErr = a.executor.ExecuteCarousel(execCtx, n, args[1])
	}
	if exec != nil {
		fmt.Println(renderExecution(exec))
	}
	return execErr
}

// carouselConfigFor returns the document's effective carousel config for the
// act, or a zero config when the document declares none.
func carouselConfigFor(n *narrative.Narrative, act string) narrative.CarouselConfig {
	if cfg, ok := n.Act(act); ok && cfg.Carousel != nil {
		return *cfg.Carousel
	}
	if n.Carousel != nil {
		return *n.Carousel
	}
	return narrative.CarouselConfig{}
}

// signalContext cancels on SIGINT/SIGTERM so in-flight iterations can
// finish their join phase cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
