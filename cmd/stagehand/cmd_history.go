package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd shows recent executions from the store.
var historyCmd = &cobra.Command{
	Use:   "history [execution-id]",
	Short: "Show recent executions, or one execution in full",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if len(args) == 1 {
			exec, err := a.store.GetExecution(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(renderExecution(exec))
			return nil
		}

		execs, err := a.store.ListExecutions(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			fmt.Println(dimStyle.Render("no executions recorded"))
			return nil
		}
		for _, exec := range execs {
			fmt.Println(renderExecutionSummary(&exec))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of executions to show")
}
