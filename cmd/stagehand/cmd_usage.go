package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"stagehand/internal/usage"
)

// usageCmd prints the aggregated token usage ledger.
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show aggregated token usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, err := usage.NewTracker(workspace)
		if err != nil {
			return err
		}

		stats := tracker.Stats()

		fmt.Println(headerStyle.Render("Token usage"))
		fmt.Printf("  requests: %d\n", stats.Requests)
		fmt.Printf("  total:    %d prompt / %d completion / %d total\n",
			stats.Total.Prompt, stats.Total.Completion, stats.Total.Total)

		printBreakdown("By narrative", stats.ByNarrative)
		printBreakdown("By model", stats.ByModel)
		printBreakdown("By act", stats.ByAct)
		return nil
	},
}

func printBreakdown(title string, m map[string]usage.TokenCounts) {
	if len(m) == 0 {
		return
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(headerStyle.Render(title))
	for _, k := range keys {
		c := m[k]
		fmt.Printf("  %-40s %d total (%d prompt / %d completion)\n",
			k, c.Total, c.Prompt, c.Completion)
	}
}
