package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sells-group/trackscout/internal/budget"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show the configured per-provider request budgets",
	RunE: func(cmd *cobra.Command, args []string) error {
		bm := budget.NewManager(budget.LimitsFromConfig(cfg.Providers))
		fmt.Fprintln(cmd.OutOrStdout(), renderBudget(bm.Statuses()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}

func renderBudget(statuses []budget.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{
			s.Provider,
			usage(s.UsedThisMinute, s.MinuteLimit),
			usage(s.UsedToday, s.DayLimit),
		})
	}
	return renderTable([]string{"Provider", "Minute", "Day"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight})
}

// usage renders used/limit, with "unlimited" for a zero limit.
func usage(used, limit int) string {
	if limit <= 0 {
		return strconv.Itoa(used) + " / unlimited"
	}
	return fmt.Sprintf("%d / %d", used, limit)
}
