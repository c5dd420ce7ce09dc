package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gemshare/gemshare/pkg/models"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show granted quota history",
	Long:  `Retrieve the record of granted GPU time slices from the scheduler admin API. Times are seconds since the scheduler started.`,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	var entries []models.HistoryEntry
	if err := fetchJSON("/history", &entries); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(entries)
	}
	if IsYAMLOutput() {
		return printYAML(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No history recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Container", "Start (s)", "End (s)", "Duration (ms)")

	for _, e := range entries {
		table.Append(
			e.Container,
			fmt.Sprintf("%.3f", e.Start),
			fmt.Sprintf("%.3f", e.End),
			fmt.Sprintf("%.1f", (e.End-e.Start)*1000),
		)
	}

	table.Render()
	fmt.Printf("\nTotal entries: %d\n", len(entries))

	return nil
}
