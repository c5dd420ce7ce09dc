package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gemshare/gemshare/pkg/models"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate scheduler statistics",
	Long:  `Retrieve token, quota and host statistics from the scheduler admin API.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats models.SchedulerStats
	if err := fetchJSON("/stats", &stats); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(stats)
	}
	if IsYAMLOutput() {
		return printYAML(stats)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")

	table.Append([]string{"Started", stats.StartedAt.Format(time.RFC3339)})
	table.Append([]string{"Uptime", fmt.Sprintf("%.0f s", stats.UptimeSeconds)})
	table.Append([]string{"Clients", fmt.Sprintf("%d", stats.Clients)})
	table.Append([]string{"Waiting candidates", fmt.Sprintf("%d", stats.CandidatesWaiting)})
	table.Append([]string{"Active tokens", fmt.Sprintf("%d", stats.ActiveTokens)})
	table.Append([]string{"SM occupied", fmt.Sprintf("%d%%", stats.SMOccupied)})
	table.Append([]string{"Tokens granted", fmt.Sprintf("%d", stats.TokensGranted)})
	table.Append([]string{"Quota granted", fmt.Sprintf("%.1f ms", stats.QuotaGrantedMS)})
	table.Append([]string{"Forced expiries", fmt.Sprintf("%d", stats.ForcedExpiries)})
	table.Append([]string{"Config reloads", fmt.Sprintf("%d", stats.ConfigReloads)})

	if stats.Host != nil {
		table.Append([]string{"Host", stats.Host.Hostname})
		table.Append([]string{"Host CPU", fmt.Sprintf("%.1f%%", stats.Host.CPUPercent)})
		table.Append([]string{"Host memory", fmt.Sprintf("%s / %s",
			formatBytes(stats.Host.MemUsedBytes), formatBytes(stats.Host.MemTotalBytes))})
	}

	table.Render()

	return nil
}
