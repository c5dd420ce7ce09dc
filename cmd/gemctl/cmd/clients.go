package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/gemshare/gemshare/pkg/models"
)

// clientsCmd represents the clients command
var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Inspect scheduler clients",
	Long:  `Commands for listing and describing the GPU clients known to the scheduler.`,
}

// clientsListCmd represents the clients list command
var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configured clients",
	Long:  `Retrieve and display all clients from the scheduler admin API, with their limits and live usage.`,
	RunE:  runClientsList,
}

// clientsDescribeCmd represents the clients describe command
var clientsDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Get detailed state for one client",
	Long:  `Retrieve the configured limits, current quota and memory accounting for a specific client.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runClientsDescribe,
}

func init() {
	rootCmd.AddCommand(clientsCmd)
	clientsCmd.AddCommand(clientsListCmd)
	clientsCmd.AddCommand(clientsDescribeCmd)
}

func runClientsList(cmd *cobra.Command, args []string) error {
	var clients []models.ClientStatus
	if err := fetchJSON("/clients", &clients); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(clients)
	}
	if IsYAMLOutput() {
		return printYAML(clients)
	}

	if len(clients) == 0 {
		fmt.Println("No clients configured")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Min", "Max", "SM %", "Mem Limit", "Mem Used", "Quota (ms)", "State")

	for _, c := range clients {
		table.Append(
			c.Name,
			fmt.Sprintf("%.2f", c.MinFraction),
			fmt.Sprintf("%.2f", c.MaxFraction),
			fmt.Sprintf("%d", c.SMPartition),
			formatBytes(c.MemLimitBytes),
			formatBytes(c.MemUsedBytes),
			fmt.Sprintf("%.1f", c.QuotaMS),
			clientState(c),
		)
	}

	table.Render()
	fmt.Printf("\nTotal clients: %d\n", len(clients))

	return nil
}

func runClientsDescribe(cmd *cobra.Command, args []string) error {
	name := args[0]

	var client models.ClientStatus
	if err := fetchJSON("/clients/"+name, &client); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(client)
	}
	if IsYAMLOutput() {
		return printYAML(client)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")

	table.Append([]string{"Name", client.Name})
	table.Append([]string{"Min fraction", fmt.Sprintf("%.2f", client.MinFraction)})
	table.Append([]string{"Max fraction", fmt.Sprintf("%.2f", client.MaxFraction)})
	table.Append([]string{"SM partition", fmt.Sprintf("%d%%", client.SMPartition)})
	table.Append([]string{"Memory limit", formatBytes(client.MemLimitBytes)})
	table.Append([]string{"Memory used", formatBytes(client.MemUsedBytes)})
	table.Append([]string{"Quota", fmt.Sprintf("%.1f ms", client.QuotaMS)})
	table.Append([]string{"Burst", fmt.Sprintf("%.1f ms", client.BurstMS)})
	table.Append([]string{"Overuse", fmt.Sprintf("%.1f ms", client.OveruseMS)})
	table.Append([]string{"Window usage", fmt.Sprintf("%.1f ms", client.UsageMS)})
	table.Append([]string{"State", clientState(client)})

	table.Render()

	return nil
}

// clientState reduces the token flags to a single display word.
func clientState(c models.ClientStatus) string {
	switch {
	case c.HoldingToken:
		return "holding token"
	case c.Waiting:
		return "waiting"
	default:
		return "idle"
	}
}
