// Hivemind CLI — инструмент командной строки для управления
// requests, proposals и schedules через HTTP API.
//
// Использование:
//
//	hivemind [--api-url URL] [--tenant ID] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	request   Управление analysis requests
//	proposal  Ревью proposed actions
//	schedule  Управление schedules
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Hivemind/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var tenantID string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "hivemind",
		Short:         "Hivemind CLI — hierarchical analysis orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", os.Getenv("HIVEMIND_TENANT"), "Tenant ID (X-Tenant-ID header)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, tenantID) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRequestCmd(clientFn, outputFn),
		cli.NewProposalCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
