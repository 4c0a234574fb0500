// Harvest CLI — отправка решений и диагностика оркестратора через HTTP API.
//
// Использование:
//
//	harvest [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	decision   Отправка решений
//	execution  Просмотр выполнений
//	breaker    Circuit breakers
//	lock       Распределённые блокировки
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Harvest/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "harvest",
		Short:         "Harvest CLI — reliable scraper workflow orchestration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8083"
	if v := os.Getenv("HARVEST_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "Orchestrator API URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewDecisionCmd(clientFn, outputFn),
		cli.NewExecutionCmd(clientFn, outputFn),
		cli.NewBreakerCmd(clientFn, outputFn),
		cli.NewLockCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
