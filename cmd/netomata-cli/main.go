// Netomata CLI — инструмент командной строки для задач изменения
// конфигурации через HTTP API.
//
// Использование:
//
//	netomata [--api-url URL] [--user NAME] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task  Управление задачами деплоя и отката
//	otp   Ввод OTP-кодов групп устройств
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Netomata/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var user string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "netomata",
		Short:         "Netomata CLI — network change orchestration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultUser := os.Getenv("NETOMATA_USER")
	if defaultUser == "" {
		defaultUser = os.Getenv("USER")
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&user, "user", defaultUser, "Operator name sent as X-User")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, user) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewOTPCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
