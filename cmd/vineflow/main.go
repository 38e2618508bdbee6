package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/petal-labs/vineflow/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	// Provider API keys may live in a local .env; a missing file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vineflow",
	Short: "Vineflow workflow engine CLI",
	Long:  "Vineflow — a CLI for defining, validating, diagramming, and running LLM workflows.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("vineflow version %s\n", version))

	rootCmd.AddCommand(cli.NewRunCmd())
	rootCmd.AddCommand(cli.NewValidateCmd())
	rootCmd.AddCommand(cli.NewDiagramCmd())
	rootCmd.AddCommand(cli.NewCodegenCmd())
	rootCmd.AddCommand(cli.NewScheduleCmd())
}
