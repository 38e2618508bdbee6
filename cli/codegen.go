package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/vineflow/gen"
)

// NewCodegenCmd creates the "codegen" subcommand.
func NewCodegenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codegen <file>",
		Short: "Generate a standalone Go program that rebuilds the workflow",
		Args:  cobra.ExactArgs(1),
		RunE:  runCodegen,
	}

	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().String("module", "", "Module path to import in the generated program")

	return cmd
}

func runCodegen(cmd *cobra.Command, args []string) error {
	outputPath, _ := cmd.Flags().GetString("output")
	modulePath, _ := cmd.Flags().GetString("module")

	g, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	var opts []gen.ProgramOption
	if modulePath != "" {
		opts = append(opts, gen.WithModulePath(modulePath))
	}

	program, err := gen.Program(g, opts...)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(program), 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), program)
	return nil
}
