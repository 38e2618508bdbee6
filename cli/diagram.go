package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/vineflow/gen"
)

// NewDiagramCmd creates the "diagram" subcommand.
func NewDiagramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagram <file>",
		Short: "Render a workflow as a Mermaid diagram",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiagram,
	}

	cmd.Flags().String("kind", "flowchart", "Diagram kind: flowchart | state")
	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")

	return cmd
}

func runDiagram(cmd *cobra.Command, args []string) error {
	kind, _ := cmd.Flags().GetString("kind")
	outputPath, _ := cmd.Flags().GetString("output")

	g, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	diagram, err := gen.Mermaid(g, gen.DiagramKind(kind))
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(diagram), 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), diagram)
	return nil
}
