package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/vineflow/validate"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow file without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()

	g, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	issues := validate.Check(g)

	if format == "json" {
		printIssuesJSON(out, issues)
	} else {
		printIssuesText(out, issues)
	}

	hasErrs := validate.HasErrors(issues)
	hasWarns := len(validate.Warnings(issues)) > 0
	if hasErrs || (strict && hasWarns) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// printIssuesText writes issues as formatted text lines followed by a
// summary. Used by both the validate and run commands.
func printIssuesText(w io.Writer, issues []validate.Issue) {
	for _, issue := range issues {
		sev := strings.ToUpper(string(issue.Severity))
		if issue.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, issue.Code, issue.Message, issue.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, issue.Code, issue.Message)
		}
	}

	errs := validate.Errors(issues)
	warns := validate.Warnings(issues)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0 && len(warns) > 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func printIssuesJSON(w io.Writer, issues []validate.Issue) {
	// Output an empty array rather than null when there are no issues.
	if issues == nil {
		issues = []validate.Issue{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(issues)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
