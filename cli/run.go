package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	vineflow "github.com/petal-labs/vineflow"
	"github.com/petal-labs/vineflow/config"
	"github.com/petal-labs/vineflow/core"
	"github.com/petal-labs/vineflow/engine"
	"github.com/petal-labs/vineflow/journal"
	"github.com/petal-labs/vineflow/llm"
	vineotel "github.com/petal-labs/vineflow/otel"
	"github.com/petal-labs/vineflow/validate"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("input", "i", "", "Initial context as inline JSON")
	cmd.Flags().StringP("input-file", "f", "", "Initial context from a JSON file")
	cmd.Flags().StringP("output", "o", "", "Write result to file (default: stdout)")
	cmd.Flags().String("format", "pretty", "Output format: json | text | pretty")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().String("provider", "", "LLM provider name (default: config default_provider)")
	cmd.Flags().String("model", "", "Default model for llm nodes")
	cmd.Flags().String("journal", "", "Journal SQLite path (default: config journal.path)")
	cmd.Flags().Bool("trace", false, "Emit OpenTelemetry spans to stderr")
	cmd.Flags().Int("max-hops", engine.DefaultMaxHops, "Abort runs exceeding this many node executions")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	g, err := loadGraph(args[0])
	if err != nil {
		return err
	}
	if issues := validate.Check(g); validate.HasErrors(issues) {
		printIssuesText(cmd.ErrOrStderr(), validate.Errors(issues))
		return exitError(exitValidation, "validation failed")
	}

	initial, err := buildInitialContext(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load("")
	if err != nil {
		return exitError(exitProvider, "%v", err)
	}

	opts, cleanup, err := buildEngineOptions(cmd, cfg, g)
	if err != nil {
		return err
	}
	defer cleanup()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	result, err := engine.New(opts...).Run(ctx, g, initial)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return exitError(exitTimeout, "execution timed out after %s", timeout)
		}
		return exitError(exitRuntime, "execution failed: %v", err)
	}

	return writeResult(cmd, result)
}

// buildEngineOptions wires the completion client, journal, and tracing
// observers from flags and config. The returned cleanup flushes and
// closes whatever was opened.
func buildEngineOptions(cmd *cobra.Command, cfg config.File, g *vineflow.Graph) ([]engine.EngineOption, func(), error) {
	var opts []engine.EngineOption
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	providerFlag, _ := cmd.Flags().GetString("provider")
	if providerFlag != "" || needsClient(g) {
		name, prov, err := cfg.Resolve(providerFlag)
		if err != nil {
			cleanup()
			return nil, nil, exitError(exitProvider, "%v", err)
		}
		client, err := llm.NewIrisClient(name, prov.APIKey)
		if err != nil {
			cleanup()
			return nil, nil, exitError(exitProvider, "creating %s client: %v", name, err)
		}
		opts = append(opts, engine.WithClient(client))

		model, _ := cmd.Flags().GetString("model")
		if model == "" {
			model = prov.Model
		}
		if model != "" {
			opts = append(opts, engine.WithDefaultModel(model))
		}
	}

	journalPath, _ := cmd.Flags().GetString("journal")
	if journalPath == "" {
		journalPath = cfg.Journal.Path
	}
	if journalPath != "" {
		store, err := journal.NewSQLiteStore(journalPath)
		if err != nil {
			cleanup()
			return nil, nil, exitError(exitRuntime, "opening journal: %v", err)
		}
		cleanups = append(cleanups, func() { _ = store.Close() })
		opts = append(opts, engine.WithObserver(journal.Observer(store)))
	}

	if traced, _ := cmd.Flags().GetBool("trace"); traced {
		shutdown, err := vineotel.Setup("vineflow", cmd.ErrOrStderr())
		if err != nil {
			cleanup()
			return nil, nil, exitError(exitRuntime, "setting up tracing: %v", err)
		}
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		})
		opts = append(opts, engine.WithObserver(vineotel.NewTracingObserver(vineotel.Tracer())))
	}

	if maxHops, _ := cmd.Flags().GetInt("max-hops"); maxHops > 0 {
		opts = append(opts, engine.WithMaxHops(maxHops))
	}

	return opts, cleanup, nil
}

// needsClient reports whether any node in the graph calls an LLM.
func needsClient(g *vineflow.Graph) bool {
	for _, name := range g.Nodes() {
		def, ok := g.Node(name)
		if !ok {
			continue
		}
		if def.Kind == core.KindLLM || def.Kind == core.KindStructuredLLM {
			return true
		}
	}
	return false
}

// buildInitialContext creates the initial run context from --input or
// --input-file.
func buildInitialContext(cmd *cobra.Command) (core.Context, error) {
	inputStr, _ := cmd.Flags().GetString("input")
	inputFile, _ := cmd.Flags().GetString("input-file")

	if inputStr != "" && inputFile != "" {
		return nil, exitError(exitInputParse, "cannot specify both --input and --input-file")
	}
	if inputStr == "" && inputFile == "" {
		return core.NewContext(), nil
	}

	data := []byte(inputStr)
	if inputFile != "" {
		var err error
		data, err = os.ReadFile(inputFile) // #nosec G304 -- path from user CLI flag
		if err != nil {
			return nil, exitError(exitFileNotFound, "reading input file: %v", err)
		}
	}

	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, exitError(exitInputParse, "parsing input JSON: %v", err)
	}
	return core.Context(vars), nil
}

// writeResult formats and writes the run result.
func writeResult(cmd *cobra.Command, result *engine.Result) error {
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	var output string
	switch format {
	case "json":
		payload := map[string]any{
			"run_id":  result.RunID,
			"path":    result.Path,
			"context": map[string]any(result.Context),
			"usage": map[string]int{
				"input_tokens":  result.Usage.InputTokens,
				"output_tokens": result.Usage.OutputTokens,
				"total_tokens":  result.Usage.TotalTokens,
			},
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling output: %v", err)
		}
		output = string(data)
	case "text":
		if v, ok := result.Context["output"]; ok {
			output = fmt.Sprintf("%v", v)
		}
	case "pretty":
		output = formatPretty(result)
	default:
		return exitError(exitInputParse, "unknown format %q (use json, text, or pretty)", format)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(output+"\n"), 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// formatPretty returns a human-readable summary of the run.
func formatPretty(result *engine.Result) string {
	var sb strings.Builder

	sb.WriteString("=== Context ===\n")
	keys := make([]string, 0, len(result.Context))
	for k := range result.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %s: %v\n", k, result.Context[k]))
	}

	sb.WriteString("\n=== Path ===\n")
	sb.WriteString("  " + strings.Join(result.Path, " -> ") + "\n")

	sb.WriteString("\n=== Run ===\n")
	sb.WriteString(fmt.Sprintf("  Run ID: %s\n", result.RunID))
	if result.Usage.TotalTokens > 0 {
		sb.WriteString(fmt.Sprintf("  Tokens: %d in / %d out / %d total\n",
			result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.TotalTokens))
	}

	return sb.String()
}
