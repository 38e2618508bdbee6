package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/petal-labs/vineflow/config"
	"github.com/petal-labs/vineflow/engine"
	"github.com/petal-labs/vineflow/validate"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// NewScheduleCmd creates the "schedule" subcommand.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <cron> <file>",
		Short: "Run a workflow repeatedly on a cron schedule",
		Long:  "Runs the workflow whenever the five-field cron expression fires, until interrupted.",
		Args:  cobra.ExactArgs(2),
		RunE:  runSchedule,
	}

	cmd.Flags().StringP("input", "i", "", "Initial context as inline JSON")
	cmd.Flags().StringP("input-file", "f", "", "Initial context from a JSON file")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Per-run execution timeout")
	cmd.Flags().String("provider", "", "LLM provider name (default: config default_provider)")
	cmd.Flags().String("model", "", "Default model for llm nodes")
	cmd.Flags().String("journal", "", "Journal SQLite path (default: config journal.path)")
	cmd.Flags().Int("max-hops", engine.DefaultMaxHops, "Abort runs exceeding this many node executions")

	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	expr, filePath := args[0], args[1]
	out := cmd.OutOrStdout()

	schedule, err := parseCronExpression(expr)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}

	g, err := loadGraph(filePath)
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

	eng := engine.New(opts...)
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "scheduling %s with %q, next run at %s\n",
		filePath, expr, schedule.Next(time.Now().UTC()).Format(time.RFC3339))

	for {
		next := schedule.Next(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			fmt.Fprintln(out, "schedule stopped")
			return nil
		case <-timer.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := eng.Run(runCtx, g, initial.Clone())
		cancel()

		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "run failed: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "run %s completed, path %s\n", result.RunID, strings.Join(result.Path, " -> "))
	}
}

func parseCronExpression(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}
