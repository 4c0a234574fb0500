package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewExecutionCmd создаёт группу команд для просмотра выполнений.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution",
		Short: "Inspect workflow executions",
	}

	cmd.AddCommand(
		newExecutionListCmd(clientFn, outputFn),
		newExecutionShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListExecutionsOpts

	cmd := &cobra.Command{
		Use:   "list WORKFLOW",
		Short: "List executions of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			executions, err := client.ListExecutions(args[0], opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "DECISION_ID", "STATUS", "OK/FAILED/TRIGGERED", "DURATION", "TIME"}
			rows := make([][]string, len(executions))
			for i, e := range executions {
				rows[i] = []string{
					e.ExecutionID,
					e.DecisionID,
					e.Status,
					fmt.Sprintf("%d/%d/%d", e.ScrapersSucceeded, e.ScrapersFailed, e.ScrapersTriggered),
					formatMs(e.DurationMs),
					e.ExecutionTime,
				}
			}

			out.Print(headers, rows, executions)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.DecisionID, "decision-id", "", "Filter by decision ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newExecutionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show EXECUTION_ID",
		Short: "Show an execution with per-scraper results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			e, err := client.GetExecution(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(e)
				return nil
			}

			out.Table(
				[]string{"ID", "WORKFLOW", "DECISION_ID", "STATUS", "DURATION", "ERROR"},
				[][]string{{e.ExecutionID, e.WorkflowName, e.DecisionID, e.Status, formatMs(e.DurationMs), e.Error}},
			)

			if len(e.ScraperExecutions) > 0 {
				fmt.Fprintln(out.w)
				rows := make([][]string, len(e.ScraperExecutions))
				for i, s := range e.ScraperExecutions {
					rows[i] = []string{
						s.ScraperName,
						s.Status,
						strconv.Itoa(s.Attempts),
						strconv.FormatInt(s.RecordCount, 10),
						formatMs(s.DurationMs),
						s.ErrorClass,
						s.ErrorMessage,
					}
				}
				out.Table([]string{"SCRAPER", "STATUS", "ATTEMPTS", "RECORDS", "DURATION", "CLASS", "ERROR"}, rows)
			}

			if len(e.SkippedScrapers) > 0 {
				out.Success(fmt.Sprintf("Skipped (circuit open): %v", e.SkippedScrapers))
			}
			return nil
		},
	}
}

func formatMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
