package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewDecisionCmd создаёт группу команд для отправки решений.
func NewDecisionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Submit workflow decisions",
	}

	cmd.AddCommand(newDecisionSubmitCmd(clientFn, outputFn))

	return cmd
}

func newDecisionSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		decisionID   string
		businessDate string
		scrapers     []string
		inputs       []string
		params       []string
		file         string
	)

	cmd := &cobra.Command{
		Use:   "submit WORKFLOW",
		Short: "Submit a decision to run a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var req SubmitDecisionRequest
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read decision file: %w", err)
				}
				if err := json.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("invalid decision file: %w", err)
				}
			}

			if decisionID != "" {
				req.DecisionID = decisionID
			}
			if businessDate != "" {
				req.BusinessDate = businessDate
			}
			req.Scrapers = append(req.Scrapers, scrapers...)

			if len(inputs) > 0 {
				if req.Inputs == nil {
					req.Inputs = make(map[string]any)
				}
				for _, kv := range inputs {
					key, value, err := splitKV(kv)
					if err != nil {
						return err
					}
					req.Inputs[key] = value
				}
			}

			if len(params) > 0 {
				if req.Parameters == nil {
					req.Parameters = make(map[string]map[string]any)
				}
				for _, p := range params {
					scraper, kv, ok := strings.Cut(p, ":")
					if !ok || scraper == "" {
						return fmt.Errorf("invalid parameter format %q, expected SCRAPER:KEY=VALUE", p)
					}
					key, value, err := splitKV(kv)
					if err != nil {
						return err
					}
					if req.Parameters[scraper] == nil {
						req.Parameters[scraper] = make(map[string]any)
					}
					req.Parameters[scraper][key] = value
				}
			}

			if len(req.Scrapers) == 0 {
				return fmt.Errorf("at least one --scraper is required")
			}

			accepted, err := client.SubmitDecision(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Decision accepted: %s", accepted.Key))
			out.Print(
				[]string{"WORKFLOW", "DECISION_ID", "KEY", "SCRAPERS"},
				[][]string{{accepted.WorkflowName, accepted.DecisionID, accepted.Key, strings.Join(accepted.Scrapers, ",")}},
				accepted,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&decisionID, "decision-id", "", "Decision ID (defaults to business date)")
	cmd.Flags().StringVar(&businessDate, "business-date", "", "Business date, e.g. 2026-03-01")
	cmd.Flags().StringSliceVar(&scrapers, "scraper", nil, "Scraper to trigger (repeatable)")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Scraper parameter as SCRAPER:KEY=VALUE, * for all scrapers (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the decision from a JSON file")

	return cmd
}

func splitKV(kv string) (string, string, error) {
	key, value, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
	}
	return key, value, nil
}
