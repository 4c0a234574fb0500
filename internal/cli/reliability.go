package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewBreakerCmd создаёт группу команд для circuit breakers.
func NewBreakerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect and reset circuit breakers",
	}

	cmd.AddCommand(
		newBreakerListCmd(clientFn, outputFn),
		newBreakerResetCmd(clientFn, outputFn),
	)

	return cmd
}

var breakerHeaders = []string{"RESOURCE", "STATE", "FAILURES", "OPENED", "PROBE"}

func breakerRow(b BreakerResponse) []string {
	return []string{b.Resource, b.State, strconv.Itoa(b.ConsecutiveFailures), b.OpenedAt, strconv.FormatBool(b.ProbeInFlight)}
}

func newBreakerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List circuit breakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.ListBreakers()
			if err != nil {
				return err
			}

			if !resp.Enabled && !out.jsonMode {
				out.Success("Circuit breakers are disabled")
			}

			rows := make([][]string, len(resp.Breakers))
			for i, b := range resp.Breakers {
				rows[i] = breakerRow(b)
			}
			out.Print(breakerHeaders, rows, resp)
			return nil
		},
	}
}

func newBreakerResetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reset RESOURCE",
		Short: "Force a circuit breaker back to CLOSED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			b, err := client.ResetBreaker(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Breaker reset: %s", b.Resource))
			out.Print(breakerHeaders, [][]string{breakerRow(*b)}, b)
			return nil
		},
	}
}

// NewLockCmd создаёт группу команд для блокировок.
func NewLockCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Manage distributed locks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "release BUSINESS_KEY",
		Short: "Force-release a stuck lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.ReleaseLock(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Lock released: %s", resp.LockKey))
			if out.jsonMode {
				out.JSON(resp)
			}
			return nil
		},
	})

	return cmd
}
