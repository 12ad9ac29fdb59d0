package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/internal/supervisor"
)

// NewSendCmd creates the `send` command.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <session-id> <message>",
		Short: "Send a message to a session's agent",
		Long: `Creates a fresh inner session on the target server and delivers the
message to it. By default the command returns immediately with the inner
session id; pass --wait to block for the full reply.

Examples:
  occtl send oc-1a2b3c4d "summarize the failing tests"
  occtl send oc-1a2b3c4d "run the linter" --wait
  occtl send oc-1a2b3c4d "look this up" -a docs-retriever`,
		Args: cobra.ExactArgs(2),
		RunE: runSendE,
	}

	cmd.Flags().StringP("agent", "a", "", "Agent to handle the message")
	cmd.Flags().Float64P("timeout", "t", 300, "Request timeout in seconds")
	cmd.Flags().BoolP("wait", "w", false, "Wait for the full response")
	cmd.Flags().BoolP("raw", "r", false, "Output the raw JSON response (with --wait)")

	return cmd
}

func runSendE(cmd *cobra.Command, args []string) error {
	agentName, _ := cmd.Flags().GetString("agent")
	timeout, _ := cmd.Flags().GetFloat64("timeout")
	wait, _ := cmd.Flags().GetBool("wait")
	raw, _ := cmd.Flags().GetBool("raw")

	sup := newSupervisor()
	result, err := sup.Send(cmd.Context(), args[0], args[1], supervisor.SendOptions{
		Agent:   agentName,
		Timeout: time.Duration(timeout * float64(time.Second)),
		Wait:    wait,
	})
	if err != nil {
		return handleErr(cmd, err)
	}

	if !wait {
		fmt.Println(result.SessionID)
		return nil
	}
	if raw {
		return printJSON(result.Raw)
	}
	fmt.Println(result.Text)
	return nil
}
