package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewRejectCmd creates the `reject` command.
func NewRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <session-id> <permission-id>",
		Short: "Deny a pending permission request",
		Args:  cobra.ExactArgs(2),
		RunE:  runRejectE,
	}

	cmd.Flags().StringP("message", "m", "", "Explanation shown to the agent")

	return cmd
}

func runRejectE(cmd *cobra.Command, args []string) error {
	message, _ := cmd.Flags().GetString("message")

	sup := newSupervisor()
	if err := sup.RejectPermission(cmd.Context(), args[0], args[1], message); err != nil {
		return handleErr(cmd, err)
	}

	fmt.Printf("%s %s\n", cli.WarnStyle.Render("Rejected:"), args[1])
	return nil
}
