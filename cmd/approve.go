package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewApproveCmd creates the `approve` command.
func NewApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <session-id> <permission-id>",
		Short: "Grant a pending permission request",
		Args:  cobra.ExactArgs(2),
		RunE:  runApproveE,
	}

	cmd.Flags().BoolP("always", "a", false, "Always allow this pattern")

	return cmd
}

func runApproveE(cmd *cobra.Command, args []string) error {
	always, _ := cmd.Flags().GetBool("always")

	sup := newSupervisor()
	if err := sup.ApprovePermission(cmd.Context(), args[0], args[1], always); err != nil {
		return handleErr(cmd, err)
	}

	reply := "once"
	if always {
		reply = "always"
	}
	fmt.Printf("%s %s\n", cli.SuccessStyle.Render(fmt.Sprintf("Approved (%s):", reply)), args[1])
	return nil
}
