package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewForkCmd creates the `fork` command.
func NewForkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fork <session-id>",
		Short: "Fork an inner session, copying its conversation history",
		Args:  cobra.ExactArgs(1),
		RunE:  runForkE,
	}

	cmd.Flags().StringP("session", "s", "", "Inner session id to fork (default: latest)")
	cmd.Flags().StringP("message", "m", "", "Fork up to (not including) this message id")

	return cmd
}

func runForkE(cmd *cobra.Command, args []string) error {
	innerFlag, _ := cmd.Flags().GetString("session")
	messageID, _ := cmd.Flags().GetString("message")

	sup := newSupervisor()
	innerID, err := resolveInnerSession(cmd, sup, args[0], innerFlag)
	if err != nil {
		return handleErr(cmd, err)
	}

	forked, err := sup.Fork(cmd.Context(), args[0], innerID, messageID)
	if err != nil {
		return handleErr(cmd, err)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(forked)
	}

	fmt.Printf("%s %s\n", cli.SuccessStyle.Render("Forked:"), forked.ID)
	if forked.ParentID != "" {
		fmt.Printf("  Parent: %s\n", forked.ParentID)
	}
	return nil
}
