package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	occerrors "github.com/occtl/occtl/errors"
)

// NewStopCmd creates the `stop` command.
func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a session and remove it from the registry",
		Args:  cobra.ExactArgs(1),
		RunE:  runStopE,
	}

	cmd.Flags().BoolP("force", "f", false, "Kill immediately instead of terminating gracefully")

	return cmd
}

func runStopE(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	sup := newSupervisor()
	ok, err := sup.Stop(cmd.Context(), args[0], force)
	if err != nil {
		return handleErr(cmd, err)
	}
	if !ok {
		return handleErr(cmd, occerrors.SessionNotFound(args[0]))
	}

	fmt.Printf("%s %s\n", cli.SuccessStyle.Render("Stopped:"), args[0])
	return nil
}
