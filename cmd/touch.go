package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	occerrors "github.com/occtl/occtl/errors"
)

// NewTouchCmd creates the `touch` command.
func NewTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <session-id>",
		Short: "Refresh a session's activity timestamp",
		Long: `Marks a session as recently active so idle cleanup leaves it alone.
Useful from cron or wrapper scripts that keep a session warm.`,
		Args: cobra.ExactArgs(1),
		RunE: runTouchE,
	}
}

func runTouchE(cmd *cobra.Command, args []string) error {
	sup := newSupervisor()
	ok, err := sup.Touch(args[0])
	if err != nil {
		return handleErr(cmd, err)
	}
	if !ok {
		return handleErr(cmd, occerrors.SessionNotFound(args[0]))
	}

	fmt.Printf("%s %s\n", cli.SuccessStyle.Render("Updated activity:"), args[0])
	return nil
}
