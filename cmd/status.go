package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewStatusCmd creates the `status` command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's freshly recomputed status",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusE,
	}
}

func runStatusE(cmd *cobra.Command, args []string) error {
	sup := newSupervisor()
	rec, err := sup.Status(cmd.Context(), args[0])
	if err != nil {
		return handleErr(cmd, err)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(rec)
	}

	status := string(rec.Status)
	fmt.Printf("%s %s\n", cli.StatusStyle(status).Render(status), rec.ID)
	fmt.Printf("  Port: %d\n", rec.Port)
	fmt.Printf("  PID: %d\n", rec.PID)
	if rec.Agent != "" {
		fmt.Printf("  Agent: %s\n", rec.Agent)
	}
	fmt.Printf("  Last activity: %s\n", formatTime(rec.LastActivity))

	dirty, files, err := sup.HasUncommittedChanges(args[0])
	if err != nil {
		// The record may already have been reaped above; the status line was
		// still worth printing.
		return nil
	}
	if dirty {
		fmt.Printf("\n  %s\n", cli.WarnStyle.Render(fmt.Sprintf("Uncommitted changes (%d):", len(files))))
		for _, file := range files {
			fmt.Printf("    %s\n", file)
		}
	} else {
		fmt.Printf("\n  %s\n", cli.SuccessStyle.Render("No uncommitted changes"))
	}
	return nil
}
