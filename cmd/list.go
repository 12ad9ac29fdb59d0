package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewListCmd creates the `list` command.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all live sessions with recomputed status",
		Args:  cobra.NoArgs,
		RunE:  runListE,
	}
}

func runListE(cmd *cobra.Command, args []string) error {
	sup := newSupervisor()
	sessions, err := sup.List(cmd.Context())
	if err != nil {
		return handleErr(cmd, err)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println(cli.MutedStyle.Render("No active sessions"))
		return nil
	}

	w := newTabWriter()
	fmt.Fprintln(w, "ID\tPORT\tPID\tSTATUS\tAGENT\tDIRTY\tLAST ACTIVITY")
	for _, s := range sessions {
		agent := s.Agent
		if agent == "" {
			agent = "—"
		}
		dirty := "✗"
		if s.HasUncommittedChanges {
			dirty = cli.WarnStyle.Render("✓")
		}
		status := string(s.Status)
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			s.ID, s.Port, s.PID,
			cli.StatusStyle(status).Render(status),
			agent, dirty, formatTime(s.LastActivity))
	}
	return w.Flush()
}
