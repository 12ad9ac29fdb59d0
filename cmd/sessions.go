package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewSessionsCmd creates the `sessions` command.
func NewSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <session-id>",
		Short: "List the inner opencode sessions of a managed session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsE,
	}
}

func runSessionsE(cmd *cobra.Command, args []string) error {
	sup := newSupervisor()
	inner, err := sup.InnerSessions(cmd.Context(), args[0])
	if err != nil {
		return handleErr(cmd, err)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(inner)
	}
	if len(inner) == 0 {
		fmt.Println(cli.MutedStyle.Render("No sessions"))
		return nil
	}

	w := newTabWriter()
	fmt.Fprintln(w, "SESSION ID\tTITLE\tUPDATED")
	for _, s := range inner {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, truncate(s.Title, 50), formatMillis(s.Updated, "15:04:05"))
	}
	return w.Flush()
}
