package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewChainCmd creates the `chain` command.
func NewChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <session-id>",
		Short: "Show an inner session's compaction lineage",
		Long: `Walks an inner session's parent chain from the root down, then appends
its direct children in creation order. Defaults to the most recently
updated inner session.`,
		Args: cobra.ExactArgs(1),
		RunE: runChainE,
	}

	cmd.Flags().StringP("session", "s", "", "Inner session id (default: latest)")

	return cmd
}

func runChainE(cmd *cobra.Command, args []string) error {
	innerFlag, _ := cmd.Flags().GetString("session")

	sup := newSupervisor()
	innerID, err := resolveInnerSession(cmd, sup, args[0], innerFlag)
	if err != nil {
		return handleErr(cmd, err)
	}

	chain, err := sup.SessionChain(cmd.Context(), args[0], innerID)
	if err != nil {
		return handleErr(cmd, err)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(chain)
	}
	if len(chain) == 0 {
		fmt.Println(cli.MutedStyle.Render("No chain found"))
		return nil
	}

	w := newTabWriter()
	fmt.Fprintln(w, "SESSION ID\tTITLE\tPARENT\tCREATED")
	for _, s := range chain {
		marker := "  "
		if s.ID == innerID {
			marker = "→ "
		}
		parent := s.ParentID
		if parent == "" {
			parent = "—"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n",
			marker, s.ID, truncate(s.Title, 40), truncate(parent, 23), formatMillis(s.Created, "2006-01-02 15:04"))
	}
	return w.Flush()
}
