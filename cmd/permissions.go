package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	"github.com/occtl/occtl/internal/agent"
	"github.com/occtl/occtl/internal/store"
)

// NewPermissionsCmd creates the `permissions` command.
func NewPermissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permissions [session-id]",
		Short: "Show pending permission requests",
		Long: `Lists permission requests waiting for a human decision. With a session
id it queries that session; without one it scans every live session.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPermissionsE,
	}
}

func runPermissionsE(cmd *cobra.Command, args []string) error {
	sup := newSupervisor()

	if len(args) == 1 {
		perms, err := sup.Permissions(cmd.Context(), args[0])
		if err != nil {
			return handleErr(cmd, err)
		}
		if cli.GetOptions(cmd).JSONOutput {
			return printJSON(perms)
		}
		if len(perms) == 0 {
			fmt.Println(cli.MutedStyle.Render("No pending permissions"))
			return nil
		}
		printPermissionTable(perms)
		return nil
	}

	sessions, err := sup.List(cmd.Context())
	if err != nil {
		return handleErr(cmd, err)
	}
	if len(sessions) == 0 {
		fmt.Println(cli.MutedStyle.Render("No active sessions"))
		return nil
	}

	all := make(map[string][]agent.Permission)
	total := 0
	for _, s := range sessions {
		if s.Status == store.StatusDead {
			continue
		}
		// A session can die between List and the permission query; skip it
		// rather than failing the whole scan.
		perms, err := sup.Permissions(cmd.Context(), s.ID)
		if err != nil {
			continue
		}
		if len(perms) > 0 {
			all[s.ID] = perms
			total += len(perms)
		}
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(all)
	}
	if total == 0 {
		fmt.Println(cli.MutedStyle.Render("No pending permissions in any session"))
		return nil
	}
	for _, s := range sessions {
		perms, ok := all[s.ID]
		if !ok {
			continue
		}
		fmt.Printf("\n%s\n", cli.HeaderStyle.Render(s.ID))
		printPermissionTable(perms)
	}
	return nil
}

func printPermissionTable(perms []agent.Permission) {
	w := newTabWriter()
	fmt.Fprintln(w, "ID\tTYPE\tCOMMANDS")
	for _, p := range perms {
		commands := "—"
		if len(p.Patterns) > 0 {
			commands = strings.Join(p.Patterns, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Permission, commands)
	}
	w.Flush()
}
