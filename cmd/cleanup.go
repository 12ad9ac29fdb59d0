package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewCleanupCmd creates the `cleanup` command.
func NewCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Stop sessions idle for longer than the threshold",
		Args:  cobra.NoArgs,
		RunE:  runCleanupE,
	}

	cmd.Flags().IntP("max-idle", "m", 60, "Max idle seconds before cleanup")

	return cmd
}

func runCleanupE(cmd *cobra.Command, args []string) error {
	maxIdle, _ := cmd.Flags().GetInt("max-idle")

	sup := newSupervisor()
	stopped, err := sup.CleanupIdle(cmd.Context(), time.Duration(maxIdle)*time.Second)
	if err != nil {
		return handleErr(cmd, err)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(map[string]interface{}{"stopped": stopped})
	}

	if len(stopped) == 0 {
		fmt.Println(cli.MutedStyle.Render("No idle sessions to clean"))
		return nil
	}

	fmt.Printf("%s\n", cli.SuccessStyle.Render(fmt.Sprintf("Cleaned up %d session(s):", len(stopped))))
	for _, id := range stopped {
		fmt.Printf("  - %s\n", id)
	}
	return nil
}
