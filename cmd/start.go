package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	"github.com/occtl/occtl/internal/supervisor"
)

// NewStartCmd creates the `start` command.
func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new opencode server session",
		Long: `Starts an opencode server on the next free port, waits until it is
listening, and registers it as a managed session.

Examples:
  occtl start
  occtl start -w ~/src/myproject -a build
  occtl start --timeout 60`,
		Args: cobra.NoArgs,
		RunE: runStartE,
	}

	cmd.Flags().StringP("workdir", "w", "", "Working directory for the server (default: current directory)")
	cmd.Flags().StringP("agent", "a", "", "Default agent for this session")
	cmd.Flags().Float64P("timeout", "t", 30, "Startup timeout in seconds")
	cmd.Flags().Bool("allow-occtl-commands", false, "Allow the spawned agent to run occtl itself")

	return cmd
}

func runStartE(cmd *cobra.Command, args []string) error {
	workdir, _ := cmd.Flags().GetString("workdir")
	agentName, _ := cmd.Flags().GetString("agent")
	timeout, _ := cmd.Flags().GetFloat64("timeout")
	allowSelf, _ := cmd.Flags().GetBool("allow-occtl-commands")

	sup := newSupervisor()
	rec, err := sup.Start(cmd.Context(), supervisor.StartOptions{
		Workdir:          workdir,
		Agent:            agentName,
		Timeout:          time.Duration(timeout * float64(time.Second)),
		AllowSelfControl: allowSelf,
	})
	if err != nil {
		return handleErr(cmd, err)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(rec)
	}

	fmt.Printf("%s %s\n", cli.SuccessStyle.Render("Started session:"), rec.ID)
	fmt.Printf("  Port: %d\n", rec.Port)
	fmt.Printf("  PID: %d\n", rec.PID)
	if rec.Agent != "" {
		fmt.Printf("  Agent: %s\n", rec.Agent)
	}
	return nil
}
