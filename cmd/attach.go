package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
)

// NewAttachCmd creates the `attach` command.
func NewAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Attach an interactive opencode client to a session",
		Args:  cobra.ExactArgs(1),
		RunE:  runAttachE,
	}
}

func runAttachE(cmd *cobra.Command, args []string) error {
	sup := newSupervisor()
	url, err := sup.AttachURL(cmd.Context(), args[0])
	if err != nil {
		return handleErr(cmd, err)
	}

	fmt.Println(cli.MutedStyle.Render(fmt.Sprintf("Attaching to %s...", url)))

	attach := exec.CommandContext(cmd.Context(), "opencode", "attach", url)
	attach.Stdin = os.Stdin
	attach.Stdout = os.Stdout
	attach.Stderr = os.Stderr
	if err := attach.Run(); err != nil {
		return handleErr(cmd, err)
	}
	return nil
}
