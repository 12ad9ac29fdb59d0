package main

import (
	"os"

	"github.com/occtl/occtl/cli"
	"github.com/occtl/occtl/cmd"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"occtl",
		"Manage locally-spawned opencode server sessions",
	)

	rootCmd.AddCommand(cmd.NewStartCmd())
	rootCmd.AddCommand(cmd.NewStopCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewListCmd())
	rootCmd.AddCommand(cmd.NewCleanupCmd())
	rootCmd.AddCommand(cmd.NewTouchCmd())
	rootCmd.AddCommand(cmd.NewSendCmd())
	rootCmd.AddCommand(cmd.NewTailCmd())
	rootCmd.AddCommand(cmd.NewAttachCmd())
	rootCmd.AddCommand(cmd.NewPermissionsCmd())
	rootCmd.AddCommand(cmd.NewApproveCmd())
	rootCmd.AddCommand(cmd.NewRejectCmd())
	rootCmd.AddCommand(cmd.NewSessionsCmd())
	rootCmd.AddCommand(cmd.NewChainCmd())
	rootCmd.AddCommand(cmd.NewForkCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cmd.NewTestPermissionCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
