package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	"github.com/occtl/occtl/internal/rules"
)

// NewTestPermissionCmd creates the `test-permission` command.
func NewTestPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-permission <session-id> <command>",
		Short: "Check whether a bash command would be allowed",
		Long: `Evaluates the session's permission rules against a bash command the way
the server itself would: rules flatten in config order, agent-specific
overrides append to the end, and the last matching rule wins.

Examples:
  occtl test-permission oc-1a2b3c4d "git push origin main"
  occtl test-permission oc-1a2b3c4d "rm -rf build" -a build`,
		Args: cobra.ExactArgs(2),
		RunE: runTestPermissionE,
	}

	cmd.Flags().StringP("agent", "a", "", "Agent name (applies agent-specific rules)")

	return cmd
}

func runTestPermissionE(cmd *cobra.Command, args []string) error {
	agentName, _ := cmd.Flags().GetString("agent")

	sup := newSupervisor()
	raw, err := sup.GetConfig(cmd.Context(), args[0])
	if err != nil {
		return handleErr(cmd, err)
	}

	cfg, err := rules.ParseConfig(raw)
	if err != nil {
		return handleErr(cmd, err)
	}
	ruleList, err := rules.FromConfig(cfg, agentName)
	if err != nil {
		return handleErr(cmd, err)
	}

	decision := rules.Evaluate(ruleList, "bash", args[1])

	if cli.GetOptions(cmd).JSONOutput {
		out := map[string]interface{}{
			"command": args[1],
			"action":  decision.Action,
		}
		if decision.Rule != nil {
			out["matched"] = fmt.Sprintf("%s:%s", decision.Rule.Permission, decision.Rule.Pattern)
		}
		return printJSON(out)
	}

	if decision.Rule == nil {
		fmt.Printf("%s for: %s\n", cli.WarnStyle.Render("⚠ No matching rule"), args[1])
		fmt.Println(cli.MutedStyle.Render("Default: ask"))
		return nil
	}

	switch decision.Action {
	case rules.ActionAllow:
		fmt.Printf("%s — %s\n", cli.SuccessStyle.Render("✅ allow"), args[1])
	case rules.ActionDeny:
		fmt.Printf("%s — %s\n", cli.ErrStyle.Render("🚫 deny"), args[1])
	default:
		fmt.Printf("%s — %s\n", cli.WarnStyle.Render(fmt.Sprintf("❓ %s", decision.Action)), args[1])
	}
	fmt.Println(cli.MutedStyle.Render(fmt.Sprintf("Matched: %s:%s → %s",
		decision.Rule.Permission, decision.Rule.Pattern, decision.Rule.Action)))
	return nil
}
