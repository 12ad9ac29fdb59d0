package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/occtl/occtl/cli"
	occerrors "github.com/occtl/occtl/errors"
	"github.com/occtl/occtl/internal/rules"
)

// NewConfigCmd creates the `config` command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <session-id> [section]",
		Short: "Show a session's resolved opencode configuration",
		Long: `Fetches the server-resolved configuration and renders the permission,
agent, and tools sections. Section defaults to all.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runConfigE,
	}

	cmd.Flags().Bool("yaml", false, "Output as YAML")

	return cmd
}

func runConfigE(cmd *cobra.Command, args []string) error {
	section := "all"
	if len(args) == 2 {
		section = args[1]
	}
	switch section {
	case "all", "permission", "agent", "tools":
	default:
		return handleErr(cmd, occerrors.New(occerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown section '%s' (want permission, agent, tools, or all)", section)))
	}

	sup := newSupervisor()
	raw, err := sup.GetConfig(cmd.Context(), args[0])
	if err != nil {
		return handleErr(cmd, err)
	}

	cfg, err := rules.ParseConfig(raw)
	if err != nil {
		return handleErr(cmd, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return handleErr(cmd, occerrors.Wrap(err, occerrors.ErrCodeInvalidInput,
			"unexpected configuration shape"))
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(configSections(doc, section))
	}
	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		data, err := yaml.Marshal(configSections(doc, section))
		if err != nil {
			return handleErr(cmd, err)
		}
		fmt.Print(string(data))
		return nil
	}

	if section == "all" || section == "permission" {
		printPermissionRules(cfg)
	}
	if section == "all" || section == "agent" {
		printAgentConfig(cfg)
	}
	if section == "all" || section == "tools" {
		printToolOverrides(cfg)
	}
	return nil
}

func configSections(raw map[string]interface{}, section string) map[string]interface{} {
	if section != "all" {
		return map[string]interface{}{section: raw[section]}
	}
	return map[string]interface{}{
		"permission": raw["permission"],
		"agent":      raw["agent"],
		"tools":      raw["tools"],
	}
}

func printPermissionRules(cfg rules.Config) {
	ruleList, err := rules.FromConfig(cfg, "")
	if err != nil || len(ruleList) == 0 {
		fmt.Println(cli.MutedStyle.Render("No permission rules"))
		return
	}

	fmt.Println(cli.HeaderStyle.Render("Permission Rules"))
	w := newTabWriter()
	fmt.Fprintln(w, "PERMISSION\tPATTERN\tACTION")
	for _, r := range ruleList {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Permission, r.Pattern, actionStyle(r.Action).Render(string(r.Action)))
	}
	w.Flush()
}

func printAgentConfig(cfg rules.Config) {
	if len(cfg.Agent) == 0 {
		return
	}

	names := make([]string, 0, len(cfg.Agent))
	for name := range cfg.Agent {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	fmt.Println(cli.HeaderStyle.Render("Agent Configuration"))
	w := newTabWriter()
	fmt.Fprintln(w, "AGENT\tMODEL\tPERMISSION OVERRIDES")
	for _, name := range names {
		agentCfg := cfg.Agent[name]
		model := agentCfg.Model
		if model == "" {
			model = "—"
		}
		overrides := "—"
		if len(agentCfg.Permission) > 0 {
			overrides = fmt.Sprintf("%d rule(s)", len(agentCfg.Permission))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, model, overrides)
	}
	w.Flush()
}

func printToolOverrides(cfg rules.Config) {
	if len(cfg.Tools) == 0 {
		return
	}

	names := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	fmt.Println(cli.HeaderStyle.Render("Tool Overrides"))
	w := newTabWriter()
	fmt.Fprintln(w, "TOOL\tENABLED")
	for _, name := range names {
		style := cli.ErrStyle
		if cfg.Tools[name] {
			style = cli.SuccessStyle
		}
		fmt.Fprintf(w, "%s\t%s\n", name, style.Render(fmt.Sprintf("%v", cfg.Tools[name])))
	}
	w.Flush()
}

func actionStyle(action rules.Action) lipgloss.Style {
	switch action {
	case rules.ActionAllow:
		return cli.SuccessStyle
	case rules.ActionDeny:
		return cli.ErrStyle
	default:
		return cli.WarnStyle
	}
}
