package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	occerrors "github.com/occtl/occtl/errors"
	"github.com/occtl/occtl/internal/agent"
)

// NewTailCmd creates the `tail` command.
func NewTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Show an inner session's message history",
		Long: `Prints the newest messages of an inner session, oldest first. Defaults
to the most recently updated inner session.

Examples:
  occtl tail oc-1a2b3c4d
  occtl tail oc-1a2b3c4d -f              # wait for the next reply
  occtl tail oc-1a2b3c4d --last --raw    # newest assistant text only
  occtl tail oc-1a2b3c4d -C -n 50        # merged parent-chain history
  occtl tail oc-1a2b3c4d -o session.txt  # export to file`,
		Args: cobra.ExactArgs(1),
		RunE: runTailE,
	}

	cmd.Flags().StringP("session", "s", "", "Inner session id (default: latest)")
	cmd.Flags().BoolP("follow", "f", false, "Wait for the response to complete")
	cmd.Flags().BoolP("last", "l", false, "Only show the last assistant message")
	cmd.Flags().Bool("full", false, "Don't truncate message text")
	cmd.Flags().IntP("limit", "n", 5, "Number of messages to show")
	cmd.Flags().Float64P("timeout", "t", 300, "Follow timeout in seconds")
	cmd.Flags().BoolP("raw", "r", false, "Output raw text only")
	cmd.Flags().String("role", "", "Filter by role: user, assistant")
	cmd.Flags().StringP("search", "g", "", "Only messages containing pattern (case-insensitive)")
	cmd.Flags().Bool("tools", false, "Show tool call args and results")
	cmd.Flags().BoolP("timestamps", "T", false, "Show message timestamps")
	cmd.Flags().StringP("output", "o", "", "Export messages to a file")
	cmd.Flags().BoolP("chain", "C", false, "Include messages from parent sessions")

	return cmd
}

type tailOptions struct {
	full       bool
	raw        bool
	role       string
	search     string
	tools      bool
	timestamps bool
}

func runTailE(cmd *cobra.Command, args []string) error {
	innerFlag, _ := cmd.Flags().GetString("session")
	follow, _ := cmd.Flags().GetBool("follow")
	last, _ := cmd.Flags().GetBool("last")
	limit, _ := cmd.Flags().GetInt("limit")
	timeout, _ := cmd.Flags().GetFloat64("timeout")
	output, _ := cmd.Flags().GetString("output")
	chainMode, _ := cmd.Flags().GetBool("chain")

	opts := tailOptions{}
	opts.full, _ = cmd.Flags().GetBool("full")
	opts.raw, _ = cmd.Flags().GetBool("raw")
	opts.role, _ = cmd.Flags().GetString("role")
	opts.search, _ = cmd.Flags().GetString("search")
	opts.tools, _ = cmd.Flags().GetBool("tools")
	opts.timestamps, _ = cmd.Flags().GetBool("timestamps")

	sup := newSupervisor()
	innerID, err := resolveInnerSession(cmd, sup, args[0], innerFlag)
	if err != nil {
		return handleErr(cmd, err)
	}

	if follow {
		msg, err := sup.WaitForResponse(cmd.Context(), args[0], innerID,
			time.Duration(timeout*float64(time.Second)), time.Second)
		if err != nil {
			return handleErr(cmd, err)
		}
		if msg == nil {
			fmt.Println(cli.WarnStyle.Render("Timeout waiting for response"))
			return occerrors.New(occerrors.ErrCodeInternal, "timed out waiting for response")
		}
		printMessage(os.Stdout, *msg, opts)
		return nil
	}

	fetch := func(limit int) ([]agent.Message, error) {
		if chainMode {
			return sup.ChainMessages(cmd.Context(), args[0], innerID, limit)
		}
		return sup.Messages(cmd.Context(), args[0], innerID, limit)
	}

	if last {
		fetchLimit := 20
		if chainMode {
			fetchLimit = 100
		}
		messages, err := fetch(fetchLimit)
		if err != nil {
			return handleErr(cmd, err)
		}
		messages = filterMessages(messages, opts)
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "assistant" {
				printMessage(os.Stdout, messages[i], opts)
				return nil
			}
		}
		fmt.Println(cli.MutedStyle.Render("No assistant messages"))
		return nil
	}

	messages, err := fetch(limit)
	if err != nil {
		return handleErr(cmd, err)
	}
	messages = filterMessages(messages, opts)

	if len(messages) == 0 {
		fmt.Println(cli.MutedStyle.Render("No messages"))
		return nil
	}

	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return handleErr(cmd, err)
		}
		defer f.Close()
		fileOpts := opts
		fileOpts.raw = false
		for _, msg := range messages {
			writeMessage(f, msg, fileOpts)
		}
		fmt.Printf("%s\n", cli.SuccessStyle.Render(fmt.Sprintf("Exported %d messages to %s", len(messages), output)))
		return nil
	}

	for _, msg := range messages {
		printMessage(os.Stdout, msg, opts)
	}
	return nil
}

func filterMessages(messages []agent.Message, opts tailOptions) []agent.Message {
	if opts.role == "" && opts.search == "" {
		return messages
	}
	var out []agent.Message
	for _, m := range messages {
		if opts.role != "" && m.Role != opts.role {
			continue
		}
		if opts.search != "" && !strings.Contains(strings.ToLower(m.Text), strings.ToLower(opts.search)) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func printMessage(w *os.File, msg agent.Message, opts tailOptions) {
	if opts.raw {
		fmt.Fprintln(w, msg.Text)
		return
	}
	writeMessage(w, msg, opts)
}

// writeMessage renders one message in the banner format:
//
//	━━━ assistant ━━━
//	<text>
//	  ⚡ bash (completed)
func writeMessage(w *os.File, msg agent.Message, opts tailOptions) {
	if opts.timestamps && msg.Timestamp != 0 {
		fmt.Fprintln(w, cli.MutedStyle.Render("["+formatMillis(msg.Timestamp, "2006-01-02 15:04:05")+"]"))
	}

	banner := fmt.Sprintf("━━━ %s ━━━", msg.Role)
	switch msg.Role {
	case "user":
		banner = cli.SuccessStyle.Render(banner)
	case "assistant":
		banner = cli.HeaderStyle.Render(banner)
	}
	fmt.Fprintln(w, banner)

	if msg.Text != "" {
		text := msg.Text
		if !opts.full {
			text = truncate(text, 500)
		}
		fmt.Fprintln(w, text)
	}

	for _, tc := range msg.ToolCalls {
		fmt.Fprintf(w, "  ⚡ %s (%s)\n", tc.Name, tc.State)
		if !opts.tools {
			continue
		}
		if len(tc.Args) > 0 {
			if args, err := json.MarshalIndent(tc.Args, "    ", "  "); err == nil {
				fmt.Fprintf(w, "    %s\n", args)
			}
		}
		if tc.Result != "" {
			fmt.Fprintf(w, "    → %s\n", truncate(tc.Result, 200))
		}
	}

	fmt.Fprintln(w)
}
