// Package cmd implements the occtl subcommands. Each command is a thin
// cobra wrapper over one Supervisor or control-client operation; all session
// logic lives below this package.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	"github.com/occtl/occtl/internal/store"
	"github.com/occtl/occtl/internal/supervisor"
)

// newSupervisor builds the production supervisor over the default registry
// location.
func newSupervisor() *supervisor.Supervisor {
	return supervisor.New(store.Default())
}

// handleErr renders err through the shared error handler and returns it so
// the caller's RunE propagates a non-zero exit.
func handleErr(cmd *cobra.Command, err error) error {
	opts := cli.GetOptions(cmd)
	return cli.NewErrorHandler(opts.Verbose).Handle(err)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// newTabWriter returns a stdout tabwriter with the spacing used by all
// occtl tables.
func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

// formatTime renders a registry timestamp for table output.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatMillis renders a Unix-milliseconds timestamp, or a dash when unset.
func formatMillis(millis int64, layout string) string {
	if millis == 0 {
		return "—"
	}
	return time.UnixMilli(millis).Format(layout)
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// resolveInnerSession returns the explicit inner session id, or the most
// recently updated one when the flag was left empty.
func resolveInnerSession(cmd *cobra.Command, sup *supervisor.Supervisor, id, innerID string) (string, error) {
	if innerID != "" {
		return innerID, nil
	}
	latest, err := sup.LatestInnerSession(cmd.Context(), id)
	if err != nil {
		return "", err
	}
	return latest.ID, nil
}
