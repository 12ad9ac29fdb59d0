package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/occtl/occtl/cli"
	occerrors "github.com/occtl/occtl/errors"
	"github.com/occtl/occtl/pkg/paths"
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [pattern]",
		Short: "Search the opencode server logs",
		Long: `Searches the opencode log directory. By default only the newest log file
is read; --all scans every file. A pattern filters lines case-insensitively.

Examples:
  occtl logs
  occtl logs "session.create" --all
  occtl logs --level error -n 100
  occtl logs -f`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow the latest log file")
	cmd.Flags().IntP("lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringP("level", "l", "", "Filter by level: error, warn, info, debug")
	cmd.Flags().BoolP("all", "a", false, "Search all log files, not just the latest")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")
	lines, _ := cmd.Flags().GetInt("lines")
	level, _ := cmd.Flags().GetString("level")
	all, _ := cmd.Flags().GetBool("all")

	pattern := ""
	if len(args) == 1 {
		pattern = strings.ToLower(args[0])
	}

	logDir := paths.AgentLogDir()
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return handleErr(cmd, occerrors.New(occerrors.ErrCodeInvalidInput,
			fmt.Sprintf("log directory not found: %s", logDir)))
	}

	var logFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".log") {
			logFiles = append(logFiles, filepath.Join(logDir, entry.Name()))
		}
	}
	sort.Strings(logFiles)
	if len(logFiles) == 0 {
		fmt.Println(cli.WarnStyle.Render("No log files found"))
		return occerrors.New(occerrors.ErrCodeInvalidInput, "no log files in "+logDir)
	}

	if follow {
		return followLog(cmd, logFiles[len(logFiles)-1], pattern, level)
	}

	targets := logFiles[len(logFiles)-1:]
	if all {
		targets = logFiles
	}

	var matched []string
	for _, path := range targets {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if logLineMatches(line, pattern, level) {
				matched = append(matched, line)
			}
		}
		f.Close()
	}

	if len(matched) > lines {
		matched = matched[len(matched)-lines:]
	}
	for _, line := range matched {
		fmt.Println(colorizeLogLine(line))
	}
	return nil
}

func followLog(cmd *cobra.Command, path, pattern, level string) error {
	fmt.Println(cli.MutedStyle.Render("Following: " + path))

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return handleErr(cmd, err)
	}
	defer t.Cleanup()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				continue
			}
			if logLineMatches(line.Text, pattern, level) {
				fmt.Println(colorizeLogLine(line.Text))
			}
		case <-cmd.Context().Done():
			return nil
		}
	}
}

func logLineMatches(line, pattern, level string) bool {
	if pattern != "" && !strings.Contains(strings.ToLower(line), pattern) {
		return false
	}
	if level != "" && !strings.Contains(strings.ToLower(line), "level="+strings.ToLower(level)) {
		return false
	}
	return true
}

// colorizeLogLine styles the level token of an opencode log line.
func colorizeLogLine(line string) string {
	for _, level := range []string{"ERROR", "FATAL", "WARN", "INFO", "DEBUG"} {
		token := "level=" + level
		if idx := strings.Index(line, token); idx >= 0 {
			return line[:idx] + cli.LevelStyle(level).Render(token) + line[idx+len(token):]
		}
	}
	return line
}
