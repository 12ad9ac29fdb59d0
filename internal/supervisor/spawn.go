package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/occtl/occtl/logging"
)

// readyPattern matches the line an opencode server prints once it accepts
// connections.
var readyPattern = regexp.MustCompile(`opencode server listening on (https?://[^\s]+)`)

// SpawnSpec describes one server launch.
type SpawnSpec struct {
	Binary    string
	Port      int
	SessionID string
	Workdir   string
	Agent     string

	// AllowSelfControl leaves `bash:occtl` out of the server's command
	// blacklist, letting the spawned agent drive occtl itself.
	AllowSelfControl bool

	// Timeout bounds the readiness wait.
	Timeout time.Duration
}

// Spawned is a launched-and-ready server process.
type Spawned struct {
	PID int
	URL string
}

// Spawner launches an opencode server and blocks until it is ready.
// Implementations terminate the process themselves on failure, so a non-nil
// error never leaves a stray server behind.
type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec) (Spawned, error)
}

// ExecSpawner launches real server processes in their own session group, so
// they outlive the short occtl invocation that started them.
type ExecSpawner struct {
	executor Executor
	logger   *logrus.Entry
}

// NewExecSpawner creates the production spawner.
func NewExecSpawner(executor Executor) *ExecSpawner {
	return &ExecSpawner{
		executor: executor,
		logger:   logging.NewLogger("spawner"),
	}
}

// Spawn launches `<binary> serve --port <port>` in the spec's working
// directory and scans its stdout for the readiness line. On timeout or early
// exit the process is terminated and a descriptive error is returned.
func (s *ExecSpawner) Spawn(ctx context.Context, spec SpawnSpec) (Spawned, error) {
	cmd := s.executor.Command(spec.Binary, "serve", "--port", strconv.Itoa(spec.Port))
	cmd.Env = spawnEnv(spec)
	cmd.Dir = spec.Workdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Spawned{}, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Spawned{}, fmt.Errorf("launching %s: %w", spec.Binary, err)
	}
	s.logger.Debugf("Spawned %s serve --port %d (pid %d)", spec.Binary, spec.Port, cmd.Process.Pid)

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// stdout closed before the readiness line; wait for the exit
				// status below.
				select {
				case err := <-exited:
					return Spawned{}, fmt.Errorf("process exited before becoming ready: %v", err)
				case <-timer.C:
					s.terminate(cmd.Process.Pid)
					return Spawned{}, fmt.Errorf("no readiness signal within %s", spec.Timeout)
				}
			}
			if m := readyPattern.FindStringSubmatch(line); m != nil {
				return Spawned{PID: cmd.Process.Pid, URL: m[1]}, nil
			}
		case err := <-exited:
			return Spawned{}, fmt.Errorf("process exited before becoming ready: %v", err)
		case <-timer.C:
			s.terminate(cmd.Process.Pid)
			return Spawned{}, fmt.Errorf("no readiness signal within %s", spec.Timeout)
		case <-ctx.Done():
			s.terminate(cmd.Process.Pid)
			return Spawned{}, ctx.Err()
		}
	}
}

func (s *ExecSpawner) terminate(pid int) {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		s.logger.Warnf("Failed to terminate pid %d: %v", pid, err)
	}
}

// spawnEnv builds the child environment: the session id, the parent session
// id when discoverable, and the occtl self-invocation blacklist.
func spawnEnv(spec SpawnSpec) []string {
	env := os.Environ()

	// A parent session id comes from our own environment when occtl runs
	// nested inside an agent, or from the main-session marker file otherwise.
	parentID := os.Getenv("OPENCODE_SESSION_ID")
	if parentID == "" {
		marker := fmt.Sprintf("/tmp/opencode-main-session-%d.id", os.Getuid())
		if data, err := os.ReadFile(marker); err == nil {
			parentID = strings.TrimSpace(string(data))
		}
	}
	if parentID != "" {
		env = setEnv(env, "OPENCODE_PARENT_SESSION_ID", parentID)
	}

	env = setEnv(env, "OPENCODE_SESSION_ID", spec.SessionID)

	if !spec.AllowSelfControl {
		const occtlBlock = "bash:occtl"
		existing := os.Getenv("OPENCODE_BLACKLIST")
		switch {
		case existing == "":
			env = setEnv(env, "OPENCODE_BLACKLIST", occtlBlock)
		case !strings.Contains(existing, occtlBlock):
			env = setEnv(env, "OPENCODE_BLACKLIST", existing+","+occtlBlock)
		}
	}

	return env
}

// setEnv replaces or appends key=value in an environ slice.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
