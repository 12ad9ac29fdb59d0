// Package supervisor reconciles persisted session records against the OS
// process table and the opencode control API, and drives the session
// lifecycle: spawn-and-confirm start, signalled stop, status recomputation
// with lazy reaping, and idle cleanup.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	occerrors "github.com/occtl/occtl/errors"
	"github.com/occtl/occtl/internal/agent"
	"github.com/occtl/occtl/internal/store"
	"github.com/occtl/occtl/logging"
	"github.com/occtl/occtl/pkg/clock"
	"github.com/occtl/occtl/pkg/process"
)

const (
	// DefaultStartTimeout bounds the wait for a spawned server's readiness
	// line.
	DefaultStartTimeout = 30 * time.Second

	// DefaultMaxIdle is the cleanup threshold: sessions with no activity
	// for longer than this are stopped by `occtl cleanup`.
	DefaultMaxIdle = 60 * time.Second

	// stopSettle is how long Stop waits after SIGTERM before removing the
	// record, giving the server a moment to release its port.
	stopSettle = 500 * time.Millisecond

	// gitTimeout bounds the uncommitted-changes probe so a wedged git
	// never stalls `occtl list`.
	gitTimeout = 5 * time.Second

	// maxStartAttempts bounds Start's retries when its port reservation is
	// lost to an interleaved stop-and-start before the record commits.
	maxStartAttempts = 3
)

// AgentAPI is the control surface of one opencode server, as the supervisor
// and the CLI consume it. *agent.Client implements it; tests substitute a
// scripted fake.
type AgentAPI interface {
	BaseURL() string
	CreateSession(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, innerID, text, agentName string) (agent.SendResult, error)
	SendMessageAsync(ctx context.Context, innerID, text, agentName string) error
	ListPermissions(ctx context.Context) ([]agent.Permission, error)
	ReplyPermission(ctx context.Context, permissionID, reply, message string) error
	ListSessions(ctx context.Context) ([]agent.InnerSession, error)
	IsSessionBusy(ctx context.Context, innerID string) (bool, error)
	Messages(ctx context.Context, innerID string, limit int) ([]agent.Message, error)
	ForkSession(ctx context.Context, innerID, messageID string) (agent.InnerSession, error)
	Config(ctx context.Context) (json.RawMessage, error)
	WaitForCompletion(ctx context.Context, innerID string, timeout, pollInterval time.Duration) (*agent.Message, error)
}

// DialFunc creates the control client for a session's port.
type DialFunc func(port int) AgentAPI

// Supervisor owns session lifecycle and status reconciliation. All state
// lives in the injected store; a Supervisor itself is cheap and stateless
// across invocations.
type Supervisor struct {
	store    *store.Store
	spawner  Spawner
	dial     DialFunc
	clk      clock.Clock
	executor Executor
	logger   *logrus.Entry

	opencodeBin string
	isAlive     func(pid int) bool
	kill        func(pid int, sig syscall.Signal) error
}

// New creates a Supervisor with production collaborators.
func New(st *store.Store) *Supervisor {
	executor := &RealExecutor{}
	return &Supervisor{
		store:       st,
		spawner:     NewExecSpawner(executor),
		dial:        func(port int) AgentAPI { return agent.NewClient(port) },
		clk:         clock.System{},
		executor:    executor,
		logger:      logging.NewLogger("supervisor"),
		opencodeBin: opencodeBin(),
		isAlive:     process.IsAlive,
		kill:        syscall.Kill,
	}
}

func opencodeBin() string {
	if bin := os.Getenv("OCCTL_OPENCODE_BIN"); bin != "" {
		return bin
	}
	return "opencode"
}

// WithSpawner substitutes the process spawner.
func (s *Supervisor) WithSpawner(spawner Spawner) *Supervisor {
	s.spawner = spawner
	return s
}

// WithDial substitutes the control client factory.
func (s *Supervisor) WithDial(dial DialFunc) *Supervisor {
	s.dial = dial
	return s
}

// WithClock substitutes the clock.
func (s *Supervisor) WithClock(clk clock.Clock) *Supervisor {
	s.clk = clk
	return s
}

// WithProcessProbes substitutes liveness checking and signal delivery.
func (s *Supervisor) WithProcessProbes(isAlive func(int) bool, kill func(int, syscall.Signal) error) *Supervisor {
	s.isAlive = isAlive
	s.kill = kill
	return s
}

// StartOptions configures a session launch.
type StartOptions struct {
	Workdir          string
	Agent            string
	Timeout          time.Duration
	AllowSelfControl bool
}

// Start launches a new opencode server and registers it. The first
// transaction allocates a port and advances the registry's frontier past it,
// which reserves the port against concurrent starts; the slow spawn happens
// outside the lock so other invocations are not blocked; the record is
// committed in a second transaction only after the server proved it is
// listening. The commit re-checks port uniqueness under the lock — a stop
// interleaved during the spawn can walk the frontier back over the reserved
// port — and a lost reservation tears the spawn down and retries with a
// fresh port. A failed spawn leaves no record behind.
func (s *Supervisor) Start(ctx context.Context, opts StartOptions) (*store.SessionRecord, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStartTimeout
	}

	workdir := opts.Workdir
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, occerrors.Wrap(err, occerrors.ErrCodeInternal, "resolving working directory")
		}
		workdir = wd
	}
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return nil, occerrors.Wrap(err, occerrors.ErrCodeInvalidInput, "creating working directory "+workdir)
	}

	sessionID := "oc-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		var port int
		err := s.store.WithTransaction(func(reg *store.Registry) error {
			port = reg.AllocatePort()
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"port":       port,
			"workdir":    workdir,
		}).Info("Starting opencode server")

		spawned, err := s.spawner.Spawn(ctx, SpawnSpec{
			Binary:           s.opencodeBin,
			Port:             port,
			SessionID:        sessionID,
			Workdir:          workdir,
			Agent:            opts.Agent,
			AllowSelfControl: opts.AllowSelfControl,
			Timeout:          opts.Timeout,
		})
		if err != nil {
			s.releasePort(port)
			return nil, occerrors.StartupFailed(port, err.Error())
		}

		now := s.clk.Now()
		rec := &store.SessionRecord{
			ID:           sessionID,
			Port:         port,
			PID:          spawned.PID,
			CreatedAt:    now,
			LastActivity: now,
			ConfigPath:   opts.Workdir,
			Status:       store.StatusRunning,
			Agent:        opts.Agent,
		}

		contested := false
		err = s.store.WithTransaction(func(reg *store.Registry) error {
			for _, existing := range reg.Sessions {
				if existing.Port == port {
					contested = true
					return nil
				}
			}
			reg.AddSession(rec)
			return nil
		})
		if err != nil {
			// The server is up but unregistered; take it back down.
			s.signal(spawned.PID, syscall.SIGTERM)
			return nil, err
		}
		if contested {
			s.logger.WithFields(logrus.Fields{
				"session_id": sessionID,
				"port":       port,
			}).Warn("Port reservation lost to a concurrent start; retrying")
			s.signal(spawned.PID, syscall.SIGTERM)
			continue
		}

		return rec, nil
	}

	return nil, occerrors.New(occerrors.ErrCodeInternal,
		fmt.Sprintf("could not hold a port reservation after %d attempts", maxStartAttempts))
}

// releasePort walks the registry's frontier back over a port whose spawn
// failed, so the next start reuses it. Reclamation is best-effort; on
// failure the port simply sits out until a removal walks the frontier back.
func (s *Supervisor) releasePort(port int) {
	err := s.store.WithTransaction(func(reg *store.Registry) error {
		reg.ReleasePort(port)
		return nil
	})
	if err != nil {
		s.logger.WithField("port", port).WithError(err).Debug("Could not reclaim port")
	}
}

// Stop terminates a session's server and removes its record. Returns false
// when no such session exists. The record is removed even if the process
// already exited; the registry, not the OS, is authoritative here.
func (s *Supervisor) Stop(ctx context.Context, id string, force bool) (bool, error) {
	found := false
	err := s.store.WithTransaction(func(reg *store.Registry) error {
		rec := reg.GetSession(id)
		if rec == nil {
			return nil
		}
		found = true

		sig := syscall.SIGTERM
		if force {
			sig = syscall.SIGKILL
		}
		if s.signal(rec.PID, sig) {
			s.clk.Sleep(stopSettle)
		}

		reg.RemoveSession(id)
		return nil
	})
	if err != nil {
		return false, err
	}
	if found {
		s.logger.WithField("session_id", id).Info("Stopped session")
	}
	return found, nil
}

// Status returns the session record with its status freshly recomputed. A
// record observed dead is removed from the registry (lazy reaping) but still
// returned once, carrying the dead status; the next call reports not found.
func (s *Supervisor) Status(ctx context.Context, id string) (*store.SessionRecord, error) {
	var rec *store.SessionRecord
	err := s.store.WithTransaction(func(reg *store.Registry) error {
		if found := reg.GetSession(id); found != nil {
			cp := *found
			rec = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, occerrors.SessionNotFound(id)
	}

	// Liveness and control-plane probes run outside the lock; network I/O
	// must never extend the registry's critical section.
	rec.Status = s.determineStatus(ctx, rec)
	rec.HasUncommittedChanges = s.gitDirty(rec.ConfigPath)

	if rec.Status == store.StatusDead {
		if err := s.reap(id, rec.PID); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

// List returns all live sessions with recomputed status, sorted by creation
// time. Records whose process died are removed in the same pass and not
// returned.
func (s *Supervisor) List(ctx context.Context) ([]*store.SessionRecord, error) {
	var snapshot []*store.SessionRecord
	err := s.store.WithTransaction(func(reg *store.Registry) error {
		for _, rec := range reg.Sessions {
			cp := *rec
			snapshot = append(snapshot, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var live []*store.SessionRecord
	for _, rec := range snapshot {
		rec.Status = s.determineStatus(ctx, rec)
		if rec.Status == store.StatusDead {
			if err := s.reap(rec.ID, rec.PID); err != nil {
				return nil, err
			}
			continue
		}
		rec.HasUncommittedChanges = s.gitDirty(rec.ConfigPath)
		live = append(live, rec)
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	return live, nil
}

// CleanupIdle stops and removes every session idle for strictly longer than
// maxIdle, returning the removed ids. Idleness is judged purely on the
// activity timestamp; the control API is not consulted.
func (s *Supervisor) CleanupIdle(ctx context.Context, maxIdle time.Duration) ([]string, error) {
	var stopped []string
	err := s.store.WithTransaction(func(reg *store.Registry) error {
		now := s.clk.Now()
		for id, rec := range reg.Sessions {
			if now.Sub(rec.LastActivity) <= maxIdle {
				continue
			}
			s.signal(rec.PID, syscall.SIGTERM)
			reg.RemoveSession(id)
			stopped = append(stopped, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(stopped)
	if len(stopped) > 0 {
		s.logger.WithField("count", len(stopped)).Info("Cleaned up idle sessions")
	}
	return stopped, nil
}

// Touch refreshes a session's activity timestamp. Returns whether the
// session existed.
func (s *Supervisor) Touch(id string) (bool, error) {
	found := false
	err := s.store.WithTransaction(func(reg *store.Registry) error {
		found = reg.TouchActivity(id, s.clk.Now())
		return nil
	})
	return found, err
}

// SendOptions configures message delivery to a session.
type SendOptions struct {
	Agent   string
	Timeout time.Duration
	Wait    bool
}

// Send creates a fresh inner session on an operable session and delivers the
// message to it. With Wait set it blocks for the full reply; otherwise it
// returns immediately with the inner session id for later follow-up.
func (s *Supervisor) Send(ctx context.Context, id, text string, opts SendOptions) (agent.SendResult, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return agent.SendResult{}, err
	}
	if _, err := s.Touch(id); err != nil {
		return agent.SendResult{}, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = agent.DefaultMessageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	api := s.dial(rec.Port)
	innerID, err := api.CreateSession(ctx)
	if err != nil {
		return agent.SendResult{}, err
	}

	if opts.Wait {
		result, err := api.SendMessage(ctx, innerID, text, opts.Agent)
		if err != nil {
			return agent.SendResult{}, err
		}
		return result, nil
	}

	if err := api.SendMessageAsync(ctx, innerID, text, opts.Agent); err != nil {
		return agent.SendResult{}, err
	}
	return agent.SendResult{SessionID: innerID}, nil
}

// WaitForResponse polls until the inner session settles and returns the
// newest assistant message, or nil if the timeout elapsed first.
func (s *Supervisor) WaitForResponse(ctx context.Context, id, innerID string, timeout, pollInterval time.Duration) (*agent.Message, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.dial(rec.Port).WaitForCompletion(ctx, innerID, timeout, pollInterval)
}

// Permissions returns a session's pending permission requests.
func (s *Supervisor) Permissions(ctx context.Context, id string) ([]agent.Permission, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.dial(rec.Port).ListPermissions(ctx)
}

// ApprovePermission grants a pending permission request, permanently when
// always is set.
func (s *Supervisor) ApprovePermission(ctx context.Context, id, permissionID string, always bool) error {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return err
	}
	reply := "once"
	if always {
		reply = "always"
	}
	return s.dial(rec.Port).ReplyPermission(ctx, permissionID, reply, "")
}

// RejectPermission denies a pending permission request with an optional
// explanation shown to the agent.
func (s *Supervisor) RejectPermission(ctx context.Context, id, permissionID, message string) error {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return err
	}
	return s.dial(rec.Port).ReplyPermission(ctx, permissionID, "reject", message)
}

// AttachURL returns the base URL for attaching an interactive client.
func (s *Supervisor) AttachURL(ctx context.Context, id string) (string, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return "", err
	}
	return s.dial(rec.Port).BaseURL(), nil
}

// InnerSessions lists the conversational threads inside a session's server.
func (s *Supervisor) InnerSessions(ctx context.Context, id string) ([]agent.InnerSession, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.dial(rec.Port).ListSessions(ctx)
}

// LatestInnerSession returns the most recently updated inner session, or an
// INVALID_INPUT error when the server has none yet.
func (s *Supervisor) LatestInnerSession(ctx context.Context, id string) (agent.InnerSession, error) {
	inner, err := s.InnerSessions(ctx, id)
	if err != nil {
		return agent.InnerSession{}, err
	}
	if len(inner) == 0 {
		return agent.InnerSession{}, occerrors.New(occerrors.ErrCodeInvalidInput,
			"session has no inner sessions yet")
	}

	latest := inner[0]
	for _, sess := range inner[1:] {
		if sess.Updated > latest.Updated {
			latest = sess
		}
	}
	return latest, nil
}

// SessionChain returns an inner session's compaction lineage: ancestors from
// the root down to the session itself, followed by its direct children in
// creation order.
func (s *Supervisor) SessionChain(ctx context.Context, id, innerID string) ([]agent.InnerSession, error) {
	inner, err := s.InnerSessions(ctx, id)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]agent.InnerSession, len(inner))
	for _, sess := range inner {
		byID[sess.ID] = sess
	}

	var chain []agent.InnerSession
	for currentID := innerID; currentID != ""; {
		sess, ok := byID[currentID]
		if !ok {
			break
		}
		chain = append(chain, sess)
		currentID = sess.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	var children []agent.InnerSession
	for _, sess := range inner {
		if sess.ParentID == innerID {
			children = append(children, sess)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Created < children[j].Created
	})

	return append(chain, children...), nil
}

// Messages returns the newest messages of one inner session, oldest first.
func (s *Supervisor) Messages(ctx context.Context, id, innerID string, limit int) ([]agent.Message, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.dial(rec.Port).Messages(ctx, innerID, limit)
}

// ChainMessages merges the message history of an inner session's full parent
// chain into one timeline, truncated to the newest limit messages.
func (s *Supervisor) ChainMessages(ctx context.Context, id, innerID string, limit int) ([]agent.Message, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return nil, err
	}
	api := s.dial(rec.Port)

	inner, err := api.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]agent.InnerSession, len(inner))
	for _, sess := range inner {
		byID[sess.ID] = sess
	}

	var lineage []string
	for currentID := innerID; currentID != ""; {
		sess, ok := byID[currentID]
		if !ok {
			break
		}
		lineage = append(lineage, currentID)
		currentID = sess.ParentID
	}
	for i, j := 0, len(lineage)-1; i < j; i, j = i+1, j-1 {
		lineage[i], lineage[j] = lineage[j], lineage[i]
	}

	var merged []agent.Message
	for _, sessID := range lineage {
		messages, err := api.Messages(ctx, sessID, 1000)
		if err != nil {
			return nil, err
		}
		merged = append(merged, messages...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged, nil
}

// Fork forks an inner session, optionally truncating history at messageID.
func (s *Supervisor) Fork(ctx context.Context, id, innerID, messageID string) (agent.InnerSession, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return agent.InnerSession{}, err
	}
	return s.dial(rec.Port).ForkSession(ctx, innerID, messageID)
}

// GetConfig returns the server's resolved configuration as the raw JSON
// document.
func (s *Supervisor) GetConfig(ctx context.Context, id string) (json.RawMessage, error) {
	rec, err := s.operable(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.dial(rec.Port).Config(ctx)
}

// HasUncommittedChanges reports whether a session's working directory has
// uncommitted git changes, with the list of changed paths. Sessions without
// a recorded working directory, non-repos, and any git failure all read as
// clean.
func (s *Supervisor) HasUncommittedChanges(id string) (bool, []string, error) {
	var rec *store.SessionRecord
	err := s.store.WithTransaction(func(reg *store.Registry) error {
		if found := reg.GetSession(id); found != nil {
			cp := *found
			rec = &cp
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	if rec == nil {
		return false, nil, occerrors.SessionNotFound(id)
	}

	changed := s.gitChanges(rec.ConfigPath)
	return len(changed) > 0, changed, nil
}

// operable fetches the session with fresh status and fails with
// SESSION_NOT_RUNNING unless it can accept messages.
func (s *Supervisor) operable(ctx context.Context, id string) (*store.SessionRecord, error) {
	rec, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Operable() {
		return nil, occerrors.SessionNotRunning(id, string(rec.Status))
	}
	return rec, nil
}

// reap removes a record observed dead, but only while it still carries the
// PID the observation was made against. Repeated observations remove the
// record exactly once.
func (s *Supervisor) reap(id string, pid int) error {
	return s.store.WithTransaction(func(reg *store.Registry) error {
		if rec := reg.GetSession(id); rec != nil && rec.PID == pid {
			s.logger.WithFields(logrus.Fields{
				"session_id": id,
				"pid":        pid,
			}).Debug("Reaping dead session")
			reg.RemoveSession(id)
		}
		return nil
	})
}

// signal delivers sig to pid, tolerating an already-exited process. Returns
// whether the signal was delivered.
func (s *Supervisor) signal(pid int, sig syscall.Signal) bool {
	err := s.kill(pid, sig)
	if err != nil && err != syscall.ESRCH {
		s.logger.WithFields(logrus.Fields{
			"pid":    pid,
			"signal": sig,
		}).WithError(err).Warn("Signal delivery failed")
	}
	return err == nil
}

func (s *Supervisor) gitDirty(workdir string) bool {
	return len(s.gitChanges(workdir)) > 0
}

// gitChanges shells out to `git status --porcelain`. Any failure, including
// a missing repo, reads as no changes.
func (s *Supervisor) gitChanges(workdir string) []string {
	if workdir == "" {
		return nil
	}
	if info, err := os.Stat(workdir); err != nil || !info.IsDir() {
		return nil
	}
	if info, err := os.Stat(workdir + "/.git"); err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := s.executor.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = workdir
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	var changed []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		// Porcelain lines are "XY path"; strip the two status columns.
		if len(line) > 3 {
			changed = append(changed, line[3:])
		} else {
			changed = append(changed, line)
		}
	}
	return changed
}
