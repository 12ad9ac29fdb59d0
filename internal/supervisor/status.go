package supervisor

import (
	"context"
	"time"

	"github.com/occtl/occtl/internal/store"
)

// busyWindow is how recently an inner session must have been updated before
// its busy flag counts toward "running". Sessions untouched for longer are
// treated as settled even if the server still reports them busy. The value
// is a heuristic carried over from operational experience, not a guaranteed
// liveness bound; tune with care.
const busyWindow = 10 * time.Second

// determineStatus recomputes a session's status from live signals. The
// persisted status field is never consulted. Priority order is fixed:
// process death dominates everything, pending permissions dominate busy
// classification, and any control-plane failure yields "error" rather than
// a guess.
func (s *Supervisor) determineStatus(ctx context.Context, rec *store.SessionRecord) store.Status {
	if !s.isAlive(rec.PID) {
		return store.StatusDead
	}

	api := s.dial(rec.Port)

	permissions, err := api.ListPermissions(ctx)
	if err != nil {
		return store.StatusError
	}
	if len(permissions) > 0 {
		return store.StatusWaitingPermission
	}

	inner, err := api.ListSessions(ctx)
	if err != nil {
		return store.StatusError
	}
	if len(inner) == 0 {
		return store.StatusIdle
	}

	nowMillis := s.clk.Now().UnixMilli()
	for _, sess := range inner {
		if sess.Updated == 0 || nowMillis-sess.Updated >= busyWindow.Milliseconds() {
			continue
		}
		busy, err := api.IsSessionBusy(ctx, sess.ID)
		if err != nil {
			return store.StatusError
		}
		if busy {
			return store.StatusRunning
		}
	}

	return store.StatusIdle
}
