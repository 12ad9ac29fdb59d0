package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occtl/occtl/internal/agent"
	"github.com/occtl/occtl/internal/store"
)

func statusOf(t *testing.T, h *testHarness, id string) store.Status {
	t.Helper()
	rec, err := h.sup.Status(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func TestStatusDeadDominatesEverything(t *testing.T) {
	h := newHarness(t)
	h.alive = func(int) bool { return false }
	h.api.permissions = []agent.Permission{{ID: "perm_1"}}
	h.api.inner = []agent.InnerSession{{ID: "ses_1", Updated: h.clk.Now().UnixMilli()}}
	h.api.busy = map[string]bool{"ses_1": true}
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusDead, statusOf(t, h, "oc-aaaa1111"))
}

func TestStatusPendingPermissionDominatesBusy(t *testing.T) {
	h := newHarness(t)
	h.api.permissions = []agent.Permission{{ID: "perm_1", Permission: "bash"}}
	h.api.inner = []agent.InnerSession{{ID: "ses_1", Updated: h.clk.Now().UnixMilli()}}
	h.api.busy = map[string]bool{"ses_1": true}
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusWaitingPermission, statusOf(t, h, "oc-aaaa1111"))
}

func TestStatusIdleWithoutInnerSessions(t *testing.T) {
	h := newHarness(t)
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusIdle, statusOf(t, h, "oc-aaaa1111"))
}

func TestStatusRunningWhenRecentInnerSessionBusy(t *testing.T) {
	h := newHarness(t)
	h.api.inner = []agent.InnerSession{
		{ID: "ses_1", Updated: h.clk.Now().Add(-5 * busyWindow).UnixMilli()},
		{ID: "ses_2", Updated: h.clk.Now().Add(-busyWindow / 2).UnixMilli()},
	}
	h.api.busy = map[string]bool{"ses_2": true}
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusRunning, statusOf(t, h, "oc-aaaa1111"))
}

func TestStatusIdleWhenBusySessionIsStale(t *testing.T) {
	h := newHarness(t)
	// Busy flag on a session last touched well outside the recency window
	// does not count as running.
	h.api.inner = []agent.InnerSession{
		{ID: "ses_1", Updated: h.clk.Now().Add(-5 * busyWindow).UnixMilli()},
	}
	h.api.busy = map[string]bool{"ses_1": true}
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusIdle, statusOf(t, h, "oc-aaaa1111"))
}

func TestStatusIdleWhenRecentSessionNotBusy(t *testing.T) {
	h := newHarness(t)
	h.api.inner = []agent.InnerSession{
		{ID: "ses_1", Updated: h.clk.Now().UnixMilli()},
	}
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusIdle, statusOf(t, h, "oc-aaaa1111"))
}

func TestStatusErrorOnControlFailure(t *testing.T) {
	h := newHarness(t)
	h.api.permErr = assert.AnError
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusError, statusOf(t, h, "oc-aaaa1111"))
}

func TestStatusErrorOnBusyProbeFailure(t *testing.T) {
	h := newHarness(t)
	h.api.inner = []agent.InnerSession{
		{ID: "ses_1", Updated: h.clk.Now().UnixMilli()},
	}
	h.api.busyErr = assert.AnError
	h.addRecord(t, &store.SessionRecord{ID: "oc-aaaa1111", Port: 9100, PID: 1})

	assert.Equal(t, store.StatusError, statusOf(t, h, "oc-aaaa1111"))
}
