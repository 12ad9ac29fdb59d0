package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	occerrors "github.com/occtl/occtl/errors"
)

// fakeClock advances manually; Sleep steps time forward so polling loops
// terminate without wall-clock delays.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClientURL(srv.URL), srv
}

func TestNewClientURLStripsTrailingSlash(t *testing.T) {
	c := NewClientURL("http://localhost:9100/")
	assert.Equal(t, "http://localhost:9100", c.BaseURL())
}

func TestCreateSession(t *testing.T) {
	var gotPath string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"id": "ses_abc123"})
	}))
	defer srv.Close()

	id, err := c.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ses_abc123", id)
	assert.Equal(t, "POST /session", gotPath)
}

func TestSendMessageJoinsTextParts(t *testing.T) {
	var gotBody map[string]interface{}
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/ses_1/message", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"parts": []map[string]interface{}{
				{"type": "text", "text": "first"},
				{"type": "step-start"},
				{"type": "text", "text": "second"},
			},
		})
	}))
	defer srv.Close()

	result, err := c.SendMessage(context.Background(), "ses_1", "hello", "build")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", result.Text)
	assert.Equal(t, "ses_1", result.SessionID)

	assert.Equal(t, "build", gotBody["agent"])
	parts := gotBody["parts"].([]interface{})
	require.Len(t, parts, 1)
	part := parts[0].(map[string]interface{})
	assert.Equal(t, "text", part["type"])
	assert.Equal(t, "hello", part["text"])
}

func TestSendMessageOmitsEmptyAgent(t *testing.T) {
	var gotBody map[string]interface{}
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := c.SendMessage(context.Background(), "ses_1", "hi", "")
	require.NoError(t, err)
	_, present := gotBody["agent"]
	assert.False(t, present)
}

func TestSendMessagePlainTextResponse(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	result, err := c.SendMessage(context.Background(), "ses_1", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "not json at all", result.Text)
}

func TestSendMessageEmptyResponse(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	result, err := c.SendMessage(context.Background(), "ses_1", "hi", "")
	require.NoError(t, err)
	assert.Empty(t, result.Text)
}

func TestSendMessageAsync(t *testing.T) {
	var gotBody map[string]interface{}
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, c.SendMessageAsync(context.Background(), "ses_1", "go", ""))
	assert.Equal(t, true, gotBody["async"])
}

func TestSendMessageAsyncServerError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := c.SendMessageAsync(context.Background(), "ses_1", "go", "")
	require.Error(t, err)
	assert.Equal(t, occerrors.ErrCodeAgentUnreachable, occerrors.GetCode(err))
}

func TestListPermissions(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/permission", r.URL.Path)
		w.Write([]byte(`[
			{"id": "perm_1", "sessionID": "ses_1", "permission": "bash",
			 "patterns": ["rm *"],
			 "tool": {"callID": "call_9", "messageID": "msg_4"}},
			{"id": "perm_2", "sessionID": "ses_1", "permission": "edit"}
		]`))
	}))
	defer srv.Close()

	perms, err := c.ListPermissions(context.Background())
	require.NoError(t, err)
	require.Len(t, perms, 2)

	assert.Equal(t, "perm_1", perms[0].ID)
	assert.Equal(t, "bash", perms[0].Permission)
	assert.Equal(t, []string{"rm *"}, perms[0].Patterns)
	assert.Equal(t, "call_9", perms[0].ToolCallID)
	assert.Equal(t, "msg_4", perms[0].ToolMessageID)

	// Missing tool object leaves the tool fields empty.
	assert.Empty(t, perms[1].ToolCallID)
	assert.Empty(t, perms[1].ToolMessageID)
}

func TestReplyPermission(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = map[string]interface{}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, c.ReplyPermission(context.Background(), "perm_1", "reject", "too risky"))
	assert.Equal(t, "/permission/perm_1/reply", gotPath)
	assert.Equal(t, "reject", gotBody["reply"])
	assert.Equal(t, "too risky", gotBody["message"])

	require.NoError(t, c.ReplyPermission(context.Background(), "perm_2", "once", ""))
	_, present := gotBody["message"]
	assert.False(t, present)
}

func TestListSessions(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": "ses_1", "title": "root", "time": {"created": 1000, "updated": 2000}},
			{"id": "ses_2", "title": "child", "time": {"created": 1500, "updated": 2500}, "parentID": "ses_1"}
		]`))
	}))
	defer srv.Close()

	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, "ses_1", sessions[0].ID)
	assert.Equal(t, int64(2000), sessions[0].Updated)
	assert.Empty(t, sessions[0].ParentID)
	assert.Equal(t, "ses_1", sessions[1].ParentID)
}

func TestIsSessionBusy(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/status", r.URL.Path)
		w.Write([]byte(`{
			"ses_busy": {"type": "busy"},
			"ses_retry": {"type": "retry"},
			"ses_idle": {"type": "idle"}
		}`))
	}))
	defer srv.Close()

	for id, want := range map[string]bool{
		"ses_busy":    true,
		"ses_retry":   true,
		"ses_idle":    false,
		"ses_unknown": false,
	} {
		busy, err := c.IsSessionBusy(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, busy, id)
	}
}

func TestMessagesParsingAndLimit(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/ses_1/message", r.URL.Path)
		w.Write([]byte(`[
			{"info": {"id": "msg_2", "role": "assistant", "time": {"created": 2000}},
			 "parts": [
				{"type": "text", "text": "running it"},
				{"type": "tool", "tool": "bash", "callID": "call_1",
				 "state": {"status": "completed", "input": {"command": "ls"}, "output": "a b"}}
			 ]},
			{"info": {"id": "msg_1", "role": "user", "time": {"created": 1000}},
			 "parts": [{"type": "text", "text": "run ls"}]},
			{"info": {"id": "msg_3", "role": "assistant", "time": {"created": 3000}},
			 "parts": [{"type": "text", "text": "done"}]}
		]`))
	}))
	defer srv.Close()

	messages, err := c.Messages(context.Background(), "ses_1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// Sorted oldest first regardless of wire order.
	assert.Equal(t, "msg_1", messages[0].ID)
	assert.Equal(t, "msg_3", messages[2].ID)

	require.Len(t, messages[1].ToolCalls, 1)
	tc := messages[1].ToolCalls[0]
	assert.Equal(t, "bash", tc.Name)
	assert.Equal(t, "call_1", tc.CallID)
	assert.Equal(t, "completed", tc.State)
	assert.Equal(t, "ls", tc.Args["command"])
	assert.Equal(t, "a b", tc.Result)

	// Limit keeps the newest messages.
	limited, err := c.Messages(context.Background(), "ses_1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "msg_2", limited[0].ID)
	assert.Equal(t, "msg_3", limited[1].ID)
}

func TestForkSession(t *testing.T) {
	var gotBody map[string]interface{}
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/ses_1/fork", r.URL.Path)
		gotBody = map[string]interface{}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"id": "ses_fork", "title": "root (fork)",
			"time": {"created": 5000, "updated": 5000}, "parentID": "ses_1"}`))
	}))
	defer srv.Close()

	forked, err := c.ForkSession(context.Background(), "ses_1", "msg_2")
	require.NoError(t, err)
	assert.Equal(t, "ses_fork", forked.ID)
	assert.Equal(t, "ses_1", forked.ParentID)
	assert.Equal(t, "msg_2", gotBody["messageID"])

	_, err = c.ForkSession(context.Background(), "ses_1", "")
	require.NoError(t, err)
	_, present := gotBody["messageID"]
	assert.False(t, present)
}

func TestConfig(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/config", r.URL.Path)
		w.Write([]byte(`{"permission": {"bash": "ask"}, "model": "anthropic/claude"}`))
	}))
	defer srv.Close()

	cfg, err := c.Config(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"permission": {"bash": "ask"}, "model": "anthropic/claude"}`, string(cfg))
}

func TestWaitForCompletionReturnsNewestAssistant(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/status":
			calls++
			if calls < 3 {
				w.Write([]byte(`{"ses_1": {"type": "busy"}}`))
			} else {
				w.Write([]byte(`{"ses_1": {"type": "idle"}}`))
			}
		case "/session/ses_1/message":
			w.Write([]byte(`[
				{"info": {"id": "msg_1", "role": "user", "time": {"created": 1000}},
				 "parts": [{"type": "text", "text": "hi"}]},
				{"info": {"id": "msg_2", "role": "assistant", "time": {"created": 2000}},
				 "parts": [{"type": "text", "text": "hello"}]}
			]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	c, srv := newTestClient(handler)
	defer srv.Close()
	c.WithClock(&fakeClock{now: time.Unix(0, 0)})

	msg, err := c.WaitForCompletion(context.Background(), "ses_1", 10*time.Second, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "msg_2", msg.ID)
	assert.Equal(t, "hello", msg.Text)
}

func TestWaitForCompletionTimeout(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ses_1": {"type": "busy"}}`))
	}))
	defer srv.Close()
	c.WithClock(&fakeClock{now: time.Unix(0, 0)})

	msg, err := c.WaitForCompletion(context.Background(), "ses_1", 3*time.Second, time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestServerErrorCarriesStatus(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := c.ListSessions(context.Background())
	require.Error(t, err)
	assert.Equal(t, occerrors.ErrCodeAgentUnreachable, occerrors.GetCode(err))
	assert.Contains(t, err.Error(), "404")
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClientURL(srv.URL)
	srv.Close()

	_, err := c.CreateSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, occerrors.ErrCodeAgentUnreachable, occerrors.GetCode(err))
}
