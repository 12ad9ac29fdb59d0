// Package agent is the thin HTTP facade over a spawned opencode server. The
// supervisor uses its polling contract (permissions, inner sessions, busy
// state) to classify session status; the CLI's messaging commands use the
// rest.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	occerrors "github.com/occtl/occtl/errors"
	"github.com/occtl/occtl/pkg/clock"
)

const (
	// controlTimeout bounds the short status/permission queries. These run
	// on every `occtl list`, so they must fail fast when a server hangs.
	controlTimeout = 10 * time.Second

	// DefaultMessageTimeout bounds synchronous message sends, which block
	// until the agent finishes responding.
	DefaultMessageTimeout = 300 * time.Second
)

// Client talks to one opencode server over HTTP.
type Client struct {
	baseURL string
	control *http.Client
	message *http.Client
	clk     clock.Clock
}

// NewClient creates a client for the opencode server on the given local port.
func NewClient(port int) *Client {
	return NewClientURL(fmt.Sprintf("http://localhost:%d", port))
}

// NewClientURL creates a client against an explicit base URL. Tests use this
// to point at an httptest server.
func NewClientURL(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		control: &http.Client{Timeout: controlTimeout},
		message: &http.Client{Timeout: DefaultMessageTimeout},
		clk:     clock.System{},
	}
}

// WithMessageTimeout overrides the synchronous send timeout.
func (c *Client) WithMessageTimeout(d time.Duration) *Client {
	c.message = &http.Client{Timeout: d}
	return c
}

// WithClock substitutes the clock used by polling loops.
func (c *Client) WithClock(clk clock.Clock) *Client {
	c.clk = clk
	return c
}

// BaseURL returns the server's base URL, e.g. for `occtl attach`.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateSession creates a fresh inner session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, c.control, "/session", map[string]interface{}{}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// SendMessage sends a message to an inner session and blocks until the agent
// has produced its full reply.
func (c *Client) SendMessage(ctx context.Context, innerID, text, agentName string) (SendResult, error) {
	body := map[string]interface{}{
		"parts": []map[string]string{{"type": "text", "text": text}},
	}
	if agentName != "" {
		body["agent"] = agentName
	}

	raw, err := c.postRaw(ctx, c.message, "/session/"+innerID+"/message", body)
	if err != nil {
		return SendResult{}, err
	}

	result := SendResult{SessionID: innerID}
	if len(raw) == 0 {
		return result, nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Some responses are plain text; pass them through untouched.
		result.Text = string(raw)
		result.Raw = map[string]interface{}{}
		return result, nil
	}
	result.Raw = parsed

	var texts []string
	if parts, ok := parsed["parts"].([]interface{}); ok {
		for _, p := range parts {
			part, ok := p.(map[string]interface{})
			if !ok || part["type"] != "text" {
				continue
			}
			if t, ok := part["text"].(string); ok {
				texts = append(texts, t)
			}
		}
	}
	result.Text = strings.Join(texts, "\n")
	return result, nil
}

// SendMessageAsync submits a message without waiting for the reply. The
// server acknowledges with 200/204 and keeps processing; callers follow up
// with WaitForCompletion or `occtl tail`.
func (c *Client) SendMessageAsync(ctx context.Context, innerID, text, agentName string) error {
	body := map[string]interface{}{
		"parts": []map[string]string{{"type": "text", "text": text}},
		"async": true,
	}
	if agentName != "" {
		body["agent"] = agentName
	}
	return c.postJSON(ctx, c.control, "/session/"+innerID+"/message", body, nil)
}

// ListPermissions returns the server's pending permission requests.
func (c *Client) ListPermissions(ctx context.Context) ([]Permission, error) {
	var wire []wirePermission
	if err := c.getJSON(ctx, "/permission", &wire); err != nil {
		return nil, err
	}

	perms := make([]Permission, 0, len(wire))
	for _, p := range wire {
		perms = append(perms, Permission{
			ID:            p.ID,
			SessionID:     p.SessionID,
			Permission:    p.Permission,
			Patterns:      p.Patterns,
			ToolCallID:    p.Tool.CallID,
			ToolMessageID: p.Tool.MessageID,
		})
	}
	return perms, nil
}

// ReplyPermission answers a pending permission request. reply is one of
// "once", "always", or "reject"; message optionally explains a rejection.
func (c *Client) ReplyPermission(ctx context.Context, permissionID, reply, message string) error {
	body := map[string]interface{}{"reply": reply}
	if message != "" {
		body["message"] = message
	}
	return c.postJSON(ctx, c.control, "/permission/"+permissionID+"/reply", body, nil)
}

// ListSessions returns the server's inner sessions.
func (c *Client) ListSessions(ctx context.Context) ([]InnerSession, error) {
	var wire []wireSession
	if err := c.getJSON(ctx, "/session", &wire); err != nil {
		return nil, err
	}

	sessions := make([]InnerSession, 0, len(wire))
	for _, s := range wire {
		sessions = append(sessions, s.toInnerSession())
	}
	return sessions, nil
}

// SessionStatus returns the busy/idle classification per inner session id.
func (c *Client) SessionStatus(ctx context.Context) (map[string]string, error) {
	var wire map[string]wireSessionStatus
	if err := c.getJSON(ctx, "/session/status", &wire); err != nil {
		return nil, err
	}

	status := make(map[string]string, len(wire))
	for id, s := range wire {
		status[id] = s.Type
	}
	return status, nil
}

// IsSessionBusy reports whether an inner session is actively processing.
// "retry" counts as busy: the agent is rate-limited but still working.
func (c *Client) IsSessionBusy(ctx context.Context, innerID string) (bool, error) {
	status, err := c.SessionStatus(ctx)
	if err != nil {
		return false, err
	}
	switch status[innerID] {
	case "busy", "retry":
		return true, nil
	}
	return false, nil
}

// Messages returns the most recent messages of an inner session, oldest
// first, truncated to limit from the end.
func (c *Client) Messages(ctx context.Context, innerID string, limit int) ([]Message, error) {
	var wire []wireMessage
	if err := c.getJSON(ctx, "/session/"+innerID+"/message", &wire); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(wire))
	for _, m := range wire {
		messages = append(messages, m.toMessage())
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// ForkSession forks an inner session, copying its conversation history.
// messageID, when set, bounds the copy to messages before it.
func (c *Client) ForkSession(ctx context.Context, innerID, messageID string) (InnerSession, error) {
	body := map[string]interface{}{}
	if messageID != "" {
		body["messageID"] = messageID
	}

	var wire wireSession
	if err := c.postJSON(ctx, c.control, "/session/"+innerID+"/fork", body, &wire); err != nil {
		return InnerSession{}, err
	}
	return wire.toInnerSession(), nil
}

// Config returns the server's resolved configuration (permissions, agents,
// tool overrides) as the raw JSON document. The document is kept raw because
// permission rule order is positional; see the rules package for typed
// access.
func (c *Client) Config(ctx context.Context) (json.RawMessage, error) {
	var cfg json.RawMessage
	if err := c.getJSON(ctx, "/config", &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WaitForCompletion polls until the inner session stops processing and an
// assistant reply is present, then returns the newest assistant message. A
// nil message with nil error means the timeout elapsed; transport failures
// propagate.
func (c *Client) WaitForCompletion(ctx context.Context, innerID string, timeout, pollInterval time.Duration) (*Message, error) {
	deadline := c.clk.Now().Add(timeout)

	for c.clk.Now().Before(deadline) {
		busy, err := c.IsSessionBusy(ctx, innerID)
		if err != nil {
			return nil, err
		}
		if !busy {
			messages, err := c.Messages(ctx, innerID, 20)
			if err != nil {
				return nil, err
			}
			for i := len(messages) - 1; i >= 0; i-- {
				if messages[i].Role == "assistant" {
					msg := messages[i]
					return &msg, nil
				}
			}
		}
		c.clk.Sleep(pollInterval)
	}

	return nil, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return occerrors.AgentUnreachable(err, c.baseURL)
	}

	resp, err := c.control.Do(req)
	if err != nil {
		return occerrors.AgentUnreachable(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return occerrors.AgentStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return occerrors.AgentUnreachable(err, c.baseURL)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, client *http.Client, path string, body, out interface{}) error {
	raw, err := c.doPost(ctx, client, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return occerrors.AgentUnreachable(err, c.baseURL)
	}
	return nil
}

func (c *Client) postRaw(ctx context.Context, client *http.Client, path string, body interface{}) ([]byte, error) {
	return c.doPost(ctx, client, path, body)
}

func (c *Client) doPost(ctx context.Context, client *http.Client, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, occerrors.AgentUnreachable(err, c.baseURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, occerrors.AgentUnreachable(err, c.baseURL)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, occerrors.AgentUnreachable(err, c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, occerrors.AgentStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, occerrors.AgentUnreachable(err, c.baseURL)
	}
	return raw, nil
}
