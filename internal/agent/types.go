package agent

// Permission is a pending permission request inside an opencode server.
type Permission struct {
	ID            string
	SessionID     string
	Permission    string
	Patterns      []string
	ToolCallID    string
	ToolMessageID string
}

// InnerSession is a conversational thread inside one opencode server,
// distinct from the occtl-level session record. Timestamps are Unix millis.
type InnerSession struct {
	ID       string
	Title    string
	Created  int64
	Updated  int64
	ParentID string
}

// ToolCall is one tool invocation attached to an assistant message.
type ToolCall struct {
	Name   string
	CallID string
	State  string
	Args   map[string]interface{}
	Result string
}

// Message is one message in an inner session's history. Timestamp is Unix
// millis of creation.
type Message struct {
	ID        string
	Role      string
	Text      string
	Timestamp int64
	ToolCalls []ToolCall
}

// SendResult is the outcome of sending a message to an inner session.
type SendResult struct {
	Text      string
	Raw       map[string]interface{}
	SessionID string
}

// wire formats below mirror the opencode HTTP API.

type wireTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

type wireSession struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Time     wireTime `json:"time"`
	ParentID string   `json:"parentID"`
}

func (w wireSession) toInnerSession() InnerSession {
	return InnerSession{
		ID:       w.ID,
		Title:    w.Title,
		Created:  w.Time.Created,
		Updated:  w.Time.Updated,
		ParentID: w.ParentID,
	}
}

type wirePermission struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"sessionID"`
	Permission string   `json:"permission"`
	Patterns   []string `json:"patterns"`
	Tool       struct {
		CallID    string `json:"callID"`
		MessageID string `json:"messageID"`
	} `json:"tool"`
}

type wirePart struct {
	Type   string                 `json:"type"`
	Text   string                 `json:"text"`
	Tool   string                 `json:"tool"`
	CallID string                 `json:"callID"`
	State  map[string]interface{} `json:"state"`
}

type wireMessage struct {
	Info struct {
		ID   string `json:"id"`
		Role string `json:"role"`
		Time struct {
			Created int64 `json:"created"`
		} `json:"time"`
	} `json:"info"`
	Parts []wirePart `json:"parts"`
}

func (w wireMessage) toMessage() Message {
	msg := Message{
		ID:        w.Info.ID,
		Role:      w.Info.Role,
		Timestamp: w.Info.Time.Created,
	}

	text := ""
	for _, part := range w.Parts {
		switch part.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += part.Text
		case "tool":
			tc := ToolCall{Name: part.Tool, CallID: part.CallID}
			if part.State != nil {
				tc.State, _ = part.State["status"].(string)
				tc.Args, _ = part.State["input"].(map[string]interface{})
				tc.Result, _ = part.State["output"].(string)
			}
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
	}
	msg.Text = text
	return msg
}

type wireSessionStatus struct {
	Type string `json:"type"`
}
