package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"toolchat/internal/domain"
	"toolchat/internal/instance"
	"toolchat/internal/render"
)

// DefaultSessionID is used when a chat message arrives without a session.
const DefaultSessionID = "default"

// WSMessage is the JSON protocol of the chat socket.
// Example: {"type": "chat", "content": "make a tip calculator", "sessionId": "s1"}
type WSMessage struct {
	Type      string              `json:"type"`
	Content   string              `json:"content,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	Force     domain.ResponseType `json:"force,omitempty"`
	Reply     *ReplyPayload       `json:"reply,omitempty"`
}

// ToolMessage is the JSON protocol of a tool socket. Clients send "set"
// and "run"; the server sends "view" and "error".
type ToolMessage struct {
	Type   string       `json:"type"`
	Input  string       `json:"input,omitempty"`
	Value  any          `json:"value,omitempty"`
	Action string       `json:"action,omitempty"`
	View   *render.View `json:"view,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// jsonMarshal is used when encoding socket messages; tests may replace it to force Marshal errors.
// Access is protected by jsonMarshalMu for race-safe test swaps.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

// Default upgrader for WebSocket connections.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg any) {
	jsonMarshalMu.RLock()
	marshal := jsonMarshal
	jsonMarshalMu.RUnlock()
	data, err := marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

// chatSocket runs chat turns. Each "chat" message is answered with
// typing_start, then a "reply" or "error", then typing_stop.
func (s *Server) chatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Warn("gateway: ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}
	ctx := context.WithoutCancel(r.Context())

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			c.send(WSMessage{Type: "error", Content: "invalid JSON"})
			continue
		}
		if in.Type != "chat" {
			c.send(WSMessage{Type: "error", Content: "unsupported message type: " + in.Type, SessionID: in.SessionID})
			continue
		}
		sessionID := in.SessionID
		if sessionID == "" {
			sessionID = DefaultSessionID
		}

		c.send(WSMessage{Type: "typing_start", SessionID: sessionID})
		p, err := s.submit(ctx, sessionID, ChatRequest{Input: in.Content, Force: in.Force})
		if err != nil {
			c.send(WSMessage{Type: "error", Content: err.Error(), SessionID: sessionID})
		} else {
			c.send(WSMessage{Type: "reply", SessionID: sessionID, Reply: &p})
		}
		c.send(WSMessage{Type: "typing_stop", SessionID: sessionID})
	}
}

// toolSocket streams the view of one instance. The view is pushed on
// connect and after every input change or finished action.
func (s *Server) toolSocket(w http.ResponseWriter, r *http.Request) {
	in, ok := s.instance(w, r)
	if !ok {
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Warn("gateway: ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	c := &wsConn{conn: conn}
	ctx := context.WithoutCancel(r.Context())

	push := func(in *instance.Instance) {
		v, err := in.View()
		if err != nil {
			c.send(ToolMessage{Type: "error", Error: err.Error()})
			return
		}
		c.send(ToolMessage{Type: "view", View: &v})
	}
	cancel := in.Watch(push)
	defer cancel()
	push(in)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ToolMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send(ToolMessage{Type: "error", Error: "invalid JSON"})
			continue
		}
		switch msg.Type {
		case "set":
			if err := in.State.Set(msg.Input, msg.Value); err != nil {
				c.send(ToolMessage{Type: "error", Input: msg.Input, Error: err.Error()})
			}
		case "run":
			if _, err := s.deps.Registry.Trigger(ctx, in.ID, msg.Action); err != nil {
				c.send(ToolMessage{Type: "error", Action: msg.Action, Error: err.Error()})
			}
		default:
			c.send(ToolMessage{Type: "error", Error: "unsupported message type: " + msg.Type})
		}
	}
}
