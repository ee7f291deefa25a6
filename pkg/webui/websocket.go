package webui

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"conductor/pkg/events"
	"conductor/pkg/proto"
)

// Frame types written to and read from /ws.
const (
	FrameConnected = "connected"
	FrameEvent     = "event"
	FrameResponse  = "response"
	FrameError     = "error"
	FrameMessage   = "message"
)

const wsWriteWait = 10 * time.Second

func (s *Server) newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin admits any origin while auth is off. With auth on, browsers
// replay cached credentials cross-site, so Origin must match Host.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.opts.Password() == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// WSFrame is a server-to-client message.
type WSFrame struct {
	Event          *proto.Event    `json:"event,omitempty"`
	Response       *proto.Response `json:"response,omitempty"`
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// WSInbound is a client-to-server message. Content is accepted as an
// alias of Message.
type WSInbound struct {
	Context map[string]any `json:"context,omitempty"`
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Content string         `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebSocket implements GET /ws?conversation_id=. It streams the
// conversation's events and runs turns sent by the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		convID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	client := &wsClient{conn: conn}
	sub := s.hub.Subscribe(convID)
	defer s.hub.Unsubscribe(sub)

	if err := client.writeJSON(WSFrame{Type: FrameConnected, ConversationID: convID}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.streamEvents(ctx, client, sub)
	}()
	defer wg.Wait()
	defer cancel()

	s.logger.Info("WebSocket client connected for conversation %s", convID)
	s.readLoop(ctx, client, convID)
	s.logger.Info("WebSocket client disconnected for conversation %s", convID)
}

func (s *Server) readLoop(ctx context.Context, client *wsClient, convID string) {
	for {
		var in WSInbound
		if err := client.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error: %v", err)
			}
			return
		}

		if in.Type != FrameMessage {
			_ = client.writeJSON(WSFrame{Type: FrameError, ConversationID: convID, Error: "unsupported frame type: " + in.Type})
			continue
		}

		text := in.Message
		if text == "" {
			text = in.Content
		}
		resp := s.conversations.Handle(ctx, proto.Request{
			ConversationID: convID,
			Message:        text,
			Context:        in.Context,
		})
		if err := client.writeJSON(WSFrame{Type: FrameResponse, ConversationID: convID, Response: &resp}); err != nil {
			s.logger.Warn("WebSocket write failed: %v", err)
			return
		}
	}
}

// streamEvents forwards hub events and pings the client when idle.
func (s *Server) streamEvents(ctx context.Context, client *wsClient, sub *events.Subscription) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := client.writeJSON(WSFrame{Type: FrameEvent, ConversationID: ev.ConversationID, Event: &ev}); err != nil {
				return
			}
			ticker.Reset(s.opts.PingInterval)
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}
