package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/mocks"
	"conductor/pkg/agent/llm"
	llmmetrics "conductor/pkg/agent/middleware/metrics"
	"conductor/pkg/events"
	"conductor/pkg/logx"
	"conductor/pkg/orchestrator"
	"conductor/pkg/proto"
)

const classifyChat = `{"intent":"chat","confidence":0.9,"suggested_mode":"chat","reasoning":"question"}`

type testServer struct {
	mock   *mocks.MockLLMClient
	hub    *events.Hub
	orch   *orchestrator.Orchestrator
	server *Server
}

func noPassword() string { return "" }

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ts := &testServer{
		mock: mocks.NewMockLLMClient(),
		hub:  events.NewHub(16),
	}
	t.Cleanup(ts.hub.Close)

	orch, err := orchestrator.New(orchestrator.Options{
		Oracle:   ts.mock,
		Emitter:  ts.hub,
		Headless: true,
	})
	require.NoError(t, err)
	ts.orch = orch

	if opts.Password == nil {
		opts.Password = noPassword
	}
	ts.server = NewServer(orch, ts.hub, opts)
	return ts
}

func (ts *testServer) queueChat(reply string) {
	ts.mock.QueueStageResponse(llm.StageClassify, classifyChat)
	ts.mock.QueueStageResponse(llm.StageChat, reply)
}

func (ts *testServer) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthSkipsAuth(t *testing.T) {
	ts := newTestServer(t, Options{Password: func() string { return "pw" }})

	w := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRequireAuth(t *testing.T) {
	ts := newTestServer(t, Options{Password: func() string { return "pw" }})
	handler := ts.server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="Conductor"`, w.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth(DefaultUsername, "wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth(DefaultUsername, "pw")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPostMessage(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.queueChat("Dart is a client-optimized language.")

	w := ts.do(t, http.MethodPost, "/api/message", `{"conversation_id":"c1","message":"What is Dart?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp proto.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, proto.ModeChat, resp.Mode)
	assert.Contains(t, resp.Message, "client-optimized")
	assert.Empty(t, resp.Error)
}

func TestPostMessageRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, Options{})

	w := ts.do(t, http.MethodPost, "/api/message", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/message", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/message", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

type busyConversations struct {
	*orchestrator.Orchestrator
}

func (busyConversations) Handle(_ context.Context, req proto.Request) proto.Response {
	return proto.Response{
		ConversationID: req.ConversationID,
		Mode:           proto.ModeCode,
		Error:          orchestrator.ErrTurnInProgress.Error(),
	}
}

func TestPostMessageConflict(t *testing.T) {
	hub := events.NewHub(1)
	defer hub.Close()
	server := NewServer(busyConversations{}, hub, Options{Password: noPassword})

	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader(`{"conversation_id":"c1","message":"go"}`))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{Usage: llmmetrics.NewInternalRecorder()})

	w := ts.do(t, http.MethodGet, "/api/conversations/c1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.queueChat("hi")
	w = ts.do(t, http.MethodPost, "/api/message", `{"conversation_id":"c1","message":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/conversations/c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap proto.ConversationSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, "c1", snap.ID)
	assert.Len(t, snap.Messages, 2)

	w = ts.do(t, http.MethodGet, "/api/conversations/c1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats conversationStatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Stats.MessageCount)
	assert.Equal(t, proto.ModeChat, stats.Stats.Mode)
	assert.Nil(t, stats.Usage)
	assert.Nil(t, stats.Prometheus)

	w = ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sys systemStatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sys))
	assert.Equal(t, 1, sys.Stats.ActiveConversations)
	assert.Equal(t, 2, sys.Stats.TotalMessages)

	w = ts.do(t, http.MethodDelete, "/api/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/conversations/c1/stats", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{})
	logx.NewLogger("webui-logs-test").Info("marker line")

	w := ts.do(t, http.MethodGet, "/api/logs?domain=webui-logs-test", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []logx.LogEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, "marker line", entries[len(entries)-1].Message)

	w = ts.do(t, http.MethodGet, "/api/logs?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = ts.do(t, http.MethodGet, "/api/logs?domain=webui-logs-test&since="+future, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "webui_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	ts := newTestServer(t, Options{Gatherer: reg})
	w := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "webui_test_total 1")
}

func dialWS(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, conn *websocket.Conn) WSFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame WSFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocketTurn(t *testing.T) {
	ts := newTestServer(t, Options{})
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "?conversation_id=ws-1", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	hello := readFrame(t, conn)
	assert.Equal(t, FrameConnected, hello.Type)
	assert.Equal(t, "ws-1", hello.ConversationID)

	ts.queueChat("Widgets compose the UI.")
	require.NoError(t, conn.WriteJSON(WSInbound{Type: FrameMessage, Message: "What is a widget?"}))

	var resp *proto.Response
	var eventTypes []proto.EventType
	for resp == nil || !containsEvent(eventTypes, proto.EventComplete) {
		frame := readFrame(t, conn)
		switch frame.Type {
		case FrameResponse:
			resp = frame.Response
		case FrameEvent:
			require.NotNil(t, frame.Event)
			assert.Equal(t, "ws-1", frame.Event.ConversationID)
			eventTypes = append(eventTypes, frame.Event.Type)
		default:
			t.Fatalf("unexpected frame %q", frame.Type)
		}
	}

	assert.Equal(t, proto.ModeChat, resp.Mode)
	assert.Contains(t, resp.Message, "Widgets")
	assert.Equal(t, proto.EventAnalyzing, eventTypes[0])
}

func containsEvent(types []proto.EventType, want proto.EventType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func TestWebSocketRejectsUnknownFrames(t *testing.T) {
	ts := newTestServer(t, Options{})
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	hello := readFrame(t, conn)
	require.NotEmpty(t, hello.ConversationID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	frame := readFrame(t, conn)
	assert.Equal(t, FrameError, frame.Type)
	assert.Contains(t, frame.Error, "subscribe")
	assert.Equal(t, 0, ts.mock.CallCount())
}

func TestWebSocketRequiresAuth(t *testing.T) {
	ts := newTestServer(t, Options{Password: func() string { return "pw" }})
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(DefaultUsername, "pw")
	header.Set("Authorization", req.Header.Get("Authorization"))
	conn, _, err := dialWS(t, srv, "", header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestWebSocketOriginCheckWithAuth(t *testing.T) {
	ts := newTestServer(t, Options{Password: func() string { return "pw" }})
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	auth := func(origin string) http.Header {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.SetBasicAuth(DefaultUsername, "pw")
		header := http.Header{}
		header.Set("Authorization", req.Header.Get("Authorization"))
		if origin != "" {
			header.Set("Origin", origin)
		}
		return header
	}

	_, resp, err := dialWS(t, srv, "", auth("https://evil.example"))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialWS(t, srv, "", auth(srv.URL))
	require.NoError(t, err)
	_ = conn.Close()
}

func TestWebSocketAnyOriginWithoutAuth(t *testing.T) {
	ts := newTestServer(t, Options{Password: func() string { return "" }})
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "", http.Header{"Origin": []string{"https://elsewhere.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}
