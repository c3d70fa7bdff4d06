package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/ai"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/commerce"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/config"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/hub"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/protocol"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/relay"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/store"
)

type stubResponder struct{}

func (stubResponder) GenerateReply(ctx context.Context, userMessage string, c ai.Context) *ai.Reply {
	return &ai.Reply{
		Message:    "echo: " + userMessage,
		Intent:     domain.IntentGeneralQuestion,
		Confidence: 0.8,
		Sentiment:  domain.SentimentNeutral,
	}
}

type stubCommerce struct{}

func (stubCommerce) Recommendations(ctx context.Context, limit int) ([]commerce.Product, error) {
	return nil, nil
}

func (stubCommerce) FindOrder(ctx context.Context, term string) (*commerce.Order, error) {
	return nil, nil
}

type testEnv struct {
	server  *httptest.Server
	store   store.Store
	session *domain.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(t.TempDir() + "/ws_test.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	shop, err := st.GetOrCreateStore(ctx, "ws-test.myshopify.com")
	if err != nil {
		t.Fatalf("GetOrCreateStore failed: %v", err)
	}
	sess := &domain.Session{
		ID:        uuid.New().String(),
		StoreID:   shop.ID,
		Token:     uuid.New().String(),
		Channel:   "web",
		Language:  "en",
		Status:    domain.SessionStatusActive,
		StartedAt: time.Now(),
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	cfg := &config.Config{
		PingInterval:   25 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxMessageSize: 65536,
		HistoryWindow:  10,
	}
	h := hub.NewHub()
	r := relay.New(st, h, stubResponder{}, stubCommerce{}, cfg.HistoryWindow)
	srv := NewServer(cfg, h, st, r)

	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: st, session: sess}
}

func (env *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	if token != "" {
		url += "?sessionId=" + token
	}
	socket, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { socket.Close() })
	return socket
}

func readEvent(t *testing.T, socket *websocket.Conn) map[string]interface{} {
	t.Helper()
	socket.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := socket.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Invalid JSON %q: %v", data, err)
	}
	return ev
}

// readUntil reads events until one matches the wanted type.
func readUntil(t *testing.T, socket *websocket.Conn, eventType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 10; i++ {
		ev := readEvent(t, socket)
		if ev["type"] == eventType {
			return ev
		}
	}
	t.Fatalf("Never received %q event", eventType)
	return nil
}

func TestHandshakeAck(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, env.session.Token)

	ev := readEvent(t, socket)
	if ev["type"] != protocol.TypeConnected {
		t.Fatalf("Expected connected event, got %v", ev)
	}
	if ev["sessionId"] != env.session.Token {
		t.Fatalf("Ack names wrong session: %v", ev["sessionId"])
	}
}

func TestHandshakeUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, "no-such-token")

	ev := readEvent(t, socket)
	if ev["type"] != protocol.TypeError {
		t.Fatalf("Expected error event, got %v", ev)
	}

	// The server closes right after the error.
	socket.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := socket.ReadMessage(); err == nil {
		t.Fatalf("Expected the socket to be closed")
	}
}

func TestHandshakeMissingToken(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, "")

	ev := readEvent(t, socket)
	if ev["type"] != protocol.TypeError {
		t.Fatalf("Expected error event, got %v", ev)
	}
}

func TestChatMessageRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, env.session.Token)
	readUntil(t, socket, protocol.TypeConnected)

	err := socket.WriteJSON(&protocol.ChatMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		Message:   "hello there",
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	ev := readUntil(t, socket, protocol.TypeMessage)
	if ev["message"] != "echo: hello there" {
		t.Fatalf("Expected assistant echo, got %v", ev["message"])
	}
	if ev["sender"] != string(domain.SenderBot) {
		t.Fatalf("Expected bot sender, got %v", ev["sender"])
	}

	// Both sides of the turn persisted.
	msgs, err := env.store.SessionMessages(context.Background(), env.session.ID)
	if err != nil {
		t.Fatalf("SessionMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 persisted messages, got %d", len(msgs))
	}
}

func TestSpoofedSessionIDIgnored(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, env.session.Token)
	readUntil(t, socket, protocol.TypeConnected)

	// The payload claims a different session; the turn must land on the
	// session the connection registered with.
	err := socket.WriteJSON(&protocol.ChatMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		SessionID: "some-other-session",
		Message:   "hi",
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	readUntil(t, socket, protocol.TypeMessage)

	msgs, err := env.store.SessionMessages(context.Background(), env.session.ID)
	if err != nil {
		t.Fatalf("SessionMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Turn should land on the registered session, got %d messages", len(msgs))
	}
}

func TestTypingRelayedToPeer(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, env.session.Token)
	b := env.dial(t, env.session.Token)
	readUntil(t, a, protocol.TypeConnected)
	readUntil(t, b, protocol.TypeConnected)

	err := a.WriteJSON(&protocol.TypingEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeTyping},
		Typing:    true,
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	ev := readUntil(t, b, protocol.TypeTyping)
	if ev["typing"] != true {
		t.Fatalf("Expected typing:true, got %v", ev)
	}
}

func TestQuickActionGetHelp(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, env.session.Token)
	readUntil(t, socket, protocol.TypeConnected)

	err := socket.WriteJSON(&protocol.QuickActionEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeQuickAction},
		Action:    protocol.ActionGetHelp,
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	ev := readUntil(t, socket, protocol.TypeMessage)
	if !strings.Contains(ev["message"].(string), "here to help") {
		t.Fatalf("Expected canned help reply, got %v", ev["message"])
	}
}

func TestUnknownFrameType(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, env.session.Token)
	readUntil(t, socket, protocol.TypeConnected)

	if err := socket.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	ev := readUntil(t, socket, protocol.TypeError)
	if !strings.Contains(ev["message"].(string), "unknown message type") {
		t.Fatalf("Expected unknown-type error, got %v", ev)
	}

	if err := socket.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	ev = readUntil(t, socket, protocol.TypeError)
	if ev["message"] != "invalid JSON message" {
		t.Fatalf("Expected invalid JSON error, got %v", ev)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	socket := env.dial(t, env.session.Token)
	readUntil(t, socket, protocol.TypeConnected)

	err := socket.WriteJSON(&protocol.ChatMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
	})
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	ev := readUntil(t, socket, protocol.TypeError)
	if ev["message"] != "message text is required" {
		t.Fatalf("Expected required-text error, got %v", ev)
	}
}
