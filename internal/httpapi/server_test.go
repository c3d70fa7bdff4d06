package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/ai"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/commerce"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/hub"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/relay"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/store"
)

type stubResponder struct {
	reply *ai.Reply
}

func (s *stubResponder) GenerateReply(ctx context.Context, userMessage string, c ai.Context) *ai.Reply {
	if s.reply != nil {
		return s.reply
	}
	return &ai.Reply{
		Message:          "echo: " + userMessage,
		Intent:           domain.IntentGeneralQuestion,
		Confidence:       0.8,
		Sentiment:        domain.SentimentNeutral,
		SuggestedActions: []string{"Continue Conversation"},
	}
}

type stubCommerce struct {
	products []commerce.Product
	order    *commerce.Order
}

func (s *stubCommerce) Recommendations(ctx context.Context, limit int) ([]commerce.Product, error) {
	return s.products, nil
}

func (s *stubCommerce) FindOrder(ctx context.Context, term string) (*commerce.Order, error) {
	return s.order, nil
}

type testEnv struct {
	server    *httptest.Server
	store     store.Store
	hub       *hub.Hub
	responder *stubResponder
	commerce  *stubCommerce
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(t.TempDir() + "/api_test.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	h := hub.NewHub()
	responder := &stubResponder{}
	com := &stubCommerce{}
	r := relay.New(st, h, responder, com, 10)

	noWS := func(c echo.Context) error { return c.NoContent(http.StatusNotImplemented) }
	srv := NewServer(st, h, r, nil, noWS)
	server := httptest.NewServer(srv.echo)
	t.Cleanup(server.Close)

	return &testEnv{server: server, store: st, hub: h, responder: responder, commerce: com}
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	return env.do(t, http.MethodPost, path, body)
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return resp, decoded
}

func (env *testEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	return env.do(t, http.MethodGet, path, nil)
}

func (env *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, body := env.post(t, "/api/chat/session", map[string]string{
		"shopDomain": "api-test.myshopify.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, body)
	}
	token, _ := body["sessionToken"].(string)
	if token == "" {
		t.Fatalf("Missing session token: %v", body)
	}
	return token
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.post(t, "/api/chat/session", map[string]string{
		"shopDomain":    "api-test.myshopify.com",
		"customerEmail": "jo@example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["welcomeMessage"] != "Hi! How can I help you today?" {
		t.Fatalf("Expected default welcome message, got %v", body["welcomeMessage"])
	}

	token := body["sessionToken"].(string)
	sess, err := env.store.GetSessionByToken(context.Background(), token)
	if err != nil || sess == nil {
		t.Fatalf("Session not persisted: %v", err)
	}
	if sess.CustomerEmail != "jo@example.com" {
		t.Fatalf("Customer identity dropped: %+v", sess)
	}
	if sess.Language != "en" || sess.Channel != "web" {
		t.Fatalf("Expected defaults for language and channel: %+v", sess)
	}
}

func TestCreateSessionPersistsGreeting(t *testing.T) {
	env := newTestEnv(t)
	token := env.createSession(t)

	sess, err := env.store.GetSessionByToken(context.Background(), token)
	if err != nil || sess == nil {
		t.Fatalf("Session lookup failed: %v", err)
	}
	msgs, err := env.store.SessionMessages(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("SessionMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Fresh session should hold the greeting, got %d messages", len(msgs))
	}
	greeting := msgs[0]
	if greeting.Message != "Hi! How can I help you today?" {
		t.Fatalf("Wrong greeting text: %q", greeting.Message)
	}
	if greeting.Sender != domain.SenderBot || !greeting.IsAI {
		t.Fatalf("Greeting must come from the bot: %+v", greeting)
	}
	if greeting.Intent != domain.IntentGreeting || greeting.Confidence != 1.0 {
		t.Fatalf("Greeting classification wrong: intent=%q confidence=%v", greeting.Intent, greeting.Confidence)
	}

	// The first turn's history window starts with the greeting.
	recent, err := env.store.RecentMessages(context.Background(), sess.ID, 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Intent != domain.IntentGreeting {
		t.Fatalf("History window missing the greeting: %+v", recent)
	}
}

func TestCreateSessionRequiresShopDomain(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.post(t, "/api/chat/session", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t)
	token := env.createSession(t)

	resp, body := env.post(t, "/api/chat/message", map[string]string{
		"sessionId": token,
		"message":   "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["response"] != "echo: hello" {
		t.Fatalf("Expected assistant echo, got %v", body["response"])
	}
	if body["intent"] != string(domain.IntentGeneralQuestion) {
		t.Fatalf("Expected intent, got %v", body["intent"])
	}
	if body["sentiment"] != string(domain.SentimentNeutral) {
		t.Fatalf("Expected sentiment, got %v", body["sentiment"])
	}
	if body["messageId"] == "" || body["messageId"] == nil {
		t.Fatalf("Expected a message id, got %v", body["messageId"])
	}
	actions, _ := body["suggestedActions"].([]interface{})
	if len(actions) != 1 {
		t.Fatalf("Expected suggested actions, got %v", body["suggestedActions"])
	}
}

func TestPostMessageUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.post(t, "/api/chat/message", map[string]string{
		"sessionId": uuid.New().String(),
		"message":   "hello",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.post(t, "/api/chat/message", map[string]string{"sessionId": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing message, got %d", resp.StatusCode)
	}
	resp, _ = env.post(t, "/api/chat/message", map[string]string{"message": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing sessionId, got %d", resp.StatusCode)
	}
}

func TestPostMessageOrderTracking(t *testing.T) {
	env := newTestEnv(t)
	token := env.createSession(t)

	env.responder.reply = &ai.Reply{
		Message:   "Let me check.",
		Intent:    domain.IntentOrderTracking,
		Sentiment: domain.SentimentNeutral,
	}
	resp, body := env.post(t, "/api/chat/message", map[string]string{
		"sessionId": token,
		"message":   "where is order #12345",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	orderInfo, _ := body["orderInfo"].(map[string]interface{})
	if orderInfo == nil || orderInfo["orderNumber"] != "12345" {
		t.Fatalf("Expected order info for 12345, got %v", body["orderInfo"])
	}
}

func TestPostMessageRecommendations(t *testing.T) {
	env := newTestEnv(t)
	token := env.createSession(t)

	env.responder.reply = &ai.Reply{
		Message:   "Here are some picks.",
		Intent:    domain.IntentProductInquiry,
		Sentiment: domain.SentimentPositive,
	}
	env.commerce.products = []commerce.Product{{ID: "1", Title: "Widget", Price: "9.99", Handle: "widget"}}

	resp, body := env.post(t, "/api/chat/message", map[string]string{
		"sessionId": token,
		"message":   "what should I buy?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	recs, _ := body["recommendations"].([]interface{})
	if len(recs) != 1 {
		t.Fatalf("Expected 1 recommendation, got %v", body["recommendations"])
	}
}

func TestTranscript(t *testing.T) {
	env := newTestEnv(t)
	token := env.createSession(t)

	for _, text := range []string{"one", "two"} {
		resp, _ := env.post(t, "/api/chat/message", map[string]string{
			"sessionId": token,
			"message":   text,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Turn failed with %d", resp.StatusCode)
		}
	}

	resp, body := env.get(t, "/api/chat/session/"+token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	// Greeting plus two turns.
	messages, _ := body["messages"].([]interface{})
	if len(messages) != 5 {
		t.Fatalf("Expected 5 transcript messages, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]interface{})
	if first["intent"] != string(domain.IntentGreeting) {
		t.Fatalf("Transcript should open with the greeting: %v", messages)
	}
	second, _ := messages[1].(map[string]interface{})
	if second["message"] != "one" {
		t.Fatalf("Transcript out of order: %v", messages)
	}

	resp, _ = env.get(t, "/api/chat/session/" + uuid.New().String())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown token, got %d", resp.StatusCode)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/api/settings/chat/api-test.myshopify.com")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 before store exists, got %d", resp.StatusCode)
	}

	enabled := false
	resp, body := env.do(t, http.MethodPut, "/api/settings/chat/api-test.myshopify.com", map[string]interface{}{
		"welcomeMessage": "Welcome to the shop!",
		"enabled":        enabled,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}

	resp, body = env.get(t, "/api/settings/chat/api-test.myshopify.com")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["welcome_message"] != "Welcome to the shop!" {
		t.Fatalf("Welcome message not saved: %v", body)
	}
	if body["enabled"] != false {
		t.Fatalf("Enabled flag not saved: %v", body)
	}
	// Untouched fields keep their defaults.
	if body["primary_color"] != "#5C6AC4" {
		t.Fatalf("Default primary color lost: %v", body)
	}
}

func TestSaveSettingsUpdatesStoreProfile(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPut, "/api/settings/chat/api-test.myshopify.com", map[string]interface{}{
		"shopName": "Api Test Shop",
		"currency": "EUR",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}

	shop, err := env.store.GetStoreByDomain(context.Background(), "api-test.myshopify.com")
	if err != nil || shop == nil {
		t.Fatalf("Store lookup failed: %v", err)
	}
	if shop.ShopName != "Api Test Shop" || shop.Currency != "EUR" {
		t.Fatalf("Profile not updated: %+v", shop)
	}

	// A second partial update keeps the untouched fields.
	resp, _ = env.do(t, http.MethodPut, "/api/settings/chat/api-test.myshopify.com", map[string]interface{}{
		"locale": "de",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	shop, err = env.store.GetStoreByDomain(context.Background(), "api-test.myshopify.com")
	if err != nil || shop == nil {
		t.Fatalf("Store lookup failed: %v", err)
	}
	if shop.ShopName != "Api Test Shop" || shop.Currency != "EUR" || shop.Locale != "de" {
		t.Fatalf("Partial update lost fields: %+v", shop)
	}
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.createSession(t)

	resp, body := env.do(t, http.MethodDelete, "/api/chat/session/"+token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["status"] != string(domain.SessionStatusClosed) {
		t.Fatalf("Expected closed status, got %v", body)
	}

	sess, err := env.store.GetSessionByToken(context.Background(), token)
	if err != nil || sess == nil {
		t.Fatalf("Session lookup failed: %v", err)
	}
	if sess.Status != domain.SessionStatusClosed {
		t.Fatalf("Status not persisted: %v", sess.Status)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/chat/session/"+uuid.New().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown token, got %d", resp.StatusCode)
	}
}

func TestInternalBroadcast(t *testing.T) {
	env := newTestEnv(t)
	token := env.createSession(t)

	conn := env.hub.NewConnection()
	env.hub.Register(conn, token, "api-test.myshopify.com", hub.Identity{})

	resp, body := env.post(t, "/internal/broadcast", map[string]interface{}{
		"room":  hub.SessionRoom(token),
		"event": map[string]interface{}{"type": "message", "message": "agent says hi", "sender": "agent"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["delivered"] != true {
		t.Fatalf("Expected delivered=true, got %v", body)
	}

	select {
	case data := <-conn.Send:
		var ev map[string]interface{}
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("Invalid event JSON: %v", err)
		}
		if ev["message"] != "agent says hi" {
			t.Fatalf("Wrong event delivered: %v", ev)
		}
		if ev["timestamp"] == nil {
			t.Fatalf("Timestamp not stamped: %v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Event never reached the room")
	}

	resp, _ = env.post(t, "/internal/broadcast", map[string]interface{}{"room": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing room, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	conn := env.hub.NewConnection()
	env.hub.Register(conn, "some-token", "api-test.myshopify.com", hub.Identity{})

	resp, body := env.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Fatalf("Expected healthy status, got %v", body)
	}
	if body["connections"] != float64(1) || body["sessions"] != float64(1) {
		t.Fatalf("Expected 1 connection and 1 session, got %v", body)
	}
}
