// Package httpapi is the HTTP surface of the relay: session bootstrap, the
// synchronous chat fallback, merchant settings, and the internal broadcast
// endpoint other processes push room events through.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/commerce"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/hub"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/protocol"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/relay"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/store"
)

const turnTimeout = 60 * time.Second

// Server is the HTTP server fronting the relay.
type Server struct {
	echo   *echo.Echo
	store  store.Store
	hub    *hub.Hub
	relay  *relay.Relay
	bridge *hub.Bridge
}

// NewServer creates the HTTP server and registers all routes. wsHandler is
// the WebSocket upgrade handler; bridge may be nil when Redis is not
// configured.
func NewServer(st store.Store, h *hub.Hub, r *relay.Relay, bridge *hub.Bridge, wsHandler echo.HandlerFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:   e,
		store:  st,
		hub:    h,
		relay:  r,
		bridge: bridge,
	}

	e.GET("/health", s.handleHealth)
	e.GET("/ws", wsHandler)

	e.POST("/api/chat/session", s.handleCreateSession)
	e.GET("/api/chat/session/:token", s.handleGetTranscript)
	e.DELETE("/api/chat/session/:token", s.handleCloseSession)
	e.POST("/api/chat/message", s.handlePostMessage)

	e.GET("/api/settings/chat/:shop", s.handleGetSettings)
	e.PUT("/api/settings/chat/:shop", s.handleSaveSettings)

	e.POST("/internal/broadcast", s.handleInternalBroadcast)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	tokens := make(map[string]bool)
	for _, info := range s.hub.Sessions() {
		tokens[info.SessionToken] = true
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.ConnectionCount(),
		"sessions":    len(tokens),
	})
}

// CreateSessionRequest bootstraps a widget conversation.
type CreateSessionRequest struct {
	ShopDomain    string `json:"shopDomain"`
	CustomerID    string `json:"customerId"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
	Language      string `json:"language"`
	Channel       string `json:"channel"`
}

// CreateSessionResponse returns the token the widget connects with plus the
// merchant's widget settings.
type CreateSessionResponse struct {
	SessionToken   string               `json:"sessionToken"`
	WelcomeMessage string               `json:"welcomeMessage"`
	Settings       *domain.ChatSettings `json:"settings"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ShopDomain == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "shopDomain is required"})
	}

	ctx := c.Request().Context()
	shop, err := s.store.GetOrCreateStore(ctx, req.ShopDomain)
	if err != nil {
		log.Printf("Create session failed for %s: %v", req.ShopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	if req.Language == "" {
		req.Language = "en"
	}
	if req.Channel == "" {
		req.Channel = "web"
	}
	sess := &domain.Session{
		ID:            uuid.New().String(),
		StoreID:       shop.ID,
		Token:         uuid.New().String(),
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Channel:       req.Channel,
		Language:      req.Language,
		Status:        domain.SessionStatusActive,
		StartedAt:     time.Now(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		log.Printf("Create session failed for %s: %v", req.ShopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	settings, err := s.store.GetSettings(ctx, shop.ID)
	if err != nil {
		log.Printf("Settings lookup failed for %s: %v", req.ShopDomain, err)
		settings = domain.DefaultChatSettings(shop.ID)
	}

	// The welcome message opens the transcript, so the first turn's history
	// window already contains the greeting.
	greeting := &domain.Message{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		Sender:      domain.SenderBot,
		Message:     settings.WelcomeMessage,
		MessageType: "text",
		IsAI:        true,
		Intent:      domain.IntentGreeting,
		Confidence:  1.0,
		SentAt:      time.Now(),
	}
	if err := s.store.AppendMessage(ctx, greeting); err != nil {
		log.Printf("Create session failed for %s: %v", req.ShopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionToken:   sess.Token,
		WelcomeMessage: settings.WelcomeMessage,
		Settings:       settings,
	})
}

func (s *Server) handleGetTranscript(c echo.Context) error {
	token := c.Param("token")
	ctx := c.Request().Context()

	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		log.Printf("Transcript lookup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
	}
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	messages, err := s.store.SessionMessages(ctx, sess.ID)
	if err != nil {
		log.Printf("Transcript lookup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":  sess,
		"messages": messages,
	})
}

// handleCloseSession marks a conversation finished. The transcript stays
// readable afterwards.
func (s *Server) handleCloseSession(c echo.Context) error {
	token := c.Param("token")
	ctx := c.Request().Context()

	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		log.Printf("Close session failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to close session"})
	}
	if sess == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	if err := s.store.UpdateSessionStatus(ctx, sess.ID, domain.SessionStatusClosed); err != nil {
		log.Printf("Close session failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to close session"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(domain.SessionStatusClosed)})
}

// PostMessageRequest is one synchronous chat turn.
type PostMessageRequest struct {
	SessionID     string `json:"sessionId"`
	Message       string `json:"message"`
	CustomerID    string `json:"customerId"`
	CustomerEmail string `json:"customerEmail"`
	Language      string `json:"language"`
}

// PostMessageResponse carries the assistant reply and any side-channel data
// the turn produced.
type PostMessageResponse struct {
	MessageID        string             `json:"messageId"`
	Response         string             `json:"response"`
	Intent           string             `json:"intent"`
	Confidence       float64            `json:"confidence"`
	Sentiment        string             `json:"sentiment"`
	SuggestedActions []string           `json:"suggestedActions,omitempty"`
	Recommendations  []commerce.Product `json:"recommendations,omitempty"`
	OrderInfo        *relay.OrderStatus `json:"orderInfo,omitempty"`
}

func (s *Server) handlePostMessage(c echo.Context) error {
	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.SessionID == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sessionId and message are required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), turnTimeout)
	defer cancel()

	result, err := s.relay.ProcessTurn(ctx, &protocol.ChatMessageEvent{
		SessionID:     req.SessionID,
		Message:       req.Message,
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		Language:      req.Language,
	})
	if err != nil {
		if errors.Is(err, relay.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		log.Printf("Chat turn failed for session %s: %v", req.SessionID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to process message"})
	}

	return c.JSON(http.StatusOK, PostMessageResponse{
		MessageID:        result.MessageID,
		Response:         result.Reply.Message,
		Intent:           string(result.Reply.Intent),
		Confidence:       result.Reply.Confidence,
		Sentiment:        string(result.Reply.Sentiment),
		SuggestedActions: result.Reply.SuggestedActions,
		Recommendations:  result.Recommendations,
		OrderInfo:        result.OrderInfo,
	})
}

func (s *Server) handleGetSettings(c echo.Context) error {
	shopDomain := c.Param("shop")
	ctx := c.Request().Context()
	shop, err := s.store.GetStoreByDomain(ctx, shopDomain)
	if err != nil {
		log.Printf("Settings lookup failed for %s: %v", shopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load settings"})
	}
	if shop == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "store not found"})
	}

	settings, err := s.store.GetSettings(ctx, shop.ID)
	if err != nil {
		log.Printf("Settings lookup failed for %s: %v", shopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load settings"})
	}
	return c.JSON(http.StatusOK, settings)
}

// SaveSettingsRequest updates the widget settings for a store, and
// optionally the store profile the assistant's reply context is built from.
type SaveSettingsRequest struct {
	WelcomeMessage string `json:"welcomeMessage"`
	PrimaryColor   string `json:"primaryColor"`
	AccentColor    string `json:"accentColor"`
	WidgetPosition string `json:"widgetPosition"`
	Enabled        *bool  `json:"enabled"`

	ShopName string `json:"shopName"`
	Currency string `json:"currency"`
	Locale   string `json:"locale"`
}

func (s *Server) handleSaveSettings(c echo.Context) error {
	shopDomain := c.Param("shop")
	var req SaveSettingsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	shop, err := s.store.GetOrCreateStore(ctx, shopDomain)
	if err != nil {
		log.Printf("Save settings failed for %s: %v", shopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
	}

	if req.ShopName != "" || req.Currency != "" || req.Locale != "" {
		name, currency, locale := shop.ShopName, shop.Currency, shop.Locale
		if req.ShopName != "" {
			name = req.ShopName
		}
		if req.Currency != "" {
			currency = req.Currency
		}
		if req.Locale != "" {
			locale = req.Locale
		}
		if err := s.store.UpdateStoreProfile(ctx, shop.ID, name, currency, locale); err != nil {
			log.Printf("Save settings failed for %s: %v", shopDomain, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
		}
	}

	// Unspecified fields keep their current values.
	settings, err := s.store.GetSettings(ctx, shop.ID)
	if err != nil {
		log.Printf("Save settings failed for %s: %v", shopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
	}
	if req.WelcomeMessage != "" {
		settings.WelcomeMessage = req.WelcomeMessage
	}
	if req.PrimaryColor != "" {
		settings.PrimaryColor = req.PrimaryColor
	}
	if req.AccentColor != "" {
		settings.AccentColor = req.AccentColor
	}
	if req.WidgetPosition != "" {
		settings.WidgetPosition = req.WidgetPosition
	}
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		log.Printf("Save settings failed for %s: %v", shopDomain, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
	}
	return c.JSON(http.StatusOK, settings)
}

// BroadcastRequest pushes one event into a room from another process, for
// example an agent reply from the admin dashboard.
type BroadcastRequest struct {
	Room  string                 `json:"room"`
	Event map[string]interface{} `json:"event"`
}

// BroadcastResponse reports whether any local connection was in the room.
type BroadcastResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

func (s *Server) handleInternalBroadcast(c echo.Context) error {
	var req BroadcastRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Room == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "room is required"})
	}
	if req.Event == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
	}
	if _, ok := req.Event["timestamp"]; !ok {
		req.Event["timestamp"] = time.Now().Format(time.RFC3339)
	}

	delivered := s.hub.RoomSize(req.Room) > 0

	if s.bridge != nil {
		// Other relay processes carry connections for this room too.
		data, err := json.Marshal(req.Event)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is not serializable"})
		}
		if err := s.bridge.Publish(c.Request().Context(), req.Room, data); err != nil {
			log.Printf("Bridge publish failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to broadcast event"})
		}
	} else if err := s.hub.BroadcastJSON(req.Room, req.Event); err != nil {
		log.Printf("Failed to broadcast event: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to broadcast event"})
	}

	return c.JSON(http.StatusOK, BroadcastResponse{OK: true, Delivered: delivered})
}
