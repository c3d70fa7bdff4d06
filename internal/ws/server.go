// Package ws is the WebSocket gateway: it upgrades widget connections,
// validates the session handshake, and pumps frames between the socket and
// the hub.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/config"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/hub"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/protocol"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/relay"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/store"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	store    store.Store
	relay    *relay.Relay
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, st store.Store, r *relay.Relay) *Server {
	return &Server{
		cfg:   cfg,
		hub:   h,
		store: st,
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The widget is embedded on arbitrary storefront domains.
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the connection, validates the session token from
// the query string, and starts the read and write pumps. An invalid token
// gets an error event and an immediate close.
func (s *Server) HandleWebSocket(c echo.Context) error {
	socket, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	token := c.QueryParam("sessionId")
	sess, err := s.lookupSession(token)
	if err != nil {
		s.rejectHandshake(socket, "Session not found")
		return nil
	}

	conn := s.hub.NewConnection()
	s.hub.Register(conn, sess.Token, sess.Store.ShopDomain, hub.Identity{
		CustomerID:    sess.CustomerID,
		CustomerEmail: sess.CustomerEmail,
	})

	socket.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn, socket)
	go s.readPump(conn, socket, sess.Token)

	s.hub.SendJSON(conn, &protocol.ConnectedEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeConnected},
		SessionID: sess.Token,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	log.Printf("WebSocket connected: session=%s conn=%s", sess.Token, conn.ID)
	return nil
}

func (s *Server) lookupSession(token string) (*domain.Session, error) {
	if token == "" {
		return nil, echo.ErrBadRequest
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, relay.ErrSessionNotFound
	}
	return sess, nil
}

// rejectHandshake writes a single error event directly to the socket and
// closes it. The connection was never registered with the hub.
func (s *Server) rejectHandshake(socket *websocket.Conn, reason string) {
	socket.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	socket.WriteJSON(&protocol.ErrorEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeError},
		Message:   reason,
	})
	socket.Close()
}

// readPump reads frames from the socket until it breaks, then unregisters
// the connection.
func (s *Server) readPump(conn *hub.Connection, socket *websocket.Conn, token string) {
	defer func() {
		s.hub.Unregister(conn.ID)
		socket.Close()
		log.Printf("WebSocket disconnected: session=%s conn=%s", token, conn.ID)
	}()

	socket.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	socket.SetPongHandler(func(string) error {
		socket.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		s.handleFrame(conn, token, message)
	}
}

// writePump drains the connection's send buffer onto the socket and keeps
// the connection alive with pings. Exits when the hub closes the channel.
func (s *Server) writePump(conn *hub.Connection, socket *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		socket.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			socket.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := socket.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			socket.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame dispatches one inbound frame by its type tag.
func (s *Server) handleFrame(conn *hub.Connection, token string, data []byte) {
	tag, err := protocol.Tag(data)
	if err != nil {
		s.sendError(conn, "invalid JSON message")
		return
	}

	switch tag {
	case protocol.TypeMessage:
		var ev protocol.ChatMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.sendError(conn, "invalid message event")
			return
		}
		// The registered token wins over whatever the payload claims.
		ev.SessionID = token
		if ev.Message == "" {
			s.sendError(conn, "message text is required")
			return
		}
		s.relay.HandleChatMessage(conn, &ev)

	case protocol.TypeTyping:
		var ev protocol.TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.sendError(conn, "invalid typing event")
			return
		}
		s.relay.HandleTyping(conn, token, ev.Typing)

	case protocol.TypeQuickAction:
		var ev protocol.QuickActionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.sendError(conn, "invalid quick_action event")
			return
		}
		s.relay.HandleQuickAction(conn, token, ev.Action)

	default:
		s.sendError(conn, "unknown message type: "+tag)
	}
}

func (s *Server) sendError(conn *hub.Connection, message string) {
	s.hub.SendJSON(conn, &protocol.ErrorEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeError},
		Message:   message,
	})
}
