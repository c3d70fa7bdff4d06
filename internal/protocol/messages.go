// Package protocol defines the wire protocol between chat clients and the relay.
package protocol

import "encoding/json"

// Event types from client to relay
const (
	TypeMessage     = "message"
	TypeTyping      = "typing"
	TypeQuickAction = "quick_action"
)

// Event types from relay to client
const (
	TypeConnected       = "connected"
	TypeError           = "error"
	TypeRecommendations = "recommendations"
	TypeOrderStatus     = "order_status"
	// TypeMessage and TypeTyping are also emitted server-side.
)

// Quick actions the widget may trigger.
const (
	ActionTrackOrder     = "track_order"
	ActionBrowseProducts = "browse_products"
	ActionGetHelp        = "get_help"
)

// BaseEvent contains the tag shared by all wire events.
type BaseEvent struct {
	Type string `json:"type"`
}

// ConnectedEvent acknowledges a successful handshake.
type ConnectedEvent struct {
	BaseEvent
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
}

// ErrorEvent reports an error to the client.
type ErrorEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// ChatMessageEvent is sent by the client to trigger a turn.
type ChatMessageEvent struct {
	BaseEvent
	SessionID     string `json:"sessionId"`
	Message       string `json:"message"`
	CustomerID    string `json:"customerId,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	Language      string `json:"language,omitempty"`
}

// MessageMetadata carries the classification attached to an assistant reply.
type MessageMetadata struct {
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Sentiment  string  `json:"sentiment,omitempty"`
	Error      bool    `json:"error,omitempty"`
}

// BotMessageEvent is an assistant reply broadcast to a session room.
type BotMessageEvent struct {
	BaseEvent
	ID        string           `json:"id,omitempty"`
	Message   string           `json:"message"`
	Sender    string           `json:"sender"`
	Timestamp string           `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// TypingEvent carries the typing indicator in either direction.
type TypingEvent struct {
	BaseEvent
	Typing bool `json:"typing"`
}

// QuickActionEvent is sent by the client to trigger a canned behavior.
type QuickActionEvent struct {
	BaseEvent
	Action string `json:"action"`
}

// RecommendedProduct is one entry of a recommendations event.
type RecommendedProduct struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	Handle string `json:"handle"`
	Image  string `json:"image,omitempty"`
}

// RecommendationsEvent carries product recommendations to the room.
type RecommendationsEvent struct {
	BaseEvent
	Products []RecommendedProduct `json:"products"`
}

// OrderStatusEvent carries an order-tracking side-channel result.
type OrderStatusEvent struct {
	BaseEvent
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// Tag reads the type tag of a raw inbound event. An error means the payload
// was not a JSON object with a string type field.
func Tag(data []byte) (string, error) {
	var base BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return "", err
	}
	return base.Type, nil
}
