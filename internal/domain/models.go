// Package domain defines the core domain models for the support chat.
package domain

import "time"

// SessionStatus represents the lifecycle status of a chat session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusClosed SessionStatus = "closed"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderBot      Sender = "bot"
)

// Sentiment is the rolling sentiment classification of a session.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Intent is a detected customer intent from the fixed classification set.
type Intent string

const (
	IntentOrderTracking    Intent = "order_tracking"
	IntentProductInquiry   Intent = "product_inquiry"
	IntentShippingInfo     Intent = "shipping_info"
	IntentReturnRefund     Intent = "return_refund"
	IntentPaymentIssue     Intent = "payment_issue"
	IntentGeneralQuestion  Intent = "general_question"
	IntentComplaint        Intent = "complaint"
	IntentCompliment       Intent = "compliment"
	IntentTechnicalSupport Intent = "technical_support"
	IntentGreeting         Intent = "greeting"
	IntentError            Intent = "error"
)

// KnownIntents lists the intents the classifier may return.
var KnownIntents = []Intent{
	IntentOrderTracking,
	IntentProductInquiry,
	IntentShippingInfo,
	IntentReturnRefund,
	IntentPaymentIssue,
	IntentGeneralQuestion,
	IntentComplaint,
	IntentCompliment,
	IntentTechnicalSupport,
}

// Store represents a merchant storefront the chat widget is installed on.
type Store struct {
	ID         string    `json:"id"`
	ShopDomain string    `json:"shop_domain"`
	ShopName   string    `json:"shop_name"`
	Currency   string    `json:"currency"`
	Locale     string    `json:"locale"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatSettings holds the merchant-configurable widget settings.
type ChatSettings struct {
	StoreID        string `json:"store_id"`
	WelcomeMessage string `json:"welcome_message"`
	PrimaryColor   string `json:"primary_color"`
	AccentColor    string `json:"accent_color"`
	WidgetPosition string `json:"widget_position"`
	Enabled        bool   `json:"enabled"`
}

// DefaultChatSettings returns the widget defaults applied before a merchant
// saves anything.
func DefaultChatSettings(storeID string) *ChatSettings {
	return &ChatSettings{
		StoreID:        storeID,
		WelcomeMessage: "Hi! How can I help you today?",
		PrimaryColor:   "#5C6AC4",
		AccentColor:    "#00848E",
		WidgetPosition: "bottom-right",
		Enabled:        true,
	}
}

// Session represents one continuous customer conversation.
type Session struct {
	ID            string        `json:"id"`
	StoreID       string        `json:"store_id"`
	Token         string        `json:"session_token"`
	CustomerID    string        `json:"customer_id,omitempty"`
	CustomerEmail string        `json:"customer_email,omitempty"`
	CustomerName  string        `json:"customer_name,omitempty"`
	Channel       string        `json:"channel"`
	Language      string        `json:"language"`
	Status        SessionStatus `json:"status"`
	Sentiment     Sentiment     `json:"sentiment,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Store is the owning store, populated on token lookup.
	Store *Store `json:"store,omitempty"`
}

// Message is an ordered, append-only entry in a session's log.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Sender      Sender    `json:"sender"`
	Message     string    `json:"message"`
	MessageType string    `json:"message_type"` // currently always "text"
	IsAI        bool      `json:"is_ai"`
	Intent      Intent    `json:"intent,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// Role returns the completion-endpoint role for the message's sender.
func (m *Message) Role() string {
	if m.IsAI {
		return "assistant"
	}
	return "user"
}
