package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
)

// Fallback texts. The responder never surfaces an upstream failure to its
// caller; these are what the customer sees instead.
const (
	fallbackReply = "I apologize for the inconvenience. How else can I assist you today?"
	emptyReply    = "I apologize, but I encountered an error processing your request."
)

// Context carries the store and customer context for one reply.
type Context struct {
	StoreName     string
	Currency      string
	Locale        string
	CustomerName  string
	CustomerEmail string
	OrderCount    int
	Language      string
	History       []ChatMessage
}

// Reply is the responder's answer to one customer message.
type Reply struct {
	Message          string
	Intent           domain.Intent
	Confidence       float64
	Sentiment        domain.Sentiment
	SuggestedActions []string
}

// IntentResult is the outcome of an intent classification.
type IntentResult struct {
	Intent     domain.Intent
	Confidence float64
}

// Responder turns a customer message plus context into exactly one assistant
// reply with intent and sentiment classifications.
type Responder struct {
	client      *Client
	model       string
	intentModel string
	temperature float64
	maxTokens   int
}

// NewResponder creates a responder on top of a completion client.
func NewResponder(client *Client, model, intentModel string, temperature float64, maxTokens int) *Responder {
	return &Responder{
		client:      client,
		model:       model,
		intentModel: intentModel,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// GenerateReply produces the assistant reply for a customer message. Upstream
// failures are absorbed into a deterministic fallback so a turn can always
// complete; this method never fails.
func (r *Responder) GenerateReply(ctx context.Context, userMessage string, c Context) *Reply {
	messages := make([]ChatMessage, 0, len(c.History)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: buildSystemPrompt(c)})
	messages = append(messages, c.History...)
	messages = append(messages, ChatMessage{Role: "user", Content: userMessage})

	temp := r.temperature
	maxTokens := r.maxTokens
	resp, err := r.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		log.Printf("AI reply failed: %v", err)
		return &Reply{
			Message:    fallbackReply,
			Intent:     domain.IntentError,
			Confidence: 0,
			Sentiment:  domain.SentimentNeutral,
		}
	}

	text := resp.content()
	if text == "" {
		text = emptyReply
	}

	intent := r.ClassifyIntent(ctx, userMessage)
	sentiment := r.ClassifySentiment(ctx, userMessage)

	return &Reply{
		Message:          text,
		Intent:           intent.Intent,
		Confidence:       intent.Confidence,
		Sentiment:        sentiment,
		SuggestedActions: SuggestedActions(intent.Intent),
	}
}

// buildSystemPrompt assembles the system instruction from store and customer
// context.
func buildSystemPrompt(c Context) string {
	storeName := c.StoreName
	if storeName == "" {
		storeName = "an e-commerce store"
	}
	currency := c.Currency
	if currency == "" {
		currency = "USD"
	}
	locale := c.Locale
	if locale == "" {
		locale = "en"
	}
	language := c.Language
	if language == "" {
		language = "en"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are a helpful AI customer support assistant for %s.

Your responsibilities:
- Answer customer questions accurately and professionally
- Help with order tracking, product information, and general inquiries
- Be empathetic, friendly, and solution-oriented
- Keep responses concise but informative
- Always maintain customer privacy and data security
- If you don't know something, be honest and offer to escalate to a human agent

Store Information:
- Currency: %s
- Locale: %s
- Language: %s
`, storeName, currency, locale, language)

	if c.CustomerName != "" {
		fmt.Fprintf(&b, "\nCustomer: %s", c.CustomerName)
	}
	if c.OrderCount > 0 {
		fmt.Fprintf(&b, "\nCustomer has %d previous orders.", c.OrderCount)
	}

	b.WriteString("\n\nRespond in a helpful, professional, and friendly manner. If responding in a non-English language, use the appropriate language consistently.")
	return b.String()
}

// ClassifyIntent classifies a customer message against the fixed intent set.
// Malformed replies or upstream failures default to general_question with
// low confidence rather than failing the turn.
func (r *Responder) ClassifyIntent(ctx context.Context, message string) IntentResult {
	prompt := fmt.Sprintf(`Analyze this customer message and determine the primary intent. Respond with JSON only.

Message: %q

Possible intents:
- order_tracking: Customer wants to track an order
- product_inquiry: Asking about products
- shipping_info: Questions about shipping
- return_refund: Returns or refunds
- payment_issue: Payment problems
- general_question: General questions
- complaint: Customer complaint
- compliment: Positive feedback
- technical_support: Technical issues

Respond in this exact JSON format:
{
  "intent": "intent_name",
  "confidence": 0.0-1.0
}`, message)

	temp := 0.3
	maxTokens := 150
	resp, err := r.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:       r.intentModel,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		log.Printf("Intent detection failed: %v", err)
		return IntentResult{Intent: domain.IntentGeneralQuestion, Confidence: 0.3}
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resp.content()), &parsed); err != nil {
		log.Printf("Intent detection returned malformed JSON: %v", err)
		return IntentResult{Intent: domain.IntentGeneralQuestion, Confidence: 0.3}
	}

	result := IntentResult{
		Intent:     domain.Intent(parsed.Intent),
		Confidence: parsed.Confidence,
	}
	if result.Intent == "" {
		result.Intent = domain.IntentGeneralQuestion
	}
	if result.Confidence == 0 {
		result.Confidence = 0.5
	}
	return result
}

// ClassifySentiment classifies a customer message as positive, neutral, or
// negative. Any other answer collapses to neutral.
func (r *Responder) ClassifySentiment(ctx context.Context, message string) domain.Sentiment {
	prompt := fmt.Sprintf(`Analyze the sentiment of this customer message. Respond with only one word: positive, neutral, or negative.

Message: %q`, message)

	temp := 0.3
	maxTokens := 10
	resp, err := r.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:       r.intentModel,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		log.Printf("Sentiment analysis failed: %v", err)
		return domain.SentimentNeutral
	}

	switch strings.ToLower(strings.TrimSpace(resp.content())) {
	case "positive":
		return domain.SentimentPositive
	case "negative":
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

// suggestedActions maps intents to auxiliary UI hints.
var suggestedActions = map[domain.Intent][]string{
	domain.IntentOrderTracking:    {"Show Order Status", "Provide Tracking Link", "Estimate Delivery"},
	domain.IntentProductInquiry:   {"Show Product Details", "View Similar Products", "Check Availability"},
	domain.IntentShippingInfo:     {"Show Shipping Options", "Calculate Shipping Cost", "View Delivery Times"},
	domain.IntentReturnRefund:     {"Start Return Process", "View Return Policy", "Check Refund Status"},
	domain.IntentPaymentIssue:     {"Contact Support", "Retry Payment", "View Payment Methods"},
	domain.IntentComplaint:        {"Escalate to Human Agent", "Offer Apology", "Provide Solution"},
	domain.IntentTechnicalSupport: {"Contact Technical Support", "View Help Articles", "Submit Ticket"},
}

// SuggestedActions returns the UI hints for a detected intent.
func SuggestedActions(intent domain.Intent) []string {
	if actions, ok := suggestedActions[intent]; ok {
		return actions
	}
	return []string{"Continue Conversation"}
}
