// Package relay owns the per-session chat turn protocol: accept an inbound
// message, persist it, obtain the assistant reply, persist that, and fan the
// result out to every connection in the session room.
package relay

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/ai"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/commerce"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/hub"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/protocol"
	"github.com/r2w34/shopify-ai-support-chatbot/internal/store"
)

// Customer-facing texts for degraded and canned replies.
const (
	degradedReply    = "I apologize, but I encountered an error. Please try again."
	trackOrderPrompt = "Please provide your order number to track your order."
	helpPrompt       = "I'm here to help! What can I assist you with today?"
)

const recommendationLimit = 4

// ErrSessionNotFound is returned when a turn's session token does not
// resolve to a stored session.
var ErrSessionNotFound = errors.New("session not found")

// Responder produces assistant replies. It never fails: upstream errors
// yield a deterministic fallback reply.
type Responder interface {
	GenerateReply(ctx context.Context, userMessage string, c ai.Context) *ai.Reply
}

// Commerce provides the best-effort recommendation and order side channels.
type Commerce interface {
	Recommendations(ctx context.Context, limit int) ([]commerce.Product, error)
	FindOrder(ctx context.Context, term string) (*commerce.Order, error)
}

// OrderStatus is the order-tracking side-channel result attached to a turn.
type OrderStatus struct {
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// TurnResult is what a completed turn produced, for callers that need the
// outcome synchronously (the HTTP fallback path).
type TurnResult struct {
	MessageID       string
	Reply           *ai.Reply
	Recommendations []commerce.Product
	OrderInfo       *OrderStatus
}

// Relay serializes and executes chat turns per session.
type Relay struct {
	store         store.Store
	hub           *hub.Hub
	responder     Responder
	commerce      Commerce
	historyWindow int

	mu     sync.Mutex
	queues map[string]*sessionQueue

	side sync.WaitGroup
}

// sessionQueue is a FIFO of pending turns for one session token. Its worker
// goroutine starts lazily and exits once the queue drains.
type sessionQueue struct {
	jobs    []func()
	running bool
}

// New creates a relay.
func New(st store.Store, h *hub.Hub, responder Responder, com Commerce, historyWindow int) *Relay {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Relay{
		store:         st,
		hub:           h,
		responder:     responder,
		commerce:      com,
		historyWindow: historyWindow,
		queues:        make(map[string]*sessionQueue),
	}
}

// enqueue appends a job to the session's FIFO queue, starting a worker when
// none is running. Jobs for one token never overlap; jobs run in the order
// they were enqueued.
func (r *Relay) enqueue(token string, job func()) {
	r.mu.Lock()
	q := r.queues[token]
	if q == nil {
		q = &sessionQueue{}
		r.queues[token] = q
	}
	q.jobs = append(q.jobs, job)
	if !q.running {
		q.running = true
		go r.drain(token, q)
	}
	r.mu.Unlock()
}

func (r *Relay) drain(token string, q *sessionQueue) {
	for {
		r.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			delete(r.queues, token)
			r.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		r.mu.Unlock()

		job()
	}
}

// HandleChatMessage queues a turn for an inbound chat message received over
// a persistent connection. Returns immediately; the turn's results reach the
// room through the hub.
func (r *Relay) HandleChatMessage(origin *hub.Connection, ev *protocol.ChatMessageEvent) {
	r.enqueue(ev.SessionID, func() {
		if _, err := r.runTurn(context.Background(), ev, origin, true); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Printf("Turn failed for session %s: %v", ev.SessionID, err)
		}
	})
}

// ProcessTurn runs one turn synchronously through the same per-session queue
// as the persistent-connection path, so turn ordering holds across
// transports. Used by the HTTP fallback surface.
func (r *Relay) ProcessTurn(ctx context.Context, ev *protocol.ChatMessageEvent) (*TurnResult, error) {
	type outcome struct {
		result *TurnResult
		err    error
	}
	done := make(chan outcome, 1)
	r.enqueue(ev.SessionID, func() {
		result, err := r.runTurn(ctx, ev, nil, false)
		done <- outcome{result, err}
	})

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runTurn executes the turn protocol. origin is the connection that sent the
// message, or nil on the HTTP path. With broadcastSides set, side-channel
// results are broadcast to the room as fire-and-forget tasks; otherwise they
// are resolved inline and attached to the result. Failures after the session
// lookup degrade to an error-flagged broadcast; the typing indicator always
// ends false.
func (r *Relay) runTurn(ctx context.Context, ev *protocol.ChatMessageEvent, origin *hub.Connection, broadcastSides bool) (*TurnResult, error) {
	room := hub.SessionRoom(ev.SessionID)
	originID := ""
	if origin != nil {
		originID = origin.ID
	}

	sess, err := r.store.GetSessionByToken(ctx, ev.SessionID)
	if err == nil && sess == nil {
		err = ErrSessionNotFound
	}
	if err != nil {
		// Abort before any persistence; only the sender hears about it.
		if origin != nil {
			r.hub.SendJSON(origin, &protocol.ErrorEvent{
				BaseEvent: protocol.BaseEvent{Type: protocol.TypeError},
				Message:   "Session not found",
			})
		}
		return nil, err
	}

	// History window predates the inbound message; the message itself is
	// passed to the responder separately.
	recent, err := r.store.RecentMessages(ctx, sess.ID, r.historyWindow)
	if err != nil {
		return nil, r.degrade(room, originID, err)
	}

	userMsg := &domain.Message{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		Sender:      domain.SenderCustomer,
		Message:     ev.Message,
		MessageType: "text",
		IsAI:        false,
		SentAt:      time.Now(),
	}
	if err := r.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, r.degrade(room, originID, err)
	}

	r.hub.BroadcastExceptJSON(room, originID, typingEvent(true))

	reply := r.responder.GenerateReply(ctx, ev.Message, r.buildContext(ev, sess, recent))

	botMsg := &domain.Message{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		Sender:      domain.SenderBot,
		Message:     reply.Message,
		MessageType: "text",
		IsAI:        true,
		Intent:      reply.Intent,
		Confidence:  reply.Confidence,
		SentAt:      time.Now(),
	}
	if err := r.store.AppendMessage(ctx, botMsg); err != nil {
		return nil, r.degrade(room, originID, err)
	}
	if err := r.store.UpdateSessionSentiment(ctx, sess.ID, reply.Sentiment); err != nil {
		return nil, r.degrade(room, originID, err)
	}

	r.hub.BroadcastExceptJSON(room, originID, typingEvent(false))
	r.hub.BroadcastJSON(room, &protocol.BotMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		ID:        botMsg.ID,
		Message:   reply.Message,
		Sender:    string(domain.SenderBot),
		Timestamp: botMsg.SentAt.Format(time.RFC3339),
		Metadata: &protocol.MessageMetadata{
			Intent:     string(reply.Intent),
			Confidence: reply.Confidence,
			Sentiment:  string(reply.Sentiment),
			Error:      reply.Intent == domain.IntentError,
		},
	})

	result := &TurnResult{MessageID: botMsg.ID, Reply: reply}

	wantRecs := reply.Intent == domain.IntentProductInquiry ||
		strings.Contains(strings.ToLower(ev.Message), "recommend")
	wantOrder := reply.Intent == domain.IntentOrderTracking

	if broadcastSides {
		// Persistent-connection path: fire-and-forget tasks whose failures
		// never join the turn's error path.
		if wantRecs {
			r.spawnSide(func() { r.broadcastRecommendations(room) })
		}
		if wantOrder {
			text := ev.Message
			r.spawnSide(func() { r.broadcastOrderStatus(room, text) })
		}
		return result, nil
	}

	// HTTP path: the caller wants the side-channel data in the response.
	if wantRecs {
		result.Recommendations = r.lookupRecommendations(ctx)
	}
	if wantOrder {
		result.OrderInfo = r.lookupOrderStatus(ctx, ev.Message)
	}
	return result, nil
}

// degrade finishes a failed turn: typing off, one error-flagged message to
// the room. The inbound message may already be persisted; that is accepted
// and not rolled back.
func (r *Relay) degrade(room, originID string, cause error) error {
	log.Printf("Turn degraded: %v", cause)
	r.hub.BroadcastExceptJSON(room, originID, typingEvent(false))
	r.hub.BroadcastJSON(room, &protocol.BotMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		Message:   degradedReply,
		Sender:    string(domain.SenderBot),
		Timestamp: time.Now().Format(time.RFC3339),
		Metadata:  &protocol.MessageMetadata{Error: true},
	})
	return cause
}

func (r *Relay) buildContext(ev *protocol.ChatMessageEvent, sess *domain.Session, recent []domain.Message) ai.Context {
	history := make([]ai.ChatMessage, 0, len(recent))
	for i := range recent {
		history = append(history, ai.ChatMessage{
			Role:    recent[i].Role(),
			Content: recent[i].Message,
		})
	}

	c := ai.Context{
		CustomerName:  sess.CustomerName,
		CustomerEmail: ev.CustomerEmail,
		Language:      ev.Language,
		History:       history,
	}
	if c.CustomerEmail == "" {
		c.CustomerEmail = sess.CustomerEmail
	}
	if c.Language == "" {
		c.Language = sess.Language
	}
	if sess.Store != nil {
		c.StoreName = sess.Store.ShopName
		c.Currency = sess.Store.Currency
		c.Locale = sess.Store.Locale
	}
	return c
}

// HandleTyping relays a typing indicator verbatim to the rest of the
// session room.
func (r *Relay) HandleTyping(origin *hub.Connection, sessionToken string, typing bool) {
	r.hub.BroadcastExceptJSON(hub.SessionRoom(sessionToken), origin.ID, typingEvent(typing))
}

// HandleQuickAction resolves a canned trigger. Canned replies go to the
// invoking connection only; unknown actions are logged and dropped.
func (r *Relay) HandleQuickAction(origin *hub.Connection, sessionToken, action string) {
	switch action {
	case protocol.ActionTrackOrder:
		r.hub.SendJSON(origin, cannedMessage(trackOrderPrompt))
	case protocol.ActionBrowseProducts:
		r.spawnSide(func() { r.sendRecommendations(origin) })
	case protocol.ActionGetHelp:
		r.hub.SendJSON(origin, cannedMessage(helpPrompt))
	default:
		log.Printf("Unknown quick action %q for session %s", action, sessionToken)
	}
}

// spawnSide runs a side-channel task that must never take the turn down
// with it.
func (r *Relay) spawnSide(task func()) {
	r.side.Add(1)
	go func() {
		defer r.side.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Side channel panicked: %v", rec)
			}
		}()
		task()
	}()
}

// Flush waits for in-flight side-channel tasks. Called on shutdown.
func (r *Relay) Flush() {
	r.side.Wait()
}

func (r *Relay) lookupRecommendations(ctx context.Context) []commerce.Product {
	products, err := r.commerce.Recommendations(ctx, recommendationLimit)
	if err != nil {
		log.Printf("Recommendations failed: %v", err)
		return nil
	}
	return products
}

func (r *Relay) broadcastRecommendations(room string) {
	products := r.lookupRecommendations(context.Background())
	if len(products) == 0 {
		return
	}
	r.hub.BroadcastJSON(room, recommendationsEvent(products))
}

func (r *Relay) sendRecommendations(origin *hub.Connection) {
	products := r.lookupRecommendations(context.Background())
	if len(products) == 0 {
		return
	}
	r.hub.SendJSON(origin, recommendationsEvent(products))
}

// lookupOrderStatus extracts an order reference from the text and resolves
// its status. When the order cannot be resolved the customer still gets a
// generic processing notice for the extracted number.
func (r *Relay) lookupOrderStatus(ctx context.Context, text string) *OrderStatus {
	ref := commerce.ExtractOrderRef(text)
	if ref == "" {
		return nil
	}

	order, err := r.commerce.FindOrder(ctx, ref)
	if err != nil {
		log.Printf("Order lookup failed: %v", err)
	}
	if order == nil {
		return &OrderStatus{
			OrderNumber: ref,
			Status:      "Processing",
			Message:     "Order " + ref + " is being processed.",
		}
	}
	return &OrderStatus{
		OrderNumber: ref,
		Status:      order.FulfillmentStatus,
		Message:     commerce.StatusMessage(order),
	}
}

func (r *Relay) broadcastOrderStatus(room, text string) {
	status := r.lookupOrderStatus(context.Background(), text)
	if status == nil {
		return
	}
	r.hub.BroadcastJSON(room, &protocol.OrderStatusEvent{
		BaseEvent:   protocol.BaseEvent{Type: protocol.TypeOrderStatus},
		OrderNumber: status.OrderNumber,
		Status:      status.Status,
		Message:     status.Message,
	})
}

func typingEvent(typing bool) *protocol.TypingEvent {
	return &protocol.TypingEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeTyping},
		Typing:    typing,
	}
}

func cannedMessage(text string) *protocol.BotMessageEvent {
	return &protocol.BotMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		Message:   text,
		Sender:    string(domain.SenderBot),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func recommendationsEvent(products []commerce.Product) *protocol.RecommendationsEvent {
	out := make([]protocol.RecommendedProduct, 0, len(products))
	for _, p := range products {
		out = append(out, protocol.RecommendedProduct{
			ID:     p.ID,
			Title:  p.Title,
			Price:  p.Price,
			Handle: p.Handle,
			Image:  p.Image,
		})
	}
	return &protocol.RecommendationsEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeRecommendations},
		Products:  out,
	}
}
