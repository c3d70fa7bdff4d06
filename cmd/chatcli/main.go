// Package main provides a terminal client for talking to the chat relay.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/protocol"
)

// Client represents a WebSocket chat client.
type Client struct {
	conn  *websocket.Conn
	token string
	done  chan struct{}
}

// createSession bootstraps a session over the HTTP API and returns its token.
func createSession(baseURL, shopDomain string) (string, error) {
	payload, err := json.Marshal(map[string]string{"shopDomain": shopDomain})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(baseURL+"/api/chat/session", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create session: status %d", resp.StatusCode)
	}

	var body struct {
		SessionToken   string `json:"sessionToken"`
		WelcomeMessage string `json:"welcomeMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if body.WelcomeMessage != "" {
		fmt.Printf("\n[bot] %s\n", body.WelcomeMessage)
	}
	return body.SessionToken, nil
}

// NewClient connects to the relay's WebSocket endpoint.
func NewClient(baseURL, token string) (*Client, error) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?sessionId=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn, token: token, done: make(chan struct{})}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// SendMessage sends one chat message event.
func (c *Client) SendMessage(text string) error {
	return c.conn.WriteJSON(&protocol.ChatMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		SessionID: c.token,
		Message:   text,
	})
}

// SendQuickAction sends a quick action event.
func (c *Client) SendQuickAction(action string) error {
	return c.conn.WriteJSON(&protocol.QuickActionEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeQuickAction},
		Action:    action,
	})
}

// ReadMessages reads and prints events from the relay.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			c.printEvent(data)
		}
	}
}

func (c *Client) printEvent(data []byte) {
	tag, err := protocol.Tag(data)
	if err != nil {
		log.Printf("Unmarshal error: %v", err)
		return
	}

	switch tag {
	case protocol.TypeConnected:
		fmt.Printf("\n[connected] session %s\n> ", c.token)

	case protocol.TypeMessage:
		var ev protocol.BotMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		fmt.Printf("\n[%s] %s\n", ev.Sender, ev.Message)
		if ev.Metadata != nil && ev.Metadata.Intent != "" {
			fmt.Printf("      intent=%s confidence=%.2f sentiment=%s\n",
				ev.Metadata.Intent, ev.Metadata.Confidence, ev.Metadata.Sentiment)
		}
		fmt.Print("> ")

	case protocol.TypeTyping:
		var ev protocol.TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Typing {
			fmt.Print("\n[typing...]\n> ")
		}

	case protocol.TypeRecommendations:
		var ev protocol.RecommendationsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		fmt.Println("\n[recommendations]")
		for _, p := range ev.Products {
			fmt.Printf("  - %s (%s)\n", p.Title, p.Price)
		}
		fmt.Print("> ")

	case protocol.TypeOrderStatus:
		var ev protocol.OrderStatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		fmt.Printf("\n[order %s] %s\n> ", ev.OrderNumber, ev.Message)

	case protocol.TypeError:
		var ev protocol.ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		fmt.Printf("\n[error] %s\n> ", ev.Message)

	default:
		var pretty map[string]interface{}
		json.Unmarshal(data, &pretty)
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("\n[%s] %s\n> ", tag, formatted)
	}
}

func main() {
	baseURL := flag.String("addr", "http://localhost:8080", "Relay base URL")
	token := flag.String("session", "", "Existing session token (created when empty)")
	shop := flag.String("shop", "cli-test.myshopify.com", "Shop domain for new sessions")
	flag.Parse()

	log.SetFlags(log.Ltime)

	sessionToken := *token
	if sessionToken == "" {
		var err error
		sessionToken, err = createSession(*baseURL, *shop)
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		fmt.Printf("Created session %s\n", sessionToken)
	}

	fmt.Printf("Connecting to %s...\n", *baseURL)
	client, err := NewClient(*baseURL, sessionToken)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	go client.ReadMessages()

	fmt.Println("Type a message and press enter. Commands: /track, /browse, /help, /quit")
	fmt.Print("> ")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}

		switch line {
		case "/quit":
			return
		case "/track":
			err = client.SendQuickAction(protocol.ActionTrackOrder)
		case "/browse":
			err = client.SendQuickAction(protocol.ActionBrowseProducts)
		case "/help":
			err = client.SendQuickAction(protocol.ActionGetHelp)
		default:
			err = client.SendMessage(line)
		}
		if err != nil {
			log.Printf("Send failed: %v", err)
			return
		}
		// Give the reply a moment before showing the prompt again.
		time.Sleep(50 * time.Millisecond)
	}
}
