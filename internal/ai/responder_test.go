package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/domain"
)

// completionServer answers /v1/chat/completions with content chosen per
// request: the reply model gets replyText, the classifier model gets
// classifierText.
func completionServer(t *testing.T, replyText, classifierText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		content := replyText
		if req.Model == "classifier" {
			content = classifierText
		}
		w.Header().Set("Content-Type", "application/json")
		resp := ChatCompletionResponse{
			ID:      "c1",
			Object:  "chat.completion",
			Model:   req.Model,
			Choices: []Choice{{Message: &ChatMessage{Role: "assistant", Content: content}}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestResponder(server *httptest.Server) *Responder {
	client := NewClient(server.URL, "", time.Second)
	return NewResponder(client, "reply", "classifier", 0.7, 500)
}

func TestGenerateReply(t *testing.T) {
	server := completionServer(t, "Your order ships tomorrow.", `{"intent":"order_tracking","confidence":0.92}`)
	defer server.Close()

	r := newTestResponder(server)
	reply := r.GenerateReply(context.Background(), "Where is my order?", Context{
		StoreName: "Demo Store",
		Currency:  "EUR",
	})

	if reply.Message != "Your order ships tomorrow." {
		t.Fatalf("unexpected reply: %q", reply.Message)
	}
	if reply.Intent != domain.IntentOrderTracking || reply.Confidence != 0.92 {
		t.Fatalf("unexpected classification: %+v", reply)
	}
	if len(reply.SuggestedActions) == 0 {
		t.Fatalf("expected suggested actions for order_tracking")
	}
}

func TestGenerateReplyUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`)
	}))
	defer server.Close()

	r := newTestResponder(server)
	reply := r.GenerateReply(context.Background(), "hello", Context{})

	if reply.Message != fallbackReply {
		t.Fatalf("expected fallback reply, got %q", reply.Message)
	}
	if reply.Intent != domain.IntentError || reply.Confidence != 0 || reply.Sentiment != domain.SentimentNeutral {
		t.Fatalf("unexpected fallback classification: %+v", reply)
	}
}

func TestGenerateReplyEmptyChoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
	}))
	defer server.Close()

	r := newTestResponder(server)
	reply := r.GenerateReply(context.Background(), "hello", Context{})

	if reply.Message != emptyReply {
		t.Fatalf("expected empty-choice fallback, got %q", reply.Message)
	}
}

func TestClassifyIntentMalformedJSON(t *testing.T) {
	server := completionServer(t, "", "this is not json")
	defer server.Close()

	r := newTestResponder(server)
	result := r.ClassifyIntent(context.Background(), "hello")

	if result.Intent != domain.IntentGeneralQuestion {
		t.Fatalf("expected general_question, got %q", result.Intent)
	}
	if result.Confidence != 0.3 {
		t.Fatalf("expected low confidence 0.3, got %v", result.Confidence)
	}
}

func TestClassifyIntentMissingConfidence(t *testing.T) {
	server := completionServer(t, "", `{"intent":"complaint"}`)
	defer server.Close()

	r := newTestResponder(server)
	result := r.ClassifyIntent(context.Background(), "this is terrible")

	if result.Intent != domain.IntentComplaint {
		t.Fatalf("expected complaint, got %q", result.Intent)
	}
	if result.Confidence != 0.5 {
		t.Fatalf("expected default confidence 0.5, got %v", result.Confidence)
	}
}

func TestClassifySentiment(t *testing.T) {
	cases := []struct {
		answer string
		want   domain.Sentiment
	}{
		{"positive", domain.SentimentPositive},
		{" Negative \n", domain.SentimentNegative},
		{"neutral", domain.SentimentNeutral},
		{"I think it is positive", domain.SentimentNeutral},
		{"", domain.SentimentNeutral},
	}

	for _, tc := range cases {
		server := completionServer(t, "", tc.answer)
		r := newTestResponder(server)
		got := r.ClassifySentiment(context.Background(), "some message")
		server.Close()
		if got != tc.want {
			t.Fatalf("answer %q: expected %q, got %q", tc.answer, tc.want, got)
		}
	}
}

func TestBuildSystemPromptDefaults(t *testing.T) {
	prompt := buildSystemPrompt(Context{})
	if !strings.Contains(prompt, "an e-commerce store") {
		t.Fatalf("expected default store name in prompt")
	}
	if !strings.Contains(prompt, "Currency: USD") {
		t.Fatalf("expected default currency in prompt")
	}
}

func TestSuggestedActionsUnknownIntent(t *testing.T) {
	actions := SuggestedActions(domain.IntentGeneralQuestion)
	if len(actions) != 1 || actions[0] != "Continue Conversation" {
		t.Fatalf("unexpected actions: %v", actions)
	}
}
