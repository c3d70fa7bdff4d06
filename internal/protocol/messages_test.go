package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/r2w34/shopify-ai-support-chatbot/internal/protocol"
)

func TestTag(t *testing.T) {
	tag, err := protocol.Tag([]byte(`{"type":"message","message":"hi"}`))
	assert.NoError(t, err)
	assert.Equal(t, protocol.TypeMessage, tag)

	tag, err = protocol.Tag([]byte(`{"message":"hi"}`))
	assert.NoError(t, err)
	assert.Empty(t, tag)

	_, err = protocol.Tag([]byte(`not json`))
	assert.Error(t, err)
}

func TestBotMessageEventOmitsEmptyMetadata(t *testing.T) {
	data, err := json.Marshal(&protocol.BotMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		Message:   "hello",
		Sender:    "bot",
	})
	assert.NoError(t, err)
	assert.NotContains(t, string(data), "metadata")

	data, err = json.Marshal(&protocol.BotMessageEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeMessage},
		Message:   "hello",
		Sender:    "bot",
		Metadata:  &protocol.MessageMetadata{Error: true},
	})
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"error":true`)
}
