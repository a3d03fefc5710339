package core

import (
	"encoding/json"
	"fmt"
)

// Event types the core knows how to decode.
const (
	// KindMessageNew is an incoming message.
	KindMessageNew = "message_new"
	// KindMessageEvent is a callback keyboard button press.
	KindMessageEvent = "message_event"
)

// Event is a single update delivered by the long-poll server.
type Event struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	APIVersion string          `json:"v"`
	GroupID    int64           `json:"group_id,omitempty"`
	Object     json.RawMessage `json:"object"`
}

// Message is the message_new payload a handler usually cares about.
type Message struct {
	ID                    int64  `json:"id"`
	Date                  int64  `json:"date"`
	PeerID                int64  `json:"peer_id"`
	FromID                int64  `json:"from_id"`
	Text                  string `json:"text"`
	ConversationMessageID int64  `json:"conversation_message_id"`
	Payload               string `json:"payload,omitempty"`
}

type messageEnvelope struct {
	Message *struct {
		Text *string `json:"text"`
	} `json:"message"`
}

// Text returns object.message.text. ok is false when the event carries no
// message or the text field is missing.
func (e Event) Text() (text string, ok bool) {
	if len(e.Object) == 0 {
		return "", false
	}
	var env messageEnvelope
	if err := json.Unmarshal(e.Object, &env); err != nil {
		return "", false
	}
	if env.Message == nil || env.Message.Text == nil {
		return "", false
	}
	return *env.Message.Text, true
}

// Message decodes object.message.
func (e Event) Message() (*Message, error) {
	var env struct {
		Message *Message `json:"message"`
	}
	if err := json.Unmarshal(e.Object, &env); err != nil {
		return nil, fmt.Errorf("decode %s object: %w", e.Type, err)
	}
	if env.Message == nil {
		return nil, fmt.Errorf("event %s (%s) has no message", e.EventID, e.Type)
	}
	return env.Message, nil
}

// Callback is the message_event payload. Answer it with
// messages.sendMessageEventAnswer using EventID, UserID and PeerID.
type Callback struct {
	UserID                int64           `json:"user_id"`
	PeerID                int64           `json:"peer_id"`
	EventID               string          `json:"event_id"`
	Payload               json.RawMessage `json:"payload,omitempty"`
	ConversationMessageID int64           `json:"conversation_message_id"`
}

// Callback decodes a message_event object.
func (e Event) Callback() (*Callback, error) {
	if e.Type != KindMessageEvent {
		return nil, fmt.Errorf("event %s is %s, not %s", e.EventID, e.Type, KindMessageEvent)
	}
	var cb Callback
	if err := json.Unmarshal(e.Object, &cb); err != nil {
		return nil, fmt.Errorf("decode %s object: %w", e.Type, err)
	}
	if cb.EventID == "" {
		return nil, fmt.Errorf("event %s has no callback event_id", e.EventID)
	}
	return &cb, nil
}
