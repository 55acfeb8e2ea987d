package chat

import (
	"time"

	"livecast/internal/core/domain"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Client -> Server messages
	MessageTypeChat MessageType = "CHAT"

	// Server -> Client messages
	MessageTypeChatBroadcast MessageType = "CHAT_BROADCAST"
	MessageTypeViewUpdate    MessageType = "VIEW_UPDATE"
	MessageTypeError         MessageType = "ERROR"
	MessageTypeJoined        MessageType = "JOINED"
	MessageTypeLeft          MessageType = "LEFT"
)

// Message is the wire format exchanged over the session channel
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"stream_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Username  string      `json:"username,omitempty"`
	Content   string      `json:"content,omitempty"`
	Count     int         `json:"count,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// NewChatMessage creates a new chat broadcast message
func NewChatMessage(sessionID, userID, username, content string) *Message {
	return &Message{
		Type:      MessageTypeChatBroadcast,
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewViewUpdateMessage creates a new viewer count update message
func NewViewUpdateMessage(sessionID string, count int) *Message {
	return &Message{
		Type:      MessageTypeViewUpdate,
		SessionID: sessionID,
		Count:     count,
		Timestamp: time.Now(),
	}
}

// NewErrorMessage creates a new error message
func NewErrorMessage(content string) *Message {
	return &Message{
		Type:      MessageTypeError,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewJoinedMessage creates a message when a participant joins
func NewJoinedMessage(sessionID, username string, count int) *Message {
	return &Message{
		Type:      MessageTypeJoined,
		SessionID: sessionID,
		Username:  username,
		Count:     count,
		Timestamp: time.Now(),
	}
}

// NewLeftMessage creates a message when a participant leaves
func NewLeftMessage(sessionID, username string, count int) *Message {
	return &Message{
		Type:      MessageTypeLeft,
		SessionID: sessionID,
		Username:  username,
		Count:     count,
		Timestamp: time.Now(),
	}
}

// ToChatEvent converts an inbound wire message into a domain event.
// The second return value is false for message types that carry no event.
func (m *Message) ToChatEvent() (domain.ChatEvent, bool) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch m.Type {
	case MessageTypeChatBroadcast:
		return domain.ChatEvent{
			Kind:       domain.EventChat,
			SenderID:   domain.ParticipantID(m.UserID),
			SenderName: m.Username,
			Body:       m.Content,
			OccurredAt: ts,
		}, true
	case MessageTypeJoined:
		return domain.ChatEvent{
			Kind:       domain.EventJoined,
			SenderName: m.Username,
			Count:      m.Count,
			OccurredAt: ts,
		}, true
	case MessageTypeLeft:
		return domain.ChatEvent{
			Kind:       domain.EventLeft,
			SenderName: m.Username,
			Count:      m.Count,
			OccurredAt: ts,
		}, true
	case MessageTypeViewUpdate:
		return domain.ChatEvent{
			Kind:       domain.EventViewerUpdate,
			Count:      m.Count,
			OccurredAt: ts,
		}, true
	case MessageTypeError:
		return domain.ChatEvent{
			Kind:       domain.EventError,
			Body:       m.Content,
			OccurredAt: ts,
		}, true
	default:
		return domain.ChatEvent{}, false
	}
}
