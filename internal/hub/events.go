package hub

import (
	"encoding/json"
	"time"
)

// Типы событий, которые уходят в WS.
type EventType string

const (
	TypeMessageReceived  EventType = "message_received"
	TypeReactionAdded    EventType = "reaction_added"
	TypeReactionRemoved  EventType = "reaction_removed"
	TypeReactionRelayed  EventType = "reaction_relayed" // сырой relay sendReaction, без записи в БД
	TypeReactionRevoked  EventType = "reaction_revoked" // relay removeReaction
	TypeUserConnected    EventType = "user_connected"
	TypeUserDisconnected EventType = "user_disconnected"
	TypeUserJoined       EventType = "user_joined"
	TypeUserLeft         EventType = "user_left"
	TypeWelcome          EventType = "welcome" // первый кадр после upgrade: id соединения
	TypeAck              EventType = "ack"
	TypeError            EventType = "error"
)

// Event is the closed set of things the hub can deliver. Payload structs
// below are the only implementations.
type Event interface {
	EventType() EventType
}

type envelope struct {
	Type    EventType `json:"type"`
	Payload Event     `json:"payload"`
}

// Encode renders the wire frame {"type":..., "payload":...}.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Type: ev.EventType(), Payload: ev})
}

type AttachmentRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type MessageReceived struct {
	MessageID    int64           `json:"message_id"`
	SenderID     int64           `json:"sender_id"`
	SenderName   string          `json:"sender_name"`
	SenderAvatar string          `json:"sender_avatar,omitempty"`
	Content      string          `json:"content"`
	Timestamp    time.Time       `json:"timestamp"`
	IsRead       bool            `json:"is_read"`
	Attachments  []AttachmentRef `json:"attachments"`
}

// ReactionChange carries everything a client needs to patch its view
// without refetching the message.
type ReactionChange struct {
	Group      string    `json:"group,omitempty"`
	MessageID  int64     `json:"message_id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	Emoji      string    `json:"emoji"`
	ReactionID int64     `json:"reaction_id"`
	Timestamp  time.Time `json:"timestamp"`
}

type ReactionAdded ReactionChange
type ReactionRemoved ReactionChange

type ReactionRelayed struct {
	Group    string          `json:"group"`
	SenderID int64           `json:"sender_id"`
	Reaction json.RawMessage `json:"reaction"`
}

type ReactionRevoked struct {
	Group      string `json:"group"`
	ReactionID int64  `json:"reaction_id"`
}

type UserConnected struct {
	UserID      int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

type UserDisconnected struct {
	UserID int64 `json:"id"`
}

type UserJoined struct {
	Group    string `json:"group"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type UserLeft struct {
	Group    string `json:"group"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type Welcome struct {
	ConnectionID string         `json:"connection_id"`
	UserID       int64          `json:"user_id"`
	Reconnect    *ReconnectHint `json:"reconnect,omitempty"`
}

// ReconnectHint — backoff, который сервер советует клиентам.
type ReconnectHint struct {
	BaseMs      int64   `json:"base_ms"`
	CapMs       int64   `json:"cap_ms"`
	MaxAttempts int     `json:"max_attempts"`
	Jitter      float64 `json:"jitter"`
}

// Ack подтверждает запрос отправителю; клиент снимает pending по RequestID.
type Ack struct {
	RequestID string `json:"request_id"`
	Data      any    `json:"data,omitempty"`
}

type ErrorEvent struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (MessageReceived) EventType() EventType  { return TypeMessageReceived }
func (ReactionAdded) EventType() EventType    { return TypeReactionAdded }
func (ReactionRemoved) EventType() EventType  { return TypeReactionRemoved }
func (ReactionRelayed) EventType() EventType  { return TypeReactionRelayed }
func (ReactionRevoked) EventType() EventType  { return TypeReactionRevoked }
func (UserConnected) EventType() EventType    { return TypeUserConnected }
func (UserDisconnected) EventType() EventType { return TypeUserDisconnected }
func (UserJoined) EventType() EventType       { return TypeUserJoined }
func (UserLeft) EventType() EventType         { return TypeUserLeft }
func (Welcome) EventType() EventType          { return TypeWelcome }
func (Ack) EventType() EventType              { return TypeAck }
func (ErrorEvent) EventType() EventType       { return TypeError }
