package ws

import "encoding/json"

// Типы запросов, которые клиент шлёт в WS.
const (
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypeSendMessage    = "send_message"
	TypeToggleReaction = "toggle_reaction"
	TypeSendReaction   = "send_reaction"   // relay без записи в БД
	TypeRemoveReaction = "remove_reaction" // relay удаления всей группе
)

// Request — входящий кадр. RequestID возвращается в ack/error.
type Request struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type GroupPayload struct {
	Group string `json:"group"`
}

type SendMessagePayload struct {
	Content string `json:"content"`
}

type ToggleReactionPayload struct {
	Group     string `json:"group,omitempty"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type SendReactionPayload struct {
	Group    string          `json:"group"`
	Reaction json.RawMessage `json:"reaction"`
}

type RemoveReactionPayload struct {
	Group      string `json:"group"`
	ReactionID int64  `json:"reaction_id"`
}

// ack data
type MessageAck struct {
	MessageID int64 `json:"message_id"`
}

type ToggleAck struct {
	Outcome    string `json:"outcome"`
	ReactionID int64  `json:"reaction_id"`
	MessageID  int64  `json:"message_id"`
	Emoji      string `json:"emoji"`
}

type MembershipAck struct {
	Group   string `json:"group"`
	Changed bool   `json:"changed"`
}

type DeliveryAck struct {
	Delivered int `json:"delivered"`
}
