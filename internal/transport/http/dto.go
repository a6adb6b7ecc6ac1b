package http

import (
	"time"

	"github.com/samber/lo"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type toggleReactionRequest struct {
	MessageID int64  `json:"message_id" validate:"required,gt=0"`
	Emoji     string `json:"emoji" validate:"required"`
	GroupID   string `json:"group_id" validate:"omitempty,max=128"`
}

type attachmentResponse struct {
	ID   int64  `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

type reactionResponse struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type messageResponse struct {
	ID           int64                `json:"id"`
	SenderID     int64                `json:"sender_id"`
	SenderName   string               `json:"sender_name"`
	SenderAvatar string               `json:"sender_avatar,omitempty"`
	Content      string               `json:"content"`
	CreatedAt    time.Time            `json:"created_at"`
	IsRead       bool                 `json:"is_read"`
	Attachments  []attachmentResponse `json:"attachments"`
	Reactions    []reactionResponse   `json:"reactions"`
}

type historyResponse struct {
	Items      []messageResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type userResponse struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	IsOnline    bool       `json:"is_online"`
	LastActive  *time.Time `json:"last_active,omitempty"`
}

func toAttachment(a domain.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:   a.ID,
		URL:  service.DownloadURL(a.ID),
		Name: a.FileName,
		Size: a.Size,
		Type: a.ContentType,
	}
}

func toReaction(r domain.Reaction) reactionResponse {
	return reactionResponse{
		ID:        r.ID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Username:  r.Username,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
}

func toMessage(m domain.Message) messageResponse {
	return messageResponse{
		ID:           m.ID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt,
		IsRead:       m.IsRead,
		Attachments: lo.Map(m.Attachments, func(a domain.Attachment, _ int) attachmentResponse {
			return toAttachment(a)
		}),
		Reactions: lo.Map(m.Reactions, func(r domain.Reaction, _ int) reactionResponse {
			return toReaction(r)
		}),
	}
}

func toUser(u *domain.User) userResponse {
	return userResponse{
		ID:          int64(u.ID),
		Username:    u.Username,
		DisplayName: u.Name(),
		AvatarURL:   u.Avatar(),
		IsOnline:    u.IsOnline,
		LastActive:  u.LastActive,
	}
}
