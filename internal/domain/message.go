package domain

import "time"

type Message struct {
	ID          int64        `db:"id"`
	SenderID    int64        `db:"sender_id"`
	Content     string       `db:"content"`
	CreatedAt   time.Time    `db:"created_at"`
	IsRead      bool         `db:"is_read"`
	Attachments []Attachment `db:"-"`
	Reactions   []Reaction   `db:"-"`

	// заполняются при чтении из users
	SenderName   string `db:"-"`
	SenderAvatar string `db:"-"`
}
