package domain

import "time"

type Attachment struct {
	ID           int64     `db:"id"`
	MessageID    int64     `db:"message_id"`
	FileName     string    `db:"file_name"`
	ContentType  string    `db:"content_type"`
	StorageToken string    `db:"storage_token"`
	Size         int64     `db:"size"`
	UploadedAt   time.Time `db:"uploaded_at"`
}
