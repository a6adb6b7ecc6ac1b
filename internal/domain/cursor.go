package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor — позиция в истории (created_at, id DESC).
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor returns nil for an empty string. Malformed input is a validation error.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cursor: %v", ErrValidation, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: invalid cursor: %v", ErrValidation, err)
	}
	return &c, nil
}

// Before reports whether (at, id) sorts strictly after the cursor in a
// newest-first listing.
func (c Cursor) Before(at time.Time, id int64) bool {
	return at.Before(c.CreatedAt) || (at.Equal(c.CreatedAt) && id < c.ID)
}
