package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API — REST-часть, нужна для догонки истории после reconnect.
type API struct {
	BaseURL string // http://host:port
	Token   string
	HTTP    *http.Client
}

type HistoryMessage struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read"`
	Reactions  []struct {
		ID       int64  `json:"id"`
		UserID   int64  `json:"user_id"`
		Username string `json:"username"`
		Emoji    string `json:"emoji"`
	} `json:"reactions"`
}

type HistoryPage struct {
	Items      []HistoryMessage `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// APIError — ответ сервера в формате {"error": {"message": ..., "meta": {"code": ...}}}.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// History returns one newest-first page of messages.
func (a API) History(ctx context.Context, cursor string, limit int) (HistoryPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page HistoryPage
	err := a.do(ctx, http.MethodGet, "/api/messages?"+q.Encode(), &page)
	return page, err
}

func (a API) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	req.Header.Set("Accept", "application/json")

	hc := a.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body struct {
			Error struct {
				Message string `json:"message"`
				Meta    struct {
					Code string `json:"code"`
				} `json:"meta"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
			apiErr.Message = body.Error.Message
			apiErr.Code = body.Error.Meta.Code
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
