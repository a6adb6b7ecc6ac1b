package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/internal/memstore"
	"github.com/cwrk-planet/chat-service/internal/metrics"
	"github.com/cwrk-planet/chat-service/internal/service"
	httpt "github.com/cwrk-planet/chat-service/internal/transport/http"
)

type tokens map[string]domain.Principal

func (t tokens) Resolve(_ context.Context, token string) (domain.Principal, error) {
	if p, ok := t[token]; ok {
		return p, nil
	}
	return domain.Principal{}, domain.ErrUnauthorized
}

type recConn struct {
	mu     sync.Mutex
	frames []hub.EventType
}

func (c *recConn) Send(frame []byte) error {
	var env struct {
		Type hub.EventType `json:"type"`
	}
	_ = json.Unmarshal(frame, &env)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, env.Type)
	return nil
}

func (c *recConn) Close() error { return nil }

func (c *recConn) got(t hub.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f == t {
			n++
		}
	}
	return n
}

type env struct {
	srv *httptest.Server
	hub *hub.Hub
	st  *memstore.Store
}

func newEnv(t *testing.T, health func(context.Context) error) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()
	st.PutUser(domain.User{ID: 1, Username: "alice"})
	st.PutUser(domain.User{ID: 2, Username: "bob"})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := hub.New(hub.Options{Logger: log, Observer: m})

	msgs := service.NewMessageService(service.MessageDeps{
		Messages: st.Messages(), Reactions: st.Reactions(), Attachments: st.Attachments(),
		Users: st.Users(), Bus: h, Recorder: m, Logger: log,
	}, 1000, 50)
	reacts := service.NewReactionService(service.ReactionDeps{
		Messages: st.Messages(), Reactions: st.Reactions(), Users: st.Users(), Bus: h, Recorder: m, Logger: log,
	})
	files := service.NewAttachmentService(st.Messages(), st.Attachments(), memstore.NewBlobs(), m, log,
		service.UploadLimits{MaxSize: 64})
	users := service.NewUserService(st.Users(), log)

	router := httpt.NewRouter(httpt.Deps{
		Handler: httpt.NewHandler(msgs, reacts, files, users, h),
		Auth: tokens{
			"tok-a": {UserID: 1, Username: "alice"},
			"tok-b": {UserID: 2, Username: "bob"},
		},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Health:  health,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &env{srv: srv, hub: h, st: st}
}

func (e *env) do(t *testing.T, method, path, token string, body io.Reader, hdr map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Meta    struct {
			Code string `json:"code"`
		} `json:"meta"`
	} `json:"error"`
}

type message struct {
	ID        int64  `json:"id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	IsRead    bool   `json:"is_read"`
	Reactions []struct {
		ID    int64  `json:"id"`
		Emoji string `json:"emoji"`
	} `json:"reactions"`
}

func (e *env) sendMessage(t *testing.T, token, content string) message {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/messages", token, strings.NewReader(`{"content":`+quote(content)+`}`), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[message](t, resp)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t, nil)

	resp := e.do(t, http.MethodGet, "/api/messages", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "unauthorized", decode[errorBody](t, resp).Error.Meta.Code)

	resp = e.do(t, http.MethodGet, "/api/messages", "forged", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessages(t *testing.T) {
	e := newEnv(t, nil)

	m := e.sendMessage(t, "tok-a", "hi")
	require.Equal(t, "hi", m.Content)
	require.Equal(t, int64(1), m.SenderID)
	require.False(t, m.IsRead)
	e.sendMessage(t, "tok-b", "hello")

	resp := e.do(t, http.MethodPost, "/api/messages", "tok-a", strings.NewReader(`{"content":"   "}`), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation_failure", decode[errorBody](t, resp).Error.Meta.Code)

	resp = e.do(t, http.MethodPost, "/api/messages", "tok-a", strings.NewReader(`{}`), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/messages?limit=1", "tok-a", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[struct {
		Items      []message `json:"items"`
		NextCursor string    `json:"next_cursor"`
	}](t, resp)
	require.Len(t, page.Items, 1)
	require.Equal(t, "hello", page.Items[0].Content)
	require.NotEmpty(t, page.NextCursor)

	resp = e.do(t, http.MethodPut, "/api/messages/"+itoa(m.ID)+"/read", "tok-b", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/messages/"+itoa(m.ID), "tok-b", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decode[message](t, resp).IsRead)

	resp = e.do(t, http.MethodGet, "/api/messages/999", "tok-b", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/api/messages/abc", "tok-b", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReactionToggle_EchoPolicy(t *testing.T) {
	e := newEnv(t, nil)
	m := e.sendMessage(t, "tok-a", "hi")

	actor, other := &recConn{}, &recConn{}
	for id, c := range map[string]*recConn{"b-conn": actor, "a-conn": other} {
		_, err := e.hub.Register(id, c)
		require.NoError(t, err)
	}
	require.NoError(t, e.hub.AttachPrincipal("a-conn", domain.Principal{UserID: 1, Username: "alice"}))
	require.NoError(t, e.hub.AttachPrincipal("b-conn", domain.Principal{UserID: 2, Username: "bob"}))
	for _, id := range []string{"a-conn", "b-conn"} {
		_, err := e.hub.Join("room", id)
		require.NoError(t, err)
	}

	body := `{"message_id":` + itoa(m.ID) + `,"emoji":"👍","group_id":"room"}`
	hdr := map[string]string{httpt.HeaderConnectionID: "b-conn"}

	resp := e.do(t, http.MethodPost, "/api/reactions", "tok-b", strings.NewReader(body), hdr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Emoji    string `json:"emoji"`
	}](t, resp)
	require.Equal(t, "bob", created.Username)
	require.Equal(t, 1, other.got(hub.TypeReactionAdded))
	require.Equal(t, 0, actor.got(hub.TypeReactionAdded))

	resp = e.do(t, http.MethodGet, "/api/reactions/message/"+itoa(m.ID), "tok-a", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]json.RawMessage](t, resp), 1)

	resp = e.do(t, http.MethodPost, "/api/reactions", "tok-b", strings.NewReader(body), hdr)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 1, other.got(hub.TypeReactionRemoved))
	require.Equal(t, 1, actor.got(hub.TypeReactionRemoved))

	resp = e.do(t, http.MethodPost, "/api/reactions", "tok-b", strings.NewReader(`{"message_id":999,"emoji":"👍"}`), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = e.do(t, http.MethodPost, "/api/reactions", "tok-b", strings.NewReader(`{"message_id":1}`), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReactionToggle_ForeignConnectionIDIgnored(t *testing.T) {
	e := newEnv(t, nil)
	m := e.sendMessage(t, "tok-a", "hi")

	alice := &recConn{}
	_, err := e.hub.Register("a-conn", alice)
	require.NoError(t, err)
	require.NoError(t, e.hub.AttachPrincipal("a-conn", domain.Principal{UserID: 1, Username: "alice"}))
	_, err = e.hub.Join("room", "a-conn")
	require.NoError(t, err)

	body := `{"message_id":` + itoa(m.ID) + `,"emoji":"👍","group_id":"room"}`
	for _, conn := range []string{"a-conn", "no-such-conn"} {
		resp := e.do(t, http.MethodPost, "/api/reactions", "tok-b", strings.NewReader(body), map[string]string{httpt.HeaderConnectionID: conn})
		require.Contains(t, []int{http.StatusCreated, http.StatusNoContent}, resp.StatusCode)
	}
	// bob named alice's socket: it still gets the add, and the removal
	require.Equal(t, 1, alice.got(hub.TypeReactionAdded))
	require.Equal(t, 1, alice.got(hub.TypeReactionRemoved))
}

func TestDeleteReaction_OwnerOnly(t *testing.T) {
	e := newEnv(t, nil)
	m := e.sendMessage(t, "tok-a", "hi")

	resp := e.do(t, http.MethodPost, "/api/reactions", "tok-a", strings.NewReader(`{"message_id":`+itoa(m.ID)+`,"emoji":"🔥"}`), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[struct {
		ID int64 `json:"id"`
	}](t, resp).ID

	resp = e.do(t, http.MethodDelete, "/api/reactions/"+itoa(id), "tok-b", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/api/reactions/"+itoa(id), "tok-a", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/api/reactions/"+itoa(id), "tok-a", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func multipartBody(t *testing.T, messageID, name string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if messageID != "" {
		require.NoError(t, mw.WriteField("message_id", messageID))
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndDownload(t *testing.T) {
	e := newEnv(t, nil)
	m := e.sendMessage(t, "tok-a", "see attached")

	pdf := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n")
	body, ctype := multipartBody(t, itoa(m.ID), "report.pdf", pdf)
	resp := e.do(t, http.MethodPost, "/api/files/upload", "tok-a", body, map[string]string{"Content-Type": ctype})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[struct {
		ID   int64  `json:"id"`
		URL  string `json:"url"`
		Name string `json:"name"`
		Size int64  `json:"size"`
		Type string `json:"type"`
	}](t, resp)
	require.Equal(t, "report.pdf", up.Name)
	require.Equal(t, int64(len(pdf)), up.Size)
	require.Equal(t, "application/pdf", up.Type)
	require.Equal(t, "/api/files/download/"+itoa(up.ID), up.URL)

	resp = e.do(t, http.MethodGet, up.URL, "tok-b", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), `filename=report.pdf`)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, pdf, got)

	resp = e.do(t, http.MethodGet, "/api/messages/"+itoa(m.ID), "tok-a", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpload_Rejections(t *testing.T) {
	e := newEnv(t, nil)
	m := e.sendMessage(t, "tok-a", "x")

	cases := []struct {
		name      string
		messageID string
		file      string
		content   []byte
		status    int
	}{
		{"exact limit", itoa(m.ID), "a.png", bytes.Repeat([]byte{1}, 64), http.StatusOK},
		{"one byte over", itoa(m.ID), "a.png", bytes.Repeat([]byte{1}, 65), http.StatusBadRequest},
		{"bad extension", itoa(m.ID), "a.exe", []byte{1}, http.StatusBadRequest},
		{"no file", itoa(m.ID), "", nil, http.StatusBadRequest},
		{"no message id", "", "a.png", []byte{1}, http.StatusBadRequest},
		{"unknown message", "999", "a.png", []byte{1}, http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body, ctype := multipartBody(t, c.messageID, c.file, c.content)
			resp := e.do(t, http.MethodPost, "/api/files/upload", "tok-a", body, map[string]string{"Content-Type": ctype})
			require.Equal(t, c.status, resp.StatusCode)
		})
	}
}

func TestMe(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/api/users/me", "tok-b", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	u := decode[struct {
		ID          int64  `json:"id"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	}](t, resp)
	require.Equal(t, int64(2), u.ID)
	require.Equal(t, "bob", u.DisplayName)
}

func TestHealthAndMetrics(t *testing.T) {
	healthy := newEnv(t, func(context.Context) error { return nil })
	resp := healthy.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	healthy.sendMessage(t, "tok-a", "count me")
	resp = healthy.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "chat_messages_sent_total 1")

	sick := newEnv(t, func(context.Context) error { return errors.New("pg down") })
	resp = sick.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestServer_ClosesListenerBeforeDrain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	srv := httpt.NewServer(httpt.ServerConfig{}, http.NotFoundHandler())
	var dialErr error
	srv.OnShutdown = func(context.Context) error {
		c, err := net.Dial("tcp", addr)
		if c != nil {
			_ = c.Close()
		}
		dialErr = err
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Error(t, dialErr)
}
