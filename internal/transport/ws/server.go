package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (domain.Principal, error)
}

type MessageSvc interface {
	Send(ctx context.Context, p domain.Principal, content string) (*domain.Message, error)
}

type ReactionSvc interface {
	Toggle(ctx context.Context, p domain.Principal, messageID int64, emoji string, scope service.Scope) (domain.ReactionOutcome, error)
	Relay(p domain.Principal, connID, group string, payload json.RawMessage) (hub.Delivery, error)
	Revoke(p domain.Principal, group string, reactionID int64) (hub.Delivery, error)
}

// Rejections считает кадры, отброшенные до обработки.
type Rejections interface {
	Rejected(reason string)
}

type Config struct {
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxFrameSize   int64
	RateBurst      int
	RatePerSec     float64
	RequestTimeout time.Duration

	// Reconnect уходит клиентам в welcome; nil — не советовать.
	Reconnect *hub.ReconnectHint
}

func (c *Config) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 64 * 1024
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

type Server struct {
	upgrader  websocket.Upgrader
	hub       *hub.Hub
	auth      PrincipalResolver
	messages  MessageSvc
	reactions ReactionSvc
	rejects   Rejections
	log       *slog.Logger
	cfg       Config

	// mu связывает closing с wg.Add: после Shutdown новых хендлеров нет.
	mu      sync.Mutex
	closing atomic.Bool
	wg      sync.WaitGroup
}

type Deps struct {
	Hub       *hub.Hub
	Auth      PrincipalResolver
	Messages  MessageSvc
	Reactions ReactionSvc
	Rejects   Rejections
	Logger    *slog.Logger
}

func NewServer(d Deps, cfg Config) *Server {
	cfg.defaults()
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub:       d.Hub,
		auth:      d.Auth,
		messages:  d.Messages,
		reactions: d.Reactions,
		rejects:   d.Rejects,
		log:       log.With("component", "ws"),
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS: GET /ws?access_token=... (или Authorization: Bearer ...)
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	token := strings.TrimSpace(r.URL.Query().Get("access_token"))
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if token == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}
	principal, err := s.auth.Resolve(r.Context(), token)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, domain.ErrUnauthorized) {
			status = http.StatusInternalServerError
			s.log.Error("ws resolve principal", "err", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	connID := uuid.NewString()
	log := s.log.With("conn_id", connID, "user_id", principal.UserID)
	c := newWsConn(conn, s.cfg.SendBuffer, s.cfg.WriteTimeout, s.cfg.PingInterval, log)

	if _, err := s.hub.Register(connID, c); err != nil {
		log.Error("ws register", "err", err)
		_ = conn.Close()
		return
	}
	go c.writePump()
	// Shutdown мог пройти hub.Close между Upgrade и Register
	if s.closing.Load() {
		_ = s.hub.Unregister(connID)
		_ = c.Close()
		return
	}

	// welcome до presence, чтобы клиент узнал свой id первым
	s.hub.SendToConnection(connID, hub.Welcome{ConnectionID: connID, UserID: int64(principal.UserID), Reconnect: s.cfg.Reconnect})
	if err := s.hub.AttachPrincipal(connID, principal); err != nil {
		log.Error("ws attach principal", "err", err)
	}
	log.Info("ws connected")

	s.readLoop(r.Context(), connID, principal, c, log)

	if err := s.hub.Unregister(connID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn("ws unregister", "err", err)
	}
	_ = c.Close()
	log.Info("ws disconnected")
}

func (s *Server) readLoop(ctx context.Context, connID string, p domain.Principal, c *wsConn, log *slog.Logger) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RateBurst)
	readWait := 2 * s.cfg.PingInterval

	c.conn.SetReadLimit(s.cfg.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.reject("bad_frame")
			s.replyErr(connID, "", fmt.Errorf("%w: malformed frame", domain.ErrValidation))
			continue
		}
		if !limiter.Allow() {
			s.reject("rate_limited")
			s.hub.SendToConnection(connID, hub.ErrorEvent{RequestID: req.RequestID, Code: "rate_limited", Message: "too many requests"})
			continue
		}

		// запрос доводится до конца, даже если клиент уже ушёл
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
		out, err := s.dispatch(rctx, connID, p, req)
		cancel()
		if err != nil {
			if !isClientErr(err) {
				log.Error("ws request failed", "type", req.Type, "err", err)
			}
			s.replyErr(connID, req.RequestID, err)
			continue
		}
		s.hub.SendToConnection(connID, hub.Ack{RequestID: req.RequestID, Data: out})
	}
}

func (s *Server) dispatch(ctx context.Context, connID string, p domain.Principal, req Request) (any, error) {
	switch req.Type {
	case TypeJoin:
		var pl GroupPayload
		if err := decode(req.Payload, &pl); err != nil {
			return nil, err
		}
		joined, err := s.hub.Join(pl.Group, connID)
		if err != nil {
			return nil, err
		}
		group := strings.TrimSpace(pl.Group)
		if joined {
			s.hub.SendToGroup(group, hub.UserJoined{Group: group, UserID: int64(p.UserID), Username: p.Username})
		}
		return MembershipAck{Group: group, Changed: joined}, nil

	case TypeLeave:
		var pl GroupPayload
		if err := decode(req.Payload, &pl); err != nil {
			return nil, err
		}
		left, err := s.hub.Leave(pl.Group, connID)
		if err != nil {
			return nil, err
		}
		group := strings.TrimSpace(pl.Group)
		if left {
			s.hub.SendToGroup(group, hub.UserLeft{Group: group, UserID: int64(p.UserID), Username: p.Username})
		}
		return MembershipAck{Group: group, Changed: left}, nil

	case TypeSendMessage:
		var pl SendMessagePayload
		if err := decode(req.Payload, &pl); err != nil {
			return nil, err
		}
		m, err := s.messages.Send(ctx, p, pl.Content)
		if err != nil {
			return nil, err
		}
		return MessageAck{MessageID: m.ID}, nil

	case TypeToggleReaction:
		var pl ToggleReactionPayload
		if err := decode(req.Payload, &pl); err != nil {
			return nil, err
		}
		out, err := s.reactions.Toggle(ctx, p, pl.MessageID, pl.Emoji, service.Scope{Group: pl.Group, ActorConn: connID})
		if err != nil {
			return nil, err
		}
		return ToggleAck{
			Outcome:    string(out.Kind),
			ReactionID: out.Reaction.ID,
			MessageID:  out.Reaction.MessageID,
			Emoji:      out.Reaction.Emoji,
		}, nil

	case TypeSendReaction:
		var pl SendReactionPayload
		if err := decode(req.Payload, &pl); err != nil {
			return nil, err
		}
		d, err := s.reactions.Relay(p, connID, pl.Group, pl.Reaction)
		if err != nil {
			return nil, err
		}
		return DeliveryAck{Delivered: d.Delivered}, nil

	case TypeRemoveReaction:
		var pl RemoveReactionPayload
		if err := decode(req.Payload, &pl); err != nil {
			return nil, err
		}
		d, err := s.reactions.Revoke(p, pl.Group, pl.ReactionID)
		if err != nil {
			return nil, err
		}
		return DeliveryAck{Delivered: d.Delivered}, nil

	default:
		s.reject("unknown_type")
		return nil, fmt.Errorf("%w: unknown request type %q", domain.ErrValidation, req.Type)
	}
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// Shutdown stops accepting sockets, closes every connection and waits for
// the handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	s.mu.Unlock()

	if err := s.hub.Close(); err != nil {
		s.log.Warn("ws close connections", "err", err)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) replyErr(connID, requestID string, err error) {
	msg := err.Error()
	if !isClientErr(err) {
		msg = "internal error"
	}
	s.hub.SendToConnection(connID, hub.ErrorEvent{RequestID: requestID, Code: domain.Code(err), Message: msg})
}

func (s *Server) reject(reason string) {
	if s.rejects != nil {
		s.rejects.Rejected(reason)
	}
}

func isClientErr(err error) bool {
	return domain.Code(err) != "internal"
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: bad payload: %v", domain.ErrValidation, err)
	}
	return nil
}
