package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
)

const (
	DefaultMaxMessageLength = 1000
	maxHistoryLimit         = 100
)

type MessageService struct {
	messages    MessageStore
	reactions   ReactionStore
	attachments AttachmentStore
	users       UserStore
	bus         Broadcaster
	rec         Recorder
	log         *slog.Logger

	maxLength    int
	historyLimit int
}

type MessageDeps struct {
	Messages    MessageStore
	Reactions   ReactionStore
	Attachments AttachmentStore
	Users       UserStore
	Bus         Broadcaster
	Recorder    Recorder
	Logger      *slog.Logger
}

func NewMessageService(d MessageDeps, maxLength, historyLimit int) *MessageService {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	if historyLimit <= 0 || historyLimit > maxHistoryLimit {
		historyLimit = 50
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MessageService{
		messages:     d.Messages,
		reactions:    d.Reactions,
		attachments:  d.Attachments,
		users:        d.Users,
		bus:          d.Bus,
		rec:          orNop(d.Recorder),
		log:          log.With("component", "messages"),
		maxLength:    maxLength,
		historyLimit: historyLimit,
	}
}

// validateContent принимает от 1 до maxLength символов (не байт), пробелы не считаются текстом.
func (s *MessageService) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message is empty", domain.ErrValidation)
	}
	if n := utf8.RuneCountInString(content); n > s.maxLength {
		return fmt.Errorf("%w: message is %d characters, limit is %d", domain.ErrValidation, n, s.maxLength)
	}
	return nil
}

// Send persists a message and broadcasts it to every connection, the sender included.
func (s *MessageService) Send(ctx context.Context, p domain.Principal, content string) (*domain.Message, error) {
	if p.UserID == 0 {
		return nil, domain.ErrUnauthorized
	}
	if err := s.validateContent(content); err != nil {
		return nil, err
	}

	m := &domain.Message{
		SenderID:     int64(p.UserID),
		Content:      content,
		SenderName:   lo.Ternary(p.DisplayName != "", p.DisplayName, p.Username),
		SenderAvatar: p.AvatarURL,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, persistErr("create message", err)
	}
	s.rec.MessageSent()

	d := s.bus.SendToAll(MessageEvent(m))
	s.log.Debug("message broadcast", "message_id", m.ID, "sender_id", m.SenderID,
		"delivered", d.Delivered, "failed", d.Failed)
	return m, nil
}

// Get returns the message with attachments and reactions (usernames resolved).
func (s *MessageService) Get(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, persistErr("get message", err)
	}
	atts, err := s.attachments.ListByMessage(ctx, id)
	if err != nil {
		return nil, persistErr("list attachments", err)
	}
	reacts, err := s.reactions.ListByMessage(ctx, id)
	if err != nil {
		return nil, persistErr("list reactions", err)
	}
	m.Attachments = atts
	m.Reactions = reacts
	return m, nil
}

func (s *MessageService) History(ctx context.Context, after string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = s.historyLimit
	}
	if _, err := domain.DecodeCursor(after); err != nil {
		return nil, "", err
	}
	msgs, next, err := s.messages.History(ctx, after, limit)
	if err != nil {
		return nil, "", persistErr("history", err)
	}
	for i := range msgs {
		reacts, err := s.reactions.ListByMessage(ctx, msgs[i].ID)
		if err != nil {
			return nil, "", persistErr("list reactions", err)
		}
		msgs[i].Reactions = reacts
	}
	return msgs, next, nil
}

func (s *MessageService) MarkRead(ctx context.Context, id int64) error {
	if err := s.messages.MarkRead(ctx, id); err != nil {
		return persistErr("mark read", err)
	}
	return nil
}

// MessageEvent renders the broadcast payload for m.
func MessageEvent(m *domain.Message) hub.MessageReceived {
	return hub.MessageReceived{
		MessageID:    m.ID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		SenderAvatar: m.SenderAvatar,
		Content:      m.Content,
		Timestamp:    m.CreatedAt,
		IsRead:       m.IsRead,
		Attachments: lo.Map(m.Attachments, func(a domain.Attachment, _ int) hub.AttachmentRef {
			return hub.AttachmentRef{ID: a.ID, Name: a.FileName, Type: a.ContentType, Size: a.Size, URL: DownloadURL(a.ID)}
		}),
	}
}

// persistErr keeps taxonomy errors as they are and folds the rest into
// domain.ErrPersistence.
func persistErr(op string, err error) error {
	for _, known := range []error{
		domain.ErrNotFound, domain.ErrValidation, domain.ErrUnauthorized,
		domain.ErrConflict, domain.ErrPersistence,
	} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistence, err)
}
