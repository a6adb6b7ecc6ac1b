package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
)

const maxEmojiLength = 32

// ReactionService owns the toggle rule: one (message, user, emoji) triple at
// most, a repeat toggle removes it.
type ReactionService struct {
	messages  MessageStore
	reactions ReactionStore
	users     UserStore
	bus       Broadcaster
	rec       Recorder
	log       *slog.Logger

	locks *keyLock[domain.ReactionKey]
}

type ReactionDeps struct {
	Messages  MessageStore
	Reactions ReactionStore
	Users     UserStore
	Bus       Broadcaster
	Recorder  Recorder
	Logger    *slog.Logger
}

func NewReactionService(d ReactionDeps) *ReactionService {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ReactionService{
		messages:  d.Messages,
		reactions: d.Reactions,
		users:     d.Users,
		bus:       d.Bus,
		rec:       orNop(d.Recorder),
		log:       log.With("component", "reactions"),
		locks:     newKeyLock[domain.ReactionKey](),
	}
}

// Scope says where the outcome is announced. Group may be empty, meaning
// every connection. ActorConn is the acting socket, if any.
type Scope struct {
	Group     string
	ActorConn string
}

// Toggle adds the reaction if the triple is absent and removes it otherwise.
// Nothing is broadcast unless the change is committed.
func (s *ReactionService) Toggle(ctx context.Context, p domain.Principal, messageID int64, emoji string, scope Scope) (domain.ReactionOutcome, error) {
	if p.UserID == 0 {
		return domain.ReactionOutcome{}, domain.ErrUnauthorized
	}
	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return domain.ReactionOutcome{}, err
	}
	ok, err := s.messages.Exists(ctx, messageID)
	if err != nil {
		return domain.ReactionOutcome{}, persistErr("check message", err)
	}
	if !ok {
		return domain.ReactionOutcome{}, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	username := s.username(ctx, p)

	key := domain.ReactionKey{MessageID: messageID, UserID: int64(p.UserID), Emoji: emoji}
	unlock := s.locks.Lock(key)
	defer unlock()

	var out domain.ReactionOutcome
	err = s.reactions.WithinTx(ctx, key, func(tx ReactionTx) error {
		existing, err := tx.FindByKey(ctx, key)
		switch {
		case err == nil:
			if err := tx.Delete(ctx, existing.ID); err != nil {
				return err
			}
			out = domain.ReactionOutcome{Kind: domain.OutcomeRemoved, Reaction: *existing}
			return nil
		case errors.Is(err, domain.ErrNotFound):
			r := &domain.Reaction{MessageID: messageID, UserID: int64(p.UserID), Emoji: emoji}
			if err := tx.Create(ctx, r); err != nil {
				return err
			}
			out = domain.ReactionOutcome{Kind: domain.OutcomeAdded, Reaction: *r}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		s.log.Warn("reaction toggle failed", "message_id", messageID, "user_id", p.UserID, "emoji", emoji, "err", err)
		return domain.ReactionOutcome{}, fmt.Errorf("toggle reaction: %w: %v", domain.ErrPersistence, err)
	}
	out.Reaction.Username = username
	s.rec.ReactionToggled(out.Kind)

	// broadcast под локом ключа: порядок событий совпадает с порядком коммитов
	s.announce(out, scope)
	return out, nil
}

// Remove deletes a reaction by id. Only its owner may do that.
func (s *ReactionService) Remove(ctx context.Context, p domain.Principal, reactionID int64, scope Scope) (*domain.Reaction, error) {
	if p.UserID == 0 {
		return nil, domain.ErrUnauthorized
	}
	r, err := s.reactions.Get(ctx, reactionID)
	if err != nil {
		return nil, persistErr("get reaction", err)
	}
	if r.UserID != int64(p.UserID) {
		return nil, fmt.Errorf("%w: reaction %d belongs to another user", domain.ErrUnauthorized, reactionID)
	}

	key := domain.ReactionKey{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
	unlock := s.locks.Lock(key)
	defer unlock()

	var removed *domain.Reaction
	err = s.reactions.WithinTx(ctx, key, func(tx ReactionTx) error {
		cur, err := tx.FindByKey(ctx, key)
		if err != nil {
			return err
		}
		if cur.ID != reactionID {
			// тройку уже переключили заново, удалять нечего
			return fmt.Errorf("reaction %d: %w", reactionID, domain.ErrNotFound)
		}
		removed = cur
		return tx.Delete(ctx, cur.ID)
	})
	if err != nil {
		return nil, persistErr("remove reaction", err)
	}
	removed.Username = s.username(ctx, p)
	s.rec.ReactionToggled(domain.OutcomeRemoved)
	s.announce(domain.ReactionOutcome{Kind: domain.OutcomeRemoved, Reaction: *removed}, scope)
	return removed, nil
}

func (s *ReactionService) List(ctx context.Context, messageID int64) ([]domain.Reaction, error) {
	ok, err := s.messages.Exists(ctx, messageID)
	if err != nil {
		return nil, persistErr("check message", err)
	}
	if !ok {
		return nil, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	list, err := s.reactions.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, persistErr("list reactions", err)
	}
	return list, nil
}

// Relay forwards a client-built reaction payload to the rest of the group
// without touching storage.
func (s *ReactionService) Relay(p domain.Principal, connID, group string, payload json.RawMessage) (hub.Delivery, error) {
	if p.UserID == 0 {
		return hub.Delivery{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(group) == "" {
		return hub.Delivery{}, fmt.Errorf("%w: group is required", domain.ErrValidation)
	}
	if !json.Valid(payload) {
		return hub.Delivery{}, fmt.Errorf("%w: reaction payload is not json", domain.ErrValidation)
	}
	return s.bus.SendToGroupExcept(group, connID, hub.ReactionRelayed{
		Group:    group,
		SenderID: int64(p.UserID),
		Reaction: payload,
	}), nil
}

// Revoke tells the whole group, the caller included, that a reaction is gone.
func (s *ReactionService) Revoke(p domain.Principal, group string, reactionID int64) (hub.Delivery, error) {
	if p.UserID == 0 {
		return hub.Delivery{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(group) == "" {
		return hub.Delivery{}, fmt.Errorf("%w: group is required", domain.ErrValidation)
	}
	return s.bus.SendToGroup(group, hub.ReactionRevoked{Group: group, ReactionID: reactionID}), nil
}

// announce: добавление не эхоится автору (ему хватает ответа на запрос),
// удаление уходит всей группе, включая автора.
func (s *ReactionService) announce(out domain.ReactionOutcome, scope Scope) {
	change := hub.ReactionChange{
		Group:      scope.Group,
		MessageID:  out.Reaction.MessageID,
		UserID:     out.Reaction.UserID,
		Username:   out.Reaction.Username,
		Emoji:      out.Reaction.Emoji,
		ReactionID: out.Reaction.ID,
		Timestamp:  out.Reaction.CreatedAt,
	}

	var d hub.Delivery
	switch {
	case out.Kind == domain.OutcomeAdded && scope.Group != "":
		d = s.bus.SendToGroupExcept(scope.Group, scope.ActorConn, hub.ReactionAdded(change))
	case out.Kind == domain.OutcomeAdded:
		d = s.bus.SendToAllExcept(scope.ActorConn, hub.ReactionAdded(change))
	case scope.Group != "":
		d = s.bus.SendToGroup(scope.Group, hub.ReactionRemoved(change))
	default:
		d = s.bus.SendToAll(hub.ReactionRemoved(change))
	}
	s.log.Debug("reaction broadcast", "kind", out.Kind, "reaction_id", out.Reaction.ID,
		"group", scope.Group, "delivered", d.Delivered, "failed", d.Failed)
}

func (s *ReactionService) username(ctx context.Context, p domain.Principal) string {
	if p.Username != "" {
		return p.Username
	}
	u, err := s.users.Get(ctx, p.UserID)
	if err != nil {
		s.log.Debug("resolve username", "user_id", p.UserID, "err", err)
		return "Unknown User"
	}
	return u.Username
}

func normalizeEmoji(e string) (string, error) {
	e = strings.TrimSpace(e)
	if e == "" {
		return "", fmt.Errorf("%w: emoji is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(e) > maxEmojiLength {
		return "", fmt.Errorf("%w: emoji is too long", domain.ErrValidation)
	}
	return e, nil
}
