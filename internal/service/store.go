package service

import (
	"context"
	"io"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
)

// Persistence contracts. internal/postgres is the production implementation,
// internal/memstore the in-process one.

type MessageStore interface {
	// Create fills ID and CreatedAt.
	Create(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id int64) (*domain.Message, error)
	Exists(ctx context.Context, id int64) (bool, error)
	History(ctx context.Context, after string, limit int) ([]domain.Message, string, error)
	MarkRead(ctx context.Context, id int64) error
}

// ReactionTx is the check-then-act unit of a toggle.
type ReactionTx interface {
	// FindByKey returns domain.ErrNotFound when the triple is absent.
	FindByKey(ctx context.Context, key domain.ReactionKey) (*domain.Reaction, error)
	Create(ctx context.Context, r *domain.Reaction) error
	Delete(ctx context.Context, id int64) error
}

type ReactionStore interface {
	// WithinTx runs fn atomically and serialized against other calls for key.
	WithinTx(ctx context.Context, key domain.ReactionKey, fn func(tx ReactionTx) error) error
	Get(ctx context.Context, id int64) (*domain.Reaction, error)
	ListByMessage(ctx context.Context, messageID int64) ([]domain.Reaction, error)
}

type AttachmentStore interface {
	Create(ctx context.Context, a *domain.Attachment) error
	Get(ctx context.Context, id int64) (*domain.Attachment, error)
	ListByMessage(ctx context.Context, messageID int64) ([]domain.Attachment, error)
}

type UserStore interface {
	Get(ctx context.Context, id domain.UserID) (*domain.User, error)
	SetOnline(ctx context.Context, id domain.UserID, online bool, at time.Time) error
}

// BlobStore is the storage collaborator: bytes in, stable token out.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader) (token string, size int64, err error)
	Open(ctx context.Context, token string) (io.ReadCloser, error)
	Delete(ctx context.Context, token string) error
}

// Broadcaster is the part of *hub.Hub the services publish through.
type Broadcaster interface {
	SendToAll(ev hub.Event) hub.Delivery
	SendToAllExcept(senderID string, ev hub.Event) hub.Delivery
	SendToGroup(group string, ev hub.Event) hub.Delivery
	SendToGroupExcept(group, senderID string, ev hub.Event) hub.Delivery
}

// Recorder collects service counters; *metrics.Metrics satisfies it.
type Recorder interface {
	ReactionToggled(kind domain.OutcomeKind)
	MessageSent()
	Uploaded(size int64)
}

type nopRecorder struct{}

func (nopRecorder) ReactionToggled(domain.OutcomeKind) {}
func (nopRecorder) MessageSent()                       {}
func (nopRecorder) Uploaded(int64)                     {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
