// Package memstore keeps every persistence contract in process memory.
// Tests use it in place of postgres.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type Store struct {
	mu sync.Mutex

	users       map[domain.UserID]domain.User
	messages    map[int64]domain.Message
	reactions   map[int64]domain.Reaction
	attachments map[int64]domain.Attachment

	msgSeq, reactSeq, attSeq int64

	now func() time.Time

	// FailCommit, if set, is returned by every reaction transaction instead of committing.
	FailCommit error
}

func New() *Store {
	return &Store{
		users:       make(map[domain.UserID]domain.User),
		messages:    make(map[int64]domain.Message),
		reactions:   make(map[int64]domain.Reaction),
		attachments: make(map[int64]domain.Attachment),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Users implements service.UserStore.
type Users struct{ s *Store }

var _ service.UserStore = (*Users)(nil)

func (r *Users) Get(ctx context.Context, id domain.UserID) (*domain.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (r *Users) SetOnline(ctx context.Context, id domain.UserID, online bool, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	u.IsOnline = online
	u.LastActive = &at
	s.users[id] = u
	return nil
}

func (s *Store) Users() *Users { return &Users{s} }

func (s *Store) Messages() *Messages { return &Messages{s} }

func (s *Store) Attachments() *Attachments { return &Attachments{s} }

func (s *Store) Reactions() *Reactions { return &Reactions{s} }

// senderLocked fills sender fields from the users table.
func (s *Store) senderLocked(m *domain.Message) {
	if u, ok := s.users[domain.UserID(m.SenderID)]; ok {
		m.SenderName = u.Name()
		m.SenderAvatar = u.Avatar()
	} else if m.SenderName == "" {
		m.SenderName = "Unknown"
	}
}

func (s *Store) usernameLocked(id int64) string {
	if u, ok := s.users[domain.UserID(id)]; ok {
		return u.Username
	}
	return "Unknown User"
}

// Messages implements service.MessageStore.
type Messages struct{ s *Store }

var _ service.MessageStore = (*Messages)(nil)

func (r *Messages) Create(ctx context.Context, m *domain.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgSeq++
	m.ID = s.msgSeq
	m.CreatedAt = s.now()
	m.IsRead = false
	s.senderLocked(m)
	stored := *m
	stored.Attachments, stored.Reactions = nil, nil
	s.messages[m.ID] = stored
	return nil
}

func (r *Messages) Get(ctx context.Context, id int64) (*domain.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	s.senderLocked(&m)
	return &m, nil
}

func (r *Messages) Exists(ctx context.Context, id int64) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[id]
	return ok, nil
}

func (r *Messages) History(ctx context.Context, after string, limit int) ([]domain.Message, string, error) {
	cur, err := domain.DecodeCursor(after)
	if err != nil {
		return nil, "", err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if cur != nil && !cur.Before(m.CreatedAt, m.ID) {
			continue
		}
		s.senderLocked(&m)
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	var next string
	if len(all) == limit && limit > 0 {
		last := all[len(all)-1]
		next, _ = domain.EncodeCursor(domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return all, next, nil
}

func (r *Messages) MarkRead(ctx context.Context, id int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	m.IsRead = true
	s.messages[id] = m
	return nil
}

// Reactions implements service.ReactionStore. Transactions hold the store
// lock, so they are serialized globally.
type Reactions struct{ s *Store }

var _ service.ReactionStore = (*Reactions)(nil)

func (r *Reactions) WithinTx(ctx context.Context, key domain.ReactionKey, fn func(tx service.ReactionTx) error) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &reactionTx{s: s, deleted: map[int64]bool{}}
	if err := fn(tx); err != nil {
		return err
	}
	if s.FailCommit != nil {
		return s.FailCommit
	}
	for id := range tx.deleted {
		delete(s.reactions, id)
	}
	for _, c := range tx.created {
		s.reactions[c.ID] = c
	}
	return nil
}

func (r *Reactions) Get(ctx context.Context, id int64) (*domain.Reaction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	re, ok := s.reactions[id]
	if !ok {
		return nil, fmt.Errorf("reaction %d: %w", id, domain.ErrNotFound)
	}
	re.Username = s.usernameLocked(re.UserID)
	return &re, nil
}

func (r *Reactions) ListByMessage(ctx context.Context, messageID int64) ([]domain.Reaction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reaction, 0)
	for _, re := range s.reactions {
		if re.MessageID == messageID {
			re.Username = s.usernameLocked(re.UserID)
			out = append(out, re)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type reactionTx struct {
	s       *Store
	created []domain.Reaction
	deleted map[int64]bool
}

func (tx *reactionTx) FindByKey(ctx context.Context, key domain.ReactionKey) (*domain.Reaction, error) {
	match := func(re domain.Reaction) bool {
		return re.MessageID == key.MessageID && re.UserID == key.UserID && re.Emoji == key.Emoji && !tx.deleted[re.ID]
	}
	for _, re := range tx.created {
		if match(re) {
			return &re, nil
		}
	}
	for _, re := range tx.s.reactions {
		if match(re) {
			return &re, nil
		}
	}
	return nil, fmt.Errorf("reaction %v: %w", key, domain.ErrNotFound)
}

func (tx *reactionTx) Create(ctx context.Context, re *domain.Reaction) error {
	if existing, err := tx.FindByKey(ctx, domain.ReactionKey{MessageID: re.MessageID, UserID: re.UserID, Emoji: re.Emoji}); err == nil {
		return fmt.Errorf("%w: reaction %d already exists", domain.ErrConflict, existing.ID)
	}
	tx.s.reactSeq++
	re.ID = tx.s.reactSeq
	re.CreatedAt = tx.s.now()
	tx.created = append(tx.created, *re)
	return nil
}

func (tx *reactionTx) Delete(ctx context.Context, id int64) error {
	if _, ok := tx.s.reactions[id]; !ok {
		return fmt.Errorf("reaction %d: %w", id, domain.ErrNotFound)
	}
	tx.deleted[id] = true
	return nil
}

// Attachments implements service.AttachmentStore.
type Attachments struct{ s *Store }

var _ service.AttachmentStore = (*Attachments)(nil)

func (r *Attachments) Create(ctx context.Context, a *domain.Attachment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[a.MessageID]; !ok {
		return fmt.Errorf("message %d: %w", a.MessageID, domain.ErrNotFound)
	}
	s.attSeq++
	a.ID = s.attSeq
	a.UploadedAt = s.now()
	s.attachments[a.ID] = *a
	return nil
}

func (r *Attachments) Get(ctx context.Context, id int64) (*domain.Attachment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attachments[id]
	if !ok {
		return nil, fmt.Errorf("attachment %d: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (r *Attachments) ListByMessage(ctx context.Context, messageID int64) ([]domain.Attachment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Attachment, 0)
	for _, a := range s.attachments {
		if a.MessageID == messageID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Blobs is an in-memory service.BlobStore.
type Blobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ service.BlobStore = (*Blobs)(nil)

func NewBlobs() *Blobs { return &Blobs{data: make(map[string][]byte)} }

func (b *Blobs) Put(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	token := name
	if token == "" {
		token = uuid.NewString()
	}
	b.mu.Lock()
	b.data[token] = buf
	b.mu.Unlock()
	return token, int64(len(buf)), nil
}

func (b *Blobs) Open(ctx context.Context, token string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.data[token]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", token, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (b *Blobs) Delete(ctx context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, token)
	return nil
}

func (b *Blobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
