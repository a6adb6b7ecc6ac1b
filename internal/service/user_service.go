package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/hub"
)

const presenceWriteTimeout = 3 * time.Second

// UserService reads profiles and stamps online state for the hub.
type UserService struct {
	users UserStore
	log   *slog.Logger
	now   func() time.Time
}

var _ hub.PresenceListener = (*UserService)(nil)

func NewUserService(users UserStore, log *slog.Logger) *UserService {
	if log == nil {
		log = slog.Default()
	}
	return &UserService{users: users, log: log.With("component", "users"), now: time.Now}
}

func (s *UserService) Get(ctx context.Context, id domain.UserID) (*domain.User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, persistErr("get user", err)
	}
	return u, nil
}

// Principal loads the user behind a validated token subject.
func (s *UserService) Principal(ctx context.Context, id domain.UserID) (domain.Principal, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.PrincipalFromUser(*u), nil
}

func (s *UserService) Online(p domain.Principal) error {
	return s.setOnline(p.UserID, true)
}

func (s *UserService) Offline(p domain.Principal) error {
	return s.setOnline(p.UserID, false)
}

func (s *UserService) setOnline(id domain.UserID, online bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()
	if err := s.users.SetOnline(ctx, id, online, s.now()); err != nil {
		return persistErr("set online", err)
	}
	return nil
}
