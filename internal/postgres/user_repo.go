package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type UserRepo struct {
	q querier
}

var _ service.UserStore = (*UserRepo)(nil)

func NewUserRepo(q querier) *UserRepo {
	return &UserRepo{q: q}
}

func (r *UserRepo) Get(ctx context.Context, id domain.UserID) (*domain.User, error) {
	rows, err := r.q.Query(ctx, queryGetUser, id)
	if err != nil {
		return nil, mapPgError(err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domain.User])
	if err != nil {
		return nil, mapPgError(err)
	}
	return u, nil
}

func (r *UserRepo) SetOnline(ctx context.Context, id domain.UserID, online bool, at time.Time) error {
	tag, err := r.q.Exec(ctx, querySetOnline, id, online, at)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
