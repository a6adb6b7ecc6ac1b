package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type ReactionRepo struct {
	db txBeginner
}

var _ service.ReactionStore = (*ReactionRepo)(nil)

func NewReactionRepo(db txBeginner) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// WithinTx открывает транзакцию и берёт advisory-lock на тройку, поэтому
// check-then-act сериализуется и между инстансами сервиса.
func (r *ReactionRepo) WithinTx(ctx context.Context, key domain.ReactionKey, fn func(tx service.ReactionTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, queryLockReactionKey, lockName(key)); err != nil {
		return mapPgError(err)
	}
	if err := fn(&reactionTx{q: tx}); err != nil {
		return err
	}
	return mapPgError(tx.Commit(ctx))
}

func (r *ReactionRepo) Get(ctx context.Context, id int64) (*domain.Reaction, error) {
	var re domain.Reaction
	err := r.db.QueryRow(ctx, queryGetReaction, id).
		Scan(&re.ID, &re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt, &re.Username)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &re, nil
}

func (r *ReactionRepo) ListByMessage(ctx context.Context, messageID int64) ([]domain.Reaction, error) {
	rows, err := r.db.Query(ctx, queryReactionsByMessage, messageID)
	if err != nil {
		return nil, mapPgError(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Reaction, error) {
		var re domain.Reaction
		err := row.Scan(&re.ID, &re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt, &re.Username)
		return re, err
	})
	if err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

func lockName(key domain.ReactionKey) string {
	return fmt.Sprintf("reaction:%d:%d:%s", key.MessageID, key.UserID, key.Emoji)
}

type reactionTx struct {
	q querier
}

func (t *reactionTx) FindByKey(ctx context.Context, key domain.ReactionKey) (*domain.Reaction, error) {
	var re domain.Reaction
	err := t.q.QueryRow(ctx, queryFindReaction, key.MessageID, key.UserID, key.Emoji).
		Scan(&re.ID, &re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &re, nil
}

func (t *reactionTx) Create(ctx context.Context, re *domain.Reaction) error {
	err := t.q.QueryRow(ctx, queryCreateReaction, re.MessageID, re.UserID, re.Emoji).Scan(&re.ID, &re.CreatedAt)
	return mapPgError(err)
}

func (t *reactionTx) Delete(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, queryDeleteReaction, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
