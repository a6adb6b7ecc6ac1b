package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type MessageRepo struct {
	q querier
}

var _ service.MessageStore = (*MessageRepo)(nil)

func NewMessageRepo(q querier) *MessageRepo {
	return &MessageRepo{q: q}
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	err := r.q.QueryRow(ctx, queryCreateMessage, m.SenderID, m.Content).Scan(&m.ID, &m.CreatedAt, &m.IsRead)
	return mapPgError(err)
}

func (r *MessageRepo) Get(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.q.QueryRow(ctx, queryGetMessage, id))
	if err != nil {
		return nil, mapPgError(err)
	}
	return m, nil
}

func (r *MessageRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := r.q.QueryRow(ctx, queryExistsMessage, id).Scan(&ok); err != nil {
		return false, mapPgError(err)
	}
	return ok, nil
}

// History возвращает страницу истории (новые сверху) и курсор следующей страницы.
func (r *MessageRepo) History(ctx context.Context, after string, limit int) ([]domain.Message, string, error) {
	cur, err := domain.DecodeCursor(after)
	if err != nil {
		return nil, "", err
	}
	var createdAt, id any
	if cur != nil {
		createdAt, id = cur.CreatedAt, cur.ID
	}

	rows, err := r.q.Query(ctx, queryHistory, createdAt, id, limit)
	if err != nil {
		return nil, "", mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, "", mapPgError(err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapPgError(err)
	}

	var next string
	if len(out) == limit && limit > 0 {
		last := out[len(out)-1]
		if c, e := domain.EncodeCursor(domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, queryMarkRead, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.SenderID, &m.Content, &m.CreatedAt, &m.IsRead, &m.SenderName, &m.SenderAvatar)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
