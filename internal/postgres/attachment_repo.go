package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type AttachmentRepo struct {
	q querier
}

var _ service.AttachmentStore = (*AttachmentRepo)(nil)

func NewAttachmentRepo(q querier) *AttachmentRepo {
	return &AttachmentRepo{q: q}
}

func (r *AttachmentRepo) Create(ctx context.Context, a *domain.Attachment) error {
	err := r.q.QueryRow(ctx, queryCreateAttachment, a.MessageID, a.FileName, a.ContentType, a.StorageToken, a.Size).
		Scan(&a.ID, &a.UploadedAt)
	return mapPgError(err)
}

func (r *AttachmentRepo) Get(ctx context.Context, id int64) (*domain.Attachment, error) {
	rows, err := r.q.Query(ctx, queryGetAttachment, id)
	if err != nil {
		return nil, mapPgError(err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domain.Attachment])
	if err != nil {
		return nil, mapPgError(err)
	}
	return a, nil
}

func (r *AttachmentRepo) ListByMessage(ctx context.Context, messageID int64) ([]domain.Attachment, error) {
	rows, err := r.q.Query(ctx, queryAttachmentsByMessage, messageID)
	if err != nil {
		return nil, mapPgError(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Attachment])
	if err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}
