package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/pg"
	"github.com/cwrk-planet/chat-service/internal/service"
)

func TestMapPgError(t *testing.T) {
	require.NoError(t, mapPgError(nil))
	require.ErrorIs(t, mapPgError(pgx.ErrNoRows), domain.ErrNotFound)
	require.ErrorIs(t, mapPgError(&pgconn.PgError{Code: "23505", ConstraintName: "reactions_triple_key"}), domain.ErrConflict)
	require.ErrorIs(t, mapPgError(&pgconn.PgError{Code: "23503"}), domain.ErrNotFound)
	require.ErrorIs(t, mapPgError(errors.New("conn reset")), domain.ErrPersistence)
}

func TestLockName(t *testing.T) {
	require.Equal(t, "reaction:1:2:👍", lockName(domain.ReactionKey{MessageID: 1, UserID: 2, Emoji: "👍"}))
}

// Интеграционный прогон против живой базы: CHAT_TEST_DSN=postgres://... go test ./internal/postgres
func TestReactionToggle_Postgres(t *testing.T) {
	dsn := os.Getenv("CHAT_TEST_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, pg.Config{DSN: dsn})
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, Migrate(ctx, pool))

	var uid int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users (username) VALUES ('it-' || gen_random_uuid()) RETURNING id`).Scan(&uid))

	msgs := NewMessageRepo(pool)
	m := &domain.Message{SenderID: uid, Content: "hi"}
	require.NoError(t, msgs.Create(ctx, m))
	require.False(t, m.IsRead)

	reactions := NewReactionRepo(pool)
	key := domain.ReactionKey{MessageID: m.ID, UserID: uid, Emoji: "🔥"}
	toggle := func() error {
		return reactions.WithinTx(ctx, key, func(tx service.ReactionTx) error {
			cur, err := tx.FindByKey(ctx, key)
			if err == nil {
				return tx.Delete(ctx, cur.ID)
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return tx.Create(ctx, &domain.Reaction{MessageID: key.MessageID, UserID: key.UserID, Emoji: key.Emoji})
		})
	}

	const n = 9
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- toggle()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := reactions.ListByMessage(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, msgs.MarkRead(ctx, m.ID))
	got, err := msgs.Get(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.IsRead)
}
