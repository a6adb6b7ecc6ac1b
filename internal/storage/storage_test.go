package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	token, n, err := s.Put(ctx, "abc.png", strings.NewReader("pixels"))
	require.NoError(t, err)
	require.Equal(t, int64(6), n)
	require.Equal(t, "2026/03/09/abc.png", token)

	rc, err := s.Open(ctx, token)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "pixels", string(data))

	require.NoError(t, s.Delete(ctx, token))
	require.NoError(t, s.Delete(ctx, token))
	_, err = s.Open(ctx, token)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "../../etc/passwd")
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Open(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrValidation)

	// имя файла обрезается до base, каталоги из него не используются
	token, _, err := s.Put(context.Background(), "../../x.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(token, "/x.pdf"))
}

func TestLocalStore_CanceledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = s.Put(ctx, "a.gif", strings.NewReader("gif"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	require.Error(t, err)
}

func TestS3Store_ObjectKey(t *testing.T) {
	s := &S3Store{prefix: "uploads"}
	require.Equal(t, "uploads/a.png", s.objectKey("a.png"))
	s.prefix = ""
	require.Equal(t, "a.png", s.objectKey("a.png"))
}
