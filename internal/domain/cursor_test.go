package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCursor(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ID: 42}
	s, err := EncodeCursor(c)
	require.NoError(t, err)

	got, err := DecodeCursor(s)
	require.NoError(t, err)
	require.True(t, got.CreatedAt.Equal(c.CreatedAt))
	require.Equal(t, int64(42), got.ID)

	got, err = DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = DecodeCursor("!!!")
	require.ErrorIs(t, err, ErrValidation)

	require.True(t, c.Before(c.CreatedAt, 41))
	require.False(t, c.Before(c.CreatedAt, 42))
	require.True(t, c.Before(c.CreatedAt.Add(-time.Second), 99))
}
