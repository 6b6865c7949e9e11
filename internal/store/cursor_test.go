package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Unknown keywords start from a zero cursor.
	cur, err := st.Cursor(ctx, "crypto")
	require.NoError(t, err)
	require.Equal(t, "crypto", cur.Keyword)
	require.Zero(t, cur.PageIndex)
	require.Empty(t, cur.NextPageToken)

	cur.NextPageToken = "TOKEN-2"
	cur.PageIndex = 1
	cur.LastRunAt = "2025-06-01T00:00:00Z"
	cur.UpdatedAt = "2025-06-01T00:00:00Z"
	cur.NoNewPages = 2
	cur.SessionJSON = `{"apiKey":"k","context":{"client":{"clientName":"WEB"}}}`
	require.NoError(t, st.SaveCursor(ctx, cur))

	got, err := st.Cursor(ctx, "  Crypto ")
	require.NoError(t, err)
	require.Equal(t, "TOKEN-2", got.NextPageToken)
	require.Equal(t, 1, got.PageIndex)
	require.Equal(t, 2, got.NoNewPages)
	require.Equal(t, cur.SessionJSON, got.SessionJSON)
	require.False(t, got.Exhausted)

	got.Exhausted = true
	got.NextPageToken = ""
	require.NoError(t, st.SaveCursor(ctx, got))
	again, err := st.Cursor(ctx, "crypto")
	require.NoError(t, err)
	require.True(t, again.Exhausted)
}

func TestResetCursor(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cur, err := st.Cursor(ctx, "bitcoin")
	require.NoError(t, err)
	cur.NextPageToken = "TOKEN"
	cur.PageIndex = 5
	require.NoError(t, st.SaveCursor(ctx, cur))

	require.NoError(t, st.ResetCursor(ctx, "bitcoin"))
	fresh, err := st.Cursor(ctx, "bitcoin")
	require.NoError(t, err)
	require.Zero(t, fresh.PageIndex)
	require.Empty(t, fresh.NextPageToken)
}
