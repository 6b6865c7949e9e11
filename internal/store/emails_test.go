package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{" Business@Example.COM ", "business@example.com"},
		{"plain@example.org", "plain@example.org"},
		{"not-an-email", ""},
		{"", ""},
		{"a@b", ""},
	}
	for _, tc := range cases {
		if got := NormalizeEmail(tc.in); got != tc.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseEmailCandidates(t *testing.T) {
	got := ParseEmailCandidates("a@x.com, b@y.org; junk\nc@z.net")
	require.Equal(t, []string{"a@x.com", "b@y.org", "c@z.net"}, got)
	require.Empty(t, ParseEmailCandidates(""))
}

func TestRecordEmailsFirstSeenStability(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordEmails(ctx, chanA, []string{"shared@example.com"}, "2025-06-01T00:00:00Z"))
	require.NoError(t, st.RecordEmails(ctx, chanB, []string{"Shared@Example.com"}, "2025-06-02T00:00:00Z"))

	rows, err := st.UniqueEmails(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "shared@example.com", rows[0].Email)
	require.Equal(t, chanA, rows[0].FirstSeenChannelID, "first reporter owns the email forever")
	require.Equal(t, "2025-06-02T00:00:00Z", rows[0].LastSeenAt)

	setA, err := st.ChannelEmailSet(ctx, chanA)
	require.NoError(t, err)
	require.True(t, setA["shared@example.com"])
	setB, err := st.ChannelEmailSet(ctx, chanB)
	require.NoError(t, err)
	require.True(t, setB["shared@example.com"])
}

func TestHasAllKnownEmails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordEmails(ctx, chanA, []string{"one@x.com", "two@y.org"}, "2025-06-01T00:00:00Z"))

	known, err := st.HasAllKnownEmails(ctx, []string{"ONE@x.com", "two@y.org"})
	require.NoError(t, err)
	require.True(t, known)

	known, err = st.HasAllKnownEmails(ctx, []string{"one@x.com", "new@z.net"})
	require.NoError(t, err)
	require.False(t, known)

	// An empty candidate set is never a cache hit.
	known, err = st.HasAllKnownEmails(ctx, nil)
	require.NoError(t, err)
	require.False(t, known)
}

func TestQueryAnnotatesDuplicateEmails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := testChannel(chanA, "Alpha")
	a.Emails = "shared@example.com"
	b := testChannel(chanB, "Beta")
	b.Emails = "shared@example.com"
	c := testChannel(chanC, "Gamma")
	c.Emails = "solo@example.com"

	for _, ch := range []Channel{a, b, c} {
		_, err := st.Insert(ctx, ch, Active)
		require.NoError(t, err)
		require.NoError(t, st.RecordEmails(ctx, ch.ChannelID, ParseEmailCandidates(ch.Emails), ch.CreatedAt))
	}

	res, err := st.Query(ctx, Active, Filters{}, "name", "asc", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)

	dup := map[string]bool{}
	for _, item := range res.Channels {
		dup[item.ChannelID] = item.DuplicateEmail
	}
	require.True(t, dup[chanA])
	require.True(t, dup[chanB])
	require.False(t, dup[chanC])

	// The unique filter drops both sharers.
	res, err = st.Query(ctx, Active, Filters{EmailsOnly: true, UniqueEmails: true}, "name", "asc", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, chanC, res.Channels[0].ChannelID)
}
