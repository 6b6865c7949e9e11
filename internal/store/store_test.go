package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "channels.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testChannel(id, name string) Channel {
	return Channel{
		ChannelID: id,
		Name:      name,
		URL:       "https://www.youtube.com/channel/" + id,
		CreatedAt: "2025-06-01T00:00:00Z",
		Status:    lifecycle.StatusNew,
	}
}

const (
	chanA = "UCAAAAAAAAAAAAAAAAAAAA01"
	chanB = "UCBBBBBBBBBBBBBBBBBBBB02"
	chanC = "UCCCCCCCCCCCCCCCCCCCCC03"
)

func collectionIDs(t *testing.T, st *Store, col Collection) []string {
	t.Helper()
	channels, err := st.CollectionChannels(context.Background(), col)
	require.NoError(t, err)
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ChannelID)
	}
	return ids
}

func TestInsertIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	inserted, err := st.Insert(ctx, testChannel(chanA, "Alpha"), Active)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = st.Insert(ctx, testChannel(chanA, "Alpha Again"), Active)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate insert must be a silent no-op")

	ch, col, ok, err := st.Get(ctx, chanA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Active, col)
	require.Equal(t, "Alpha", ch.Name, "first write wins")
}

func TestInsertSkipsBlacklisted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, _, err := st.EnsureBlacklisted(ctx, chanA, "2025-06-01T00:00:00Z", BlacklistInfo{Reason: "spam"})
	require.NoError(t, err)

	inserted, err := st.Insert(ctx, testChannel(chanA, "Alpha"), Active)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Empty(t, collectionIDs(t, st, Active))
}

func TestCollectionExclusivity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := "2025-06-02T00:00:00Z"

	for _, ch := range []Channel{testChannel(chanA, "Alpha"), testChannel(chanB, "Beta")} {
		_, err := st.Insert(ctx, ch, Active)
		require.NoError(t, err)
	}

	moved, err := st.ArchiveChannels(ctx, []string{chanA}, ts)
	require.NoError(t, err)
	require.Equal(t, []string{chanA}, moved)

	require.Equal(t, []string{chanB}, collectionIDs(t, st, Active))
	require.Equal(t, []string{chanA}, collectionIDs(t, st, Archived))

	moved, err = st.BlacklistChannels(ctx, []string{chanA, chanB}, ts)
	require.NoError(t, err)
	require.Len(t, moved, 2)
	require.Empty(t, collectionIDs(t, st, Active))
	require.Empty(t, collectionIDs(t, st, Archived))
	require.ElementsMatch(t, []string{chanA, chanB}, collectionIDs(t, st, Blacklisted))

	// A channel is never in two collections at once.
	for _, id := range []string{chanA, chanB} {
		_, col, ok, err := st.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, Blacklisted, col)
	}
}

func TestArchiveStampsArchivedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := "2025-06-02T00:00:00Z"

	_, err := st.Insert(ctx, testChannel(chanA, "Alpha"), Active)
	require.NoError(t, err)

	_, err = st.ArchiveChannels(ctx, []string{chanA}, ts)
	require.NoError(t, err)

	ch, _, ok, err := st.Get(ctx, chanA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ts, ch.ArchivedAt)
	require.Equal(t, lifecycle.StatusArchived, ch.Status)
}

func TestRestoreResetsLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := "2025-06-02T00:00:00Z"

	_, err := st.Insert(ctx, testChannel(chanA, "Alpha"), Active)
	require.NoError(t, err)
	_, err = st.BlacklistChannels(ctx, []string{chanA}, ts)
	require.NoError(t, err)

	black, err := st.IsBlacklisted(ctx, chanA)
	require.NoError(t, err)
	require.True(t, black)

	moved, err := st.RestoreChannels(ctx, []string{chanA}, "2025-06-03T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, []string{chanA}, moved)

	ch, col, ok, err := st.Get(ctx, chanA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Active, col)
	require.Equal(t, lifecycle.StatusNew, ch.Status)
	require.True(t, ch.NeedsEnrichment)
	require.Empty(t, ch.ArchivedAt)

	// The ledger entry goes with it, so the channel can be rediscovered.
	black, err = st.IsBlacklisted(ctx, chanA)
	require.NoError(t, err)
	require.False(t, black)
}

func TestEnsureBlacklistedBackfill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	subs := int64(1200)

	created, updated, err := st.EnsureBlacklisted(ctx, chanA, "2025-06-01T00:00:00Z", BlacklistInfo{
		Name:   "Alpha",
		Reason: "spam",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, updated)

	// Second call refreshes the ledger and only fills fields left empty.
	created, updated, err = st.EnsureBlacklisted(ctx, chanA, "2025-06-02T00:00:00Z", BlacklistInfo{
		Name:        "Renamed",
		Subscribers: &subs,
		Language:    "en",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, updated)

	ch, col, ok, err := st.Get(ctx, chanA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Blacklisted, col)
	require.Equal(t, "Renamed", ch.Name)
	require.NotNil(t, ch.Subscribers)
	require.Equal(t, subs, *ch.Subscribers)
	require.Equal(t, "en", ch.Language)
}

func TestSetStatusClearsError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, testChannel(chanA, "Alpha"), Active)
	require.NoError(t, err)

	require.NoError(t, st.SetStatus(ctx, chanA, lifecycle.StatusError, "feed timeout", "2025-06-02T00:00:00Z"))
	ch, _, _, err := st.Get(ctx, chanA)
	require.NoError(t, err)
	require.Equal(t, "feed timeout", ch.LastError)

	require.NoError(t, st.SetStatus(ctx, chanA, lifecycle.StatusNew, "", "2025-06-03T00:00:00Z"))
	ch, _, _, err = st.Get(ctx, chanA)
	require.NoError(t, err)
	require.Empty(t, ch.LastError)
	require.Equal(t, lifecycle.StatusNew, ch.Status)
}

func TestSortColumnAllowList(t *testing.T) {
	cases := map[string]string{
		"name":                     "name",
		"subscribers":              "subscribers",
		"created_at":               "created_at",
		"":                         "created_at",
		"channel_id; DROP TABLE x": "created_at",
		"nonsense":                 "created_at",
	}
	for in, want := range cases {
		if got := sortColumn(in); got != want {
			t.Errorf("sortColumn(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQueryFiltersAndPaging(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	subsA, subsB := int64(500), int64(50000)
	a := testChannel(chanA, "Alpha Crypto")
	a.Subscribers = &subsA
	a.Language = "en"
	a.Emails = "alpha@example.com"
	b := testChannel(chanB, "Beta Chain")
	b.Subscribers = &subsB
	b.Language = "de"
	c := testChannel(chanC, "Gamma")

	for _, ch := range []Channel{a, b, c} {
		_, err := st.Insert(ctx, ch, Active)
		require.NoError(t, err)
	}

	res, err := st.Query(ctx, Active, Filters{EmailsOnly: true}, "name", "asc", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, chanA, res.Channels[0].ChannelID)

	minSubs := int64(1000)
	res, err = st.Query(ctx, Active, Filters{MinSubscribers: &minSubs}, "subscribers", "desc", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, chanB, res.Channels[0].ChannelID)

	res, err = st.Query(ctx, Active, Filters{QueryText: "crypto"}, "name", "asc", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)

	// Total counts the full match set even when the page is smaller.
	res, err = st.Query(ctx, Active, Filters{}, "name", "asc", 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Len(t, res.Channels, 2)

	res, err = st.Query(ctx, Active, Filters{}, "name", "asc", 2, 2)
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
}

func TestQueryIncludeArchived(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, testChannel(chanA, "Alpha"), Active)
	require.NoError(t, err)
	_, err = st.Insert(ctx, testChannel(chanB, "Beta"), Active)
	require.NoError(t, err)
	_, err = st.ArchiveChannels(ctx, []string{chanB}, "2025-06-02T00:00:00Z")
	require.NoError(t, err)

	res, err := st.Query(ctx, Active, Filters{}, "name", "asc", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)

	res, err = st.Query(ctx, Active, Filters{IncludeArchived: true}, "name", "asc", 50, 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
}

func TestPendingChannelsSelection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := testChannel(chanA, "Alpha")
	b := testChannel(chanB, "Beta")
	b.Status = lifecycle.StatusCompleted
	c := testChannel(chanC, "Gamma")
	c.Status = lifecycle.StatusError

	for _, ch := range []Channel{a, b, c} {
		_, err := st.Insert(ctx, ch, Active)
		require.NoError(t, err)
	}

	pending, err := st.PendingChannels(ctx, -1, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, ch := range pending {
		ids = append(ids, ch.ChannelID)
	}
	require.ElementsMatch(t, []string{chanA, chanC}, ids, "completed channels stay out of the pending pool")
}

func TestMarkExportedAndArchiveBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, testChannel(chanA, "Alpha"), Active)
	require.NoError(t, err)
	_, err = st.Insert(ctx, testChannel(chanB, "Beta"), Active)
	require.NoError(t, err)

	ts := "2025-06-05T10:00:00Z"
	require.NoError(t, st.MarkExported(ctx, []string{chanA, chanB}, ts))

	// An unrelated timestamp archives nothing.
	moved, err := st.ArchiveByExportedAt(ctx, "2025-06-05T11:00:00Z")
	require.NoError(t, err)
	require.Empty(t, moved)

	moved, err = st.ArchiveByExportedAt(ctx, ts)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{chanA, chanB}, moved)
	require.Empty(t, collectionIDs(t, st, Active))
}

func TestNormalizeChannelID(t *testing.T) {
	if got := NormalizeChannelID("  ucuaxfkgsw1l7xacfnd5jjow "); got != "UCUAXFKGSW1L7XACFND5JJOW" {
		t.Errorf("NormalizeChannelID = %q", got)
	}
}
