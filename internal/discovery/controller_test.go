package discovery

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
	"github.com/harvestlab/ytharvest/internal/store"
	"github.com/harvestlab/ytharvest/internal/youtube"
)

const (
	chanA = "UCAAAAAAAAAAAAAAAAAAAA01"
	chanB = "UCBBBBBBBBBBBBBBBBBBBB02"
	chanC = "UCCCCCCCCCCCCCCCCCCCCC03"
	chanD = "UCDDDDDDDDDDDDDDDDDDDD04"
	chanE = "UCEEEEEEEEEEEEEEEEEEEE05"
	chanF = "UCFFFFFFFFFFFFFFFFFFFF06"
	chanG = "UCGGGGGGGGGGGGGGGGGGGG07"
)

type fetchRecord struct {
	keyword    string
	token      string
	hadSession bool
}

// fakeSearcher serves canned pages keyed by continuation token; the empty
// token is the initial results page.
type fakeSearcher struct {
	mu      sync.Mutex
	pages   map[string]youtube.SearchPage
	meta    map[string]youtube.DiscoveryMetadata
	fetches []fetchRecord
}

func (f *fakeSearcher) SearchChannelsPage(ctx context.Context, keyword, token string, session *youtube.SearchSession) (youtube.SearchPage, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, fetchRecord{keyword: keyword, token: token, hadSession: session != nil})
	f.mu.Unlock()
	page, ok := f.pages[token]
	if !ok {
		return youtube.SearchPage{}, nil
	}
	return page, nil
}

func (f *fakeSearcher) DiscoverMetadata(ctx context.Context, channelID string) youtube.DiscoveryMetadata {
	return f.meta[channelID]
}

func (f *fakeSearcher) fetchLog() []fetchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchRecord{}, f.fetches...)
}

func result(id, title string) youtube.SearchResult {
	return youtube.SearchResult{
		ChannelID: id,
		Title:     title,
		URL:       "https://www.youtube.com/channel/" + id,
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "channels.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func twoPageSearcher() *fakeSearcher {
	session := &youtube.SearchSession{
		APIKey:  "key-1",
		Context: map[string]any{"client": map[string]any{"clientName": "WEB"}},
	}
	return &fakeSearcher{
		pages: map[string]youtube.SearchPage{
			"": {
				Results:       []youtube.SearchResult{result(chanA, "Alpha"), result(chanB, "Beta")},
				NextPageToken: "PAGE-2",
				Session:       session,
			},
			"PAGE-2": {
				Results: []youtube.SearchResult{result(chanC, "Gamma")},
				Session: session,
			},
		},
		meta: map[string]youtube.DiscoveryMetadata{},
	}
}

func TestDiscoverSinglePagePerKeyword(t *testing.T) {
	st := newTestStore(t)
	search := twoPageSearcher()
	c := NewController(st, search, NewStateManager())

	res, err := c.Discover(context.Background(), Options{
		Keywords:   []string{"crypto"},
		PerKeyword: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Found)
	require.Zero(t, res.Known)
	require.Equal(t, 2, res.UniqueTotal)

	ch, col, ok, err := st.Get(context.Background(), chanA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Active, col)
	require.Equal(t, lifecycle.StatusNew, ch.Status)
	require.True(t, ch.NeedsEnrichment)
}

func TestDiscoverPerKeywordLimitTruncatesPage(t *testing.T) {
	st := newTestStore(t)
	search := &fakeSearcher{
		pages: map[string]youtube.SearchPage{
			"": {Results: []youtube.SearchResult{
				result(chanA, "Alpha"), result(chanB, "Beta"), result(chanC, "Gamma"),
				result(chanD, "Delta"), result(chanE, "Epsilon"), result(chanF, "Zeta"),
				result(chanG, "Eta"),
			}},
		},
		meta: map[string]youtube.DiscoveryMetadata{},
	}
	c := NewController(st, search, NewStateManager())

	res, err := c.Discover(context.Background(), Options{
		Keywords:   []string{"crypto"},
		PerKeyword: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Found)
	require.Equal(t, 3, res.UniqueTotal)

	for _, id := range []string{chanA, chanB, chanC} {
		_, col, ok, err := st.Get(context.Background(), id)
		require.NoError(t, err)
		require.True(t, ok, id)
		require.Equal(t, store.Active, col)
	}
	for _, id := range []string{chanD, chanE, chanF, chanG} {
		_, _, ok, err := st.Get(context.Background(), id)
		require.NoError(t, err)
		require.False(t, ok, "%s exceeds the per-keyword limit", id)
	}
}

func TestDiscoverResumesFromCursor(t *testing.T) {
	st := newTestStore(t)
	search := twoPageSearcher()
	c := NewController(st, search, NewStateManager())
	ctx := context.Background()
	opts := Options{Keywords: []string{"crypto"}, PerKeyword: 5}

	_, err := c.Discover(ctx, opts)
	require.NoError(t, err)

	cur, err := st.Cursor(ctx, "crypto")
	require.NoError(t, err)
	require.Equal(t, "PAGE-2", cur.NextPageToken)
	require.Equal(t, 1, cur.PageIndex)
	require.NotEmpty(t, cur.SessionJSON, "session persists for continuation after restart")
	require.False(t, cur.Exhausted)

	// A fresh controller over the same database continues where the first
	// one stopped.
	c2 := NewController(st, search, NewStateManager())
	res, err := c2.Discover(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)

	log := search.fetchLog()
	require.Len(t, log, 2)
	require.Equal(t, "", log[0].token)
	require.Equal(t, "PAGE-2", log[1].token)
	require.True(t, log[1].hadSession, "continuation carries the rebuilt session")

	cur, err = st.Cursor(ctx, "crypto")
	require.NoError(t, err)
	require.True(t, cur.Exhausted)
}

func TestDiscoverSkipsKnownAndBlacklisted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Insert(ctx, store.Channel{
		ChannelID: chanA,
		Name:      "Alpha",
		CreatedAt: "2025-06-01T00:00:00Z",
		Status:    lifecycle.StatusCompleted,
	}, store.Active)
	require.NoError(t, err)
	_, _, err = st.EnsureBlacklisted(ctx, chanB, "2025-06-01T00:00:00Z", store.BlacklistInfo{Reason: "spam"})
	require.NoError(t, err)

	search := twoPageSearcher()
	c := NewController(st, search, NewStateManager())

	res, err := c.Discover(ctx, Options{Keywords: []string{"crypto"}, PerKeyword: 5})
	require.NoError(t, err)
	require.Zero(t, res.Found)
	require.Equal(t, 1, res.Known)
	require.Equal(t, 1, res.Blacklisted)
}

func TestDiscoverLanguageGate(t *testing.T) {
	st := newTestStore(t)
	search := twoPageSearcher()
	search.meta[chanA] = youtube.DiscoveryMetadata{Language: "de"}
	search.meta[chanB] = youtube.DiscoveryMetadata{Language: "en"}
	c := NewController(st, search, NewStateManager())
	ctx := context.Background()

	res, err := c.Discover(ctx, Options{
		Keywords:      []string{"crypto"},
		PerKeyword:    5,
		DenyLanguages: []string{"DE"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	require.Equal(t, 1, res.Blacklisted)

	_, col, ok, err := st.Get(ctx, chanA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Blacklisted, col)

	_, col, ok, err = st.Get(ctx, chanB)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Active, col)
}

func TestDiscoverStaleUploadGate(t *testing.T) {
	st := newTestStore(t)
	search := twoPageSearcher()
	search.meta[chanA] = youtube.DiscoveryMetadata{LastUpload: "2020-01-01"}
	c := NewController(st, search, NewStateManager())

	res, err := c.Discover(context.Background(), Options{
		Keywords:         []string{"crypto"},
		PerKeyword:       5,
		MaxUploadAgeDays: 180,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Blacklisted)
	require.Equal(t, 1, res.Found, "channels without stale evidence pass")
}

func TestRunUntilStoppedExhaustsListing(t *testing.T) {
	st := newTestStore(t)
	search := twoPageSearcher()
	state := NewStateManager()
	c := NewController(st, search, state)

	res, err := c.Discover(context.Background(), Options{
		Keywords:        []string{"crypto"},
		PerKeyword:      5,
		RunUntilStopped: true,
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Found)
	require.NotNil(t, res.Session)
	require.Equal(t, "exhausted", res.Session.LastReason)
	require.False(t, res.Session.Running)
	require.Equal(t, 2, res.Session.Runs)
	require.Equal(t, 3, res.Session.Discovered)

	log := search.fetchLog()
	require.Len(t, log, 2, "the loop pages straight through without refetching")
}

func TestRunUntilStoppedRequiresSingleKeyword(t *testing.T) {
	st := newTestStore(t)
	c := NewController(st, twoPageSearcher(), NewStateManager())

	_, err := c.Discover(context.Background(), Options{
		Keywords:        []string{"crypto", "bitcoin"},
		PerKeyword:      5,
		RunUntilStopped: true,
	})
	require.Error(t, err)
}

func TestDiscoverRejectsZeroPerKeyword(t *testing.T) {
	st := newTestStore(t)
	c := NewController(st, twoPageSearcher(), NewStateManager())
	_, err := c.Discover(context.Background(), Options{Keywords: []string{"crypto"}})
	require.Error(t, err)
}

func TestNormalizeKeywords(t *testing.T) {
	got := normalizeKeywords([]string{" crypto ", "CRYPTO", "", "bitcoin"})
	require.Equal(t, []string{"crypto", "bitcoin"}, got)
}

func TestStateManagerLifecycle(t *testing.T) {
	m := NewStateManager()

	s := m.MarkStarted()
	require.True(t, s.Running)
	require.Equal(t, 1, s.Version)

	s = m.RequestStop()
	require.True(t, s.StopRequested)
	require.True(t, m.StopRequested())

	s = m.MarkCompleted(3, 12, "", "")
	require.False(t, s.Running)
	require.Equal(t, "stopped", s.LastReason)
	require.Equal(t, 3, s.Runs)
	require.Equal(t, 12, s.Discovered)

	// A stop request with nothing running is a no-op.
	s = m.RequestStop()
	require.False(t, s.StopRequested)
}
