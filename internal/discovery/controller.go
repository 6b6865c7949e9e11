// Package discovery turns keyword searches into new channel rows, with
// per-keyword resumable paging and discovery-time policy gates.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
	"github.com/harvestlab/ytharvest/internal/store"
	"github.com/harvestlab/ytharvest/internal/youtube"
)

// Searcher is the scraping collaborator for discovery.
type Searcher interface {
	SearchChannelsPage(ctx context.Context, keyword, token string, session *youtube.SearchSession) (youtube.SearchPage, error)
	DiscoverMetadata(ctx context.Context, channelID string) youtube.DiscoveryMetadata
}

// DefaultKeywords are searched when a discovery request names none.
var DefaultKeywords = []string{
	"crypto", "bitcoin", "ethereum", "defi",
	"altcoin", "memecoin", "onchain", "crypto trading",
}

// Loop caps guaranteeing one runUntilStopped call terminates.
const (
	maxPagesPerRun  = 30
	maxNewPerRun    = 150
	noNewPagesLimit = 3
)

// Options configures one discovery run.
type Options struct {
	Keywords         []string
	PerKeyword       int
	RunUntilStopped  bool
	DenyLanguages    []string
	MaxUploadAgeDays int
}

// Result summarizes one discovery run.
type Result struct {
	Found       int        `json:"found"`
	Known       int        `json:"known"`
	Blacklisted int        `json:"blacklisted"`
	UniqueTotal int        `json:"uniqueTotal"`
	Session     *LoopState `json:"session,omitempty"`
}

// Controller runs discovery synchronously on the calling request.
type Controller struct {
	store  *store.Store
	search Searcher
	state  *StateManager
}

func NewController(st *store.Store, search Searcher, state *StateManager) *Controller {
	return &Controller{store: st, search: search, state: state}
}

// State exposes the loop state manager for the stop and stats endpoints.
func (c *Controller) State() *StateManager { return c.state }

// Discover runs one discovery pass. With RunUntilStopped set it requires a
// single keyword and pages until a cap, exhaustion, or a stop request.
func (c *Controller) Discover(ctx context.Context, opts Options) (Result, error) {
	keywords := normalizeKeywords(opts.Keywords)
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if opts.PerKeyword <= 0 {
		return Result{}, errors.New("discovery: perKeyword must be positive")
	}

	var result Result
	if opts.RunUntilStopped {
		if len(keywords) != 1 {
			return Result{}, errors.New("discovery: runUntilStopped requires exactly one keyword")
		}
		if err := c.runLoop(ctx, keywords[0], opts, &result); err != nil {
			return Result{}, err
		}
		snap := c.state.Snapshot()
		result.Session = &snap
	} else {
		for _, keyword := range keywords {
			if err := c.runKeywordPage(ctx, keyword, opts, &result); err != nil {
				slog.Error("discovery: keyword failed",
					slog.String("keyword", keyword), slog.Any("error", err))
				continue
			}
		}
	}

	totals, err := c.store.Stats(ctx)
	if err != nil {
		return Result{}, err
	}
	result.UniqueTotal = totals.Active + totals.Archived + totals.Blacklisted
	return result, nil
}

// runKeywordPage fetches and processes one page for the keyword, resuming
// from its persisted cursor.
func (c *Controller) runKeywordPage(ctx context.Context, keyword string, opts Options, result *Result) error {
	cursor, err := c.store.Cursor(ctx, keyword)
	if err != nil {
		return err
	}
	page, err := c.fetchPage(ctx, keyword, &cursor)
	if err != nil {
		return err
	}
	inserted, err := c.processPage(ctx, page.Results, opts, result)
	if err != nil {
		return err
	}
	return c.saveCursor(ctx, &cursor, page, inserted)
}

// runLoop pages one keyword until a termination condition, persisting the
// cursor after every page so a later call resumes exactly where it stopped.
func (c *Controller) runLoop(ctx context.Context, keyword string, opts Options, result *Result) error {
	c.state.MarkStarted()
	pages, discovered := 0, 0
	reason, errMsg := "", ""
	defer func() {
		c.state.MarkCompleted(pages, discovered, reason, errMsg)
	}()

	cursor, err := c.store.Cursor(ctx, keyword)
	if err != nil {
		errMsg = err.Error()
		return err
	}

	for {
		if c.state.StopRequested() {
			reason = "stopped"
			break
		}
		if pages >= maxPagesPerRun {
			reason = "max_pages"
			break
		}
		if discovered >= maxNewPerRun {
			reason = "max_new_channels"
			break
		}

		page, err := c.fetchPage(ctx, keyword, &cursor)
		if err != nil {
			errMsg = err.Error()
			return err
		}
		pages++

		inserted, err := c.processPage(ctx, page.Results, opts, result)
		if err != nil {
			errMsg = err.Error()
			return err
		}
		discovered += inserted
		c.state.UpdateProgress(pages, discovered)

		if err := c.saveCursor(ctx, &cursor, page, inserted); err != nil {
			errMsg = err.Error()
			return err
		}
		if cursor.Exhausted {
			reason = "exhausted"
			break
		}
		if cursor.NoNewPages >= noNewPagesLimit {
			reason = "no_new_pages"
			break
		}
	}
	return nil
}

// fetchPage fetches the next page for the cursor, rebuilding the innertube
// session from its persisted JSON when resuming.
func (c *Controller) fetchPage(ctx context.Context, keyword string, cursor *store.DiscoveryCursor) (youtube.SearchPage, error) {
	var session *youtube.SearchSession
	if cursor.NextPageToken != "" && cursor.SessionJSON != "" {
		var s youtube.SearchSession
		if err := json.Unmarshal([]byte(cursor.SessionJSON), &s); err == nil {
			session = &s
		}
	}
	token := ""
	if session != nil {
		token = cursor.NextPageToken
	}
	page, err := c.search.SearchChannelsPage(ctx, keyword, token, session)
	if err != nil {
		return youtube.SearchPage{}, fmt.Errorf("discovery: search %q: %w", keyword, err)
	}
	return page, nil
}

func (c *Controller) saveCursor(ctx context.Context, cursor *store.DiscoveryCursor, page youtube.SearchPage, inserted int) error {
	now := lifecycle.FormatTime(time.Now())
	cursor.NextPageToken = page.NextPageToken
	cursor.PageIndex++
	cursor.LastRunAt = now
	cursor.UpdatedAt = now
	cursor.Exhausted = page.NextPageToken == ""
	if inserted == 0 {
		cursor.NoNewPages++
	} else {
		cursor.NoNewPages = 0
	}
	if page.Session != nil {
		if raw, err := json.Marshal(page.Session); err == nil {
			cursor.SessionJSON = string(raw)
		}
	}
	return c.store.SaveCursor(ctx, *cursor)
}

// processPage filters one page of results through the membership checks and
// policy gates, then batch-inserts the survivors. Returns how many landed.
// Only the first PerKeyword results of the page are considered; the rest of
// the listing stays behind the cursor for a later run.
func (c *Controller) processPage(ctx context.Context, results []youtube.SearchResult, opts Options, result *Result) (int, error) {
	if opts.PerKeyword > 0 && len(results) > opts.PerKeyword {
		results = results[:opts.PerKeyword]
	}
	now := lifecycle.FormatTime(time.Now())
	gated := len(opts.DenyLanguages) > 0 || opts.MaxUploadAgeDays > 0

	var batch []store.Channel
	for _, r := range results {
		id := store.NormalizeChannelID(r.ChannelID)
		if id == "" {
			continue
		}

		black, err := c.store.IsBlacklisted(ctx, id)
		if err != nil {
			return 0, err
		}
		if black {
			result.Blacklisted++
			if _, _, err := c.store.EnsureBlacklisted(ctx, id, now, store.BlacklistInfo{
				URL:         r.URL,
				Name:        r.Title,
				Subscribers: r.Subscribers,
			}); err != nil {
				return 0, err
			}
			continue
		}

		known, err := c.store.IsKnownChannel(ctx, id)
		if err != nil {
			return 0, err
		}
		if known {
			result.Known++
			continue
		}

		if gated {
			reason := c.gateViolation(ctx, id, opts)
			if reason != "" {
				result.Blacklisted++
				if _, _, err := c.store.EnsureBlacklisted(ctx, id, now, store.BlacklistInfo{
					URL:         r.URL,
					Name:        r.Title,
					Reason:      reason,
					Subscribers: r.Subscribers,
				}); err != nil {
					return 0, err
				}
				continue
			}
		}

		batch = append(batch, store.Channel{
			ChannelID:       id,
			Name:            r.Title,
			URL:             store.EnsureChannelURL(id, r.URL),
			Subscribers:     r.Subscribers,
			CreatedAt:       now,
			NeedsEnrichment: true,
			Status:          lifecycle.StatusNew,
		})
	}

	inserted, err := c.store.BulkInsert(ctx, batch, store.Active)
	if err != nil {
		return inserted, err
	}
	result.Found += inserted
	return inserted, nil
}

// gateViolation probes a candidate's lightweight metadata and returns a
// blacklist reason, or "" when the candidate passes every configured gate.
// An unreadable probe passes: gates only act on positive evidence.
func (c *Controller) gateViolation(ctx context.Context, channelID string, opts Options) string {
	meta := c.search.DiscoverMetadata(ctx, channelID)

	if len(opts.DenyLanguages) > 0 && meta.Language != "" {
		lang := strings.ToLower(meta.Language)
		for _, deny := range opts.DenyLanguages {
			if strings.ToLower(strings.TrimSpace(deny)) == lang {
				return "language denied: " + lang
			}
		}
	}
	if opts.MaxUploadAgeDays > 0 && meta.LastUpload != "" {
		if uploaded := lifecycle.ParseTime(meta.LastUpload); !uploaded.IsZero() {
			cutoff := time.Now().UTC().AddDate(0, 0, -opts.MaxUploadAgeDays)
			if uploaded.Before(cutoff) {
				return fmt.Sprintf("stale channel: last upload %s", uploaded.Format("2006-01-02"))
			}
		}
	}
	return ""
}

func normalizeKeywords(keywords []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, k)
	}
	return out
}
