package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DiscoveryCursor is the saved paging position for one search keyword.
// Discovery resumes from NextPageToken instead of re-crawling page one.
type DiscoveryCursor struct {
	Keyword       string `json:"keyword"`
	NextPageToken string `json:"next_page_token"`
	PageIndex     int    `json:"page_index"`
	LastRunAt     string `json:"last_run_at"`
	Exhausted     bool   `json:"exhausted"`
	NoNewPages    int    `json:"no_new_pages"`
	SessionJSON   string `json:"session_json"`
	UpdatedAt     string `json:"updated_at"`
}

func normalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// Cursor loads the saved state for a keyword; a keyword never crawled yields
// a zero cursor positioned at page one.
func (s *Store) Cursor(ctx context.Context, keyword string) (DiscoveryCursor, error) {
	k := normalizeKeyword(keyword)
	c := DiscoveryCursor{Keyword: k}
	if k == "" {
		return c, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		token, lastRun, session, updated sql.NullString
		exhausted                        int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT next_page_token, page_index, last_run_at, exhausted, no_new_pages, session_json, updated_at
		FROM discovery_keyword_states WHERE keyword = ?`, k).
		Scan(&token, &c.PageIndex, &lastRun, &exhausted, &c.NoNewPages, &session, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("store: cursor %q: %w", k, err)
	}
	c.NextPageToken = token.String
	c.LastRunAt = lastRun.String
	c.Exhausted = exhausted != 0
	c.SessionJSON = session.String
	c.UpdatedAt = updated.String
	return c, nil
}

// SaveCursor persists a keyword's paging state, overwriting any prior state.
func (s *Store) SaveCursor(ctx context.Context, c DiscoveryCursor) error {
	k := normalizeKeyword(c.Keyword)
	if k == "" {
		return errors.New("store: cursor: empty keyword")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discovery_keyword_states
			(keyword, next_page_token, page_index, last_run_at, exhausted, no_new_pages, session_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword) DO UPDATE SET
			next_page_token = excluded.next_page_token,
			page_index = excluded.page_index,
			last_run_at = excluded.last_run_at,
			exhausted = excluded.exhausted,
			no_new_pages = excluded.no_new_pages,
			session_json = excluded.session_json,
			updated_at = excluded.updated_at`,
		k, nullStr(c.NextPageToken), c.PageIndex, nullStr(c.LastRunAt),
		boolInt(c.Exhausted), c.NoNewPages, nullStr(c.SessionJSON), nullStr(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: save cursor %q: %w", k, err)
	}
	return nil
}

// ResetCursor drops the saved state for a keyword so the next crawl starts
// from page one.
func (s *Store) ResetCursor(ctx context.Context, keyword string) error {
	k := normalizeKeyword(keyword)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM discovery_keyword_states WHERE keyword = ?", k)
	if err != nil {
		return fmt.Errorf("store: reset cursor %q: %w", k, err)
	}
	return nil
}
