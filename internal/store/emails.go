package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var emailShapeRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// NormalizeEmail lowercases and trims an address; the empty string means
// the input was not a plausible email.
func NormalizeEmail(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	if e == "" || !emailShapeRe.MatchString(e) {
		return ""
	}
	return e
}

// ParseEmailCandidates splits a stored comma/semicolon-joined email field
// into normalized, deduplicated addresses, preserving first occurrence order.
func ParseEmailCandidates(field string) []string {
	if strings.TrimSpace(field) == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, part := range strings.FieldsFunc(field, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		e := NormalizeEmail(part)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// RecordEmails registers addresses in the global index and links them to the
// channel. The first channel ever seen with an address keeps that credit
// permanently; only last_seen_at refreshes on later sightings.
func (s *Store) RecordEmails(ctx context.Context, channelID string, emails []string, timestamp string) error {
	id := NormalizeChannelID(channelID)
	if id == "" || len(emails) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: record emails: begin: %w", err)
	}
	defer tx.Rollback()

	for _, raw := range emails {
		e := NormalizeEmail(raw)
		if e == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO emails_unique (email, first_seen_channel_id, last_seen_at)
			VALUES (?, ?, ?)
			ON CONFLICT(email) DO UPDATE SET
				first_seen_channel_id = COALESCE(emails_unique.first_seen_channel_id, excluded.first_seen_channel_id),
				last_seen_at = excluded.last_seen_at`,
			e, id, timestamp); err != nil {
			return fmt.Errorf("store: record email %s: %w", e, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_emails (channel_id, email, last_seen_at)
			VALUES (?, ?, ?)
			ON CONFLICT(channel_id, email) DO UPDATE SET
				last_seen_at = excluded.last_seen_at`,
			id, e, timestamp); err != nil {
			return fmt.Errorf("store: link email %s: %w", e, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: record emails: commit: %w", err)
	}
	return nil
}

// ChannelEmailSet returns the set of addresses already linked to a channel.
func (s *Store) ChannelEmailSet(ctx context.Context, channelID string) (map[string]bool, error) {
	id := NormalizeChannelID(channelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT email FROM channel_emails WHERE channel_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("store: channel emails: %w", err)
	}
	defer rows.Close()
	set := map[string]bool{}
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		set[e] = true
	}
	return set, rows.Err()
}

// HasAllKnownEmails reports whether every address is already present in the
// global email index, meaning an email-only pass can skip network work for a
// channel whose candidate emails are all on file. An empty candidate set is
// not "all known".
func (s *Store) HasAllKnownEmails(ctx context.Context, emails []string) (bool, error) {
	normalized := map[string]bool{}
	for _, raw := range emails {
		if e := NormalizeEmail(raw); e != "" {
			normalized[e] = true
		}
	}
	if len(normalized) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(normalized))
	for e := range normalized {
		args = append(args, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emails_unique WHERE email IN ("+placeholders(len(args))+")",
		args...).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: known emails: %w", err)
	}
	return count == len(normalized), nil
}

// UniqueEmailRow is one entry of the global email index.
type UniqueEmailRow struct {
	Email              string `json:"email"`
	FirstSeenChannelID string `json:"first_seen_channel_id"`
	LastSeenAt         string `json:"last_seen_at"`
}

// UniqueEmails dumps the global email index in address order.
func (s *Store) UniqueEmails(ctx context.Context) ([]UniqueEmailRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT email, COALESCE(first_seen_channel_id, ''), last_seen_at FROM emails_unique ORDER BY email ASC")
	if err != nil {
		return nil, fmt.Errorf("store: unique emails: %w", err)
	}
	defer rows.Close()
	var out []UniqueEmailRow
	for rows.Next() {
		var r UniqueEmailRow
		if err := rows.Scan(&r.Email, &r.FirstSeenChannelID, &r.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
