package store

import (
	"context"
	"fmt"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
)

// Listing is a channel row plus listing-only annotations.
type Listing struct {
	Channel
	DuplicateEmail bool `json:"duplicate_email"`
}

// QueryResult is one page of a filtered listing.
type QueryResult struct {
	Channels []Listing `json:"channels"`
	Total    int       `json:"total"`
}

// Query returns a filtered, sorted page from a collection. With
// IncludeArchived set on an Active query the archived collection is unioned
// in, so a combined view paginates and sorts as one list.
func (s *Store) Query(ctx context.Context, col Collection, f Filters, sort, order string, limit, offset int) (QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := col.table()
	if col == Active && f.IncludeArchived {
		source = "(SELECT " + channelColumns + " FROM " + Active.table() +
			" UNION ALL SELECT " + channelColumns + " FROM " + Archived.table() + ")"
	}

	where, params := f.buildWhere("c")

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+source+" c "+where, params...).Scan(&total)
	if err != nil {
		return QueryResult{}, fmt.Errorf("store: query count: %w", err)
	}

	column := sortColumn(sort)
	direction := orderDirection(order)
	query := "SELECT " + channelColumns + " FROM " + source + " c " + where +
		fmt.Sprintf(" ORDER BY c.%s IS NULL, c.%s %s, c.channel_id ASC", column, column, direction)
	args := append([]any{}, params...)
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("store: query page: %w", err)
	}
	defer rows.Close()

	result := QueryResult{Total: total, Channels: []Listing{}}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return QueryResult{}, fmt.Errorf("store: query scan: %w", err)
		}
		result.Channels = append(result.Channels, Listing{Channel: ch})
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, err
	}

	if err := s.annotateDuplicates(ctx, result.Channels); err != nil {
		return QueryResult{}, err
	}
	return result, nil
}

// annotateDuplicates flags the page's channels whose emails also appear on
// another channel anywhere in the database.
func (s *Store) annotateDuplicates(ctx context.Context, page []Listing) error {
	ids := make([]any, 0, len(page))
	for _, l := range page {
		if l.Emails != "" {
			ids = append(ids, l.ChannelID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT channel_id FROM ("+globalDuplicateChannels+
			") WHERE channel_id IN ("+placeholders(len(ids))+")", ids...)
	if err != nil {
		return fmt.Errorf("store: duplicates: %w", err)
	}
	defer rows.Close()
	dup := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		dup[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range page {
		if dup[page[i].ChannelID] {
			page[i].DuplicateEmail = true
		}
	}
	return nil
}

// PendingChannels returns active channels eligible for enrichment selection:
// new, error, or carrying a no-email cooldown marker. Never-attempted rows
// come first, then oldest attempts.
func (s *Store) PendingChannels(ctx context.Context, limit, offset int) ([]Channel, error) {
	return s.selectOrdered(ctx, `
		SELECT `+channelColumns+` FROM `+Active.table()+`
		WHERE status IN (?, ?, ?)
		ORDER BY last_attempted IS NULL DESC, last_attempted ASC, id ASC
		LIMIT ? OFFSET ?`,
		string(lifecycle.StatusNew), string(lifecycle.StatusError),
		string(lifecycle.StatusRecentNoEmail), limit, offset)
}

// EmailEnrichmentChannels returns active channels for the email-only pass,
// least-recently-refreshed first. Not status-gated: the pass may refresh any
// active channel's emails.
func (s *Store) EmailEnrichmentChannels(ctx context.Context, limit, offset int) ([]Channel, error) {
	return s.selectOrdered(ctx, `
		SELECT `+channelColumns+` FROM `+Active.table()+`
		ORDER BY last_updated IS NULL DESC, last_updated ASC, id ASC
		LIMIT ? OFFSET ?`,
		limit, offset)
}

func (s *Store) selectOrdered(ctx context.Context, query string, args ...any) ([]Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select: %w", err)
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("store: select scan: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// CollectionChannels streams every row of a collection in insertion order.
func (s *Store) CollectionChannels(ctx context.Context, col Collection) ([]Channel, error) {
	return s.selectOrdered(ctx,
		"SELECT "+channelColumns+" FROM "+col.table()+" ORDER BY id ASC")
}

const exportChunk = 200

// MarkExported stamps exported_at on the given channels. The same timestamp
// is written to every row, so a later ArchiveByExportedAt can target exactly
// this batch. Rows are looked up across collections like UpdateEnrichment.
func (s *Store) MarkExported(ctx context.Context, ids []string, timestamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for start := 0; start < len(ids); start += exportChunk {
		end := min(start+exportChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, timestamp)
		for _, id := range chunk {
			args = append(args, NormalizeChannelID(id))
		}
		for _, col := range Collections {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE "+col.table()+" SET exported_at = ? WHERE channel_id IN ("+placeholders(len(chunk))+")",
				args...); err != nil {
				return fmt.Errorf("store: mark exported: %w", err)
			}
		}
	}
	return nil
}

// ArchiveByExportedAt archives every active channel whose exported_at equals
// the batch timestamp exactly.
func (s *Store) ArchiveByExportedAt(ctx context.Context, timestamp string) ([]string, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT channel_id FROM "+Active.table()+" WHERE exported_at = ?", timestamp)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("store: archive by export: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.Unlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil, nil
	}
	return s.ArchiveChannels(ctx, ids, timestamp)
}

// StatusTotals counts active channels per status.
func (s *Store) StatusTotals(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM "+Active.table()+" GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("store: status totals: %w", err)
	}
	defer rows.Close()
	totals := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		totals[status] = n
	}
	return totals, rows.Err()
}

// Totals summarizes the whole database for the stats endpoint.
type Totals struct {
	Active       int            `json:"active"`
	Archived     int            `json:"archived"`
	Blacklisted  int            `json:"blacklisted"`
	WithEmails   int            `json:"with_emails"`
	UniqueEmails int            `json:"unique_emails"`
	ByStatus     map[string]int `json:"by_status"`
}

// Stats collects collection sizes, email coverage, and per-status counts.
func (s *Store) Stats(ctx context.Context) (Totals, error) {
	byStatus, err := s.StatusTotals(ctx)
	if err != nil {
		return Totals{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := Totals{ByStatus: byStatus}
	for col, dst := range map[Collection]*int{
		Active:      &t.Active,
		Archived:    &t.Archived,
		Blacklisted: &t.Blacklisted,
	} {
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+col.table()).Scan(dst); err != nil {
			return Totals{}, fmt.Errorf("store: stats %s: %w", col, err)
		}
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+Active.table()+
			" WHERE emails IS NOT NULL AND TRIM(emails) != ''").Scan(&t.WithEmails); err != nil {
		return Totals{}, fmt.Errorf("store: stats emails: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM emails_unique").Scan(&t.UniqueEmails); err != nil {
		return Totals{}, fmt.Errorf("store: stats unique: %w", err)
	}
	return t, nil
}
