package store

import (
	"context"
	"fmt"
)

// BundleSchemaVersion is the on-disk format of an exported bundle. Import
// refuses bundles written by a different schema.
const BundleSchemaVersion = 1

// BlacklistEntry is one ledger row carried through a bundle.
type BlacklistEntry struct {
	ChannelID string `json:"channel_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Bundle is a full portable snapshot of the database.
type Bundle struct {
	SchemaVersion int                  `json:"schema_version"`
	ExportedAt    string               `json:"exported_at"`
	Collections   map[string][]Channel `json:"collections"`
	Blacklist     []BlacklistEntry     `json:"blacklist"`
	UniqueEmails  []UniqueEmailRow     `json:"unique_emails"`
}

// ExportBundle snapshots every collection, the blacklist ledger, and the
// global email index.
func (s *Store) ExportBundle(ctx context.Context, timestamp string) (Bundle, error) {
	b := Bundle{
		SchemaVersion: BundleSchemaVersion,
		ExportedAt:    timestamp,
		Collections:   map[string][]Channel{},
	}
	for _, col := range Collections {
		channels, err := s.CollectionChannels(ctx, col)
		if err != nil {
			return Bundle{}, err
		}
		if channels == nil {
			channels = []Channel{}
		}
		b.Collections[col.String()] = channels
	}

	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT channel_id, created_at, updated_at FROM blacklist ORDER BY channel_id ASC")
	if err != nil {
		s.mu.Unlock()
		return Bundle{}, fmt.Errorf("store: export ledger: %w", err)
	}
	b.Blacklist = []BlacklistEntry{}
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.ChannelID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			rows.Close()
			s.mu.Unlock()
			return Bundle{}, err
		}
		b.Blacklist = append(b.Blacklist, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		s.mu.Unlock()
		return Bundle{}, err
	}
	s.mu.Unlock()

	emails, err := s.UniqueEmails(ctx)
	if err != nil {
		return Bundle{}, err
	}
	if emails == nil {
		emails = []UniqueEmailRow{}
	}
	b.UniqueEmails = emails
	return b, nil
}

// CollectionDiff summarizes how one collection would change under an import.
// Moved counts channels arriving from another collection; the departure is
// not double-counted as a removal there.
type CollectionDiff struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Moved     int `json:"moved"`
	Removed   int `json:"removed"`
}

// ImportSummary is the per-collection outcome of an import or dry run.
type ImportSummary struct {
	DryRun       bool                      `json:"dry_run"`
	Collections  map[string]CollectionDiff `json:"collections"`
	Blacklist    CollectionDiff            `json:"blacklist"`
	UniqueEmails int                       `json:"unique_emails"`
}

// ImportBundle restores the database to the bundle's state: bundle rows are
// upserted, local rows absent from the bundle are removed. With dryRun the
// same diff is computed but nothing is written. Emails on imported channels
// that have no index entry are registered using the bundle's export time.
func (s *Store) ImportBundle(ctx context.Context, b Bundle, dryRun bool) (ImportSummary, error) {
	if b.SchemaVersion != BundleSchemaVersion {
		return ImportSummary{}, fmt.Errorf(
			"store: import: unsupported bundle schema %d (want %d)",
			b.SchemaVersion, BundleSchemaVersion)
	}

	summary := ImportSummary{DryRun: dryRun, Collections: map[string]CollectionDiff{}}
	diffs := map[Collection]*CollectionDiff{}
	for _, col := range Collections {
		diffs[col] = &CollectionDiff{}
	}

	// Current membership across all three collections, so a channel that
	// changed collections between export and import classifies as one move
	// rather than an add plus a remove.
	type placement struct {
		col Collection
		ch  Channel
	}
	current := map[string]placement{}
	for _, col := range Collections {
		channels, err := s.CollectionChannels(ctx, col)
		if err != nil {
			return ImportSummary{}, err
		}
		for _, ch := range channels {
			current[ch.ChannelID] = placement{col: col, ch: ch}
		}
	}

	// The bundle's desired placement. A channel listed under more than one
	// collection keeps its last listing, so an import can never land one
	// channel in two collections.
	desired := map[string]placement{}
	for _, col := range Collections {
		for _, ch := range b.Collections[col.String()] {
			ch.ChannelID = NormalizeChannelID(ch.ChannelID)
			if ch.ChannelID == "" {
				continue
			}
			ch.URL = EnsureChannelURL(ch.ChannelID, ch.URL)
			ch.Status = statusOrNew(string(ch.Status))
			if ch.CreatedAt == "" {
				ch.CreatedAt = b.ExportedAt
			}
			desired[ch.ChannelID] = placement{col: col, ch: ch}
		}
	}

	writes := map[Collection][]Channel{}
	removals := map[Collection][]string{}
	for id, want := range desired {
		cur, ok := current[id]
		switch {
		case !ok:
			diffs[want.col].Added++
			writes[want.col] = append(writes[want.col], want.ch)
		case cur.col != want.col:
			diffs[want.col].Moved++
			writes[want.col] = append(writes[want.col], want.ch)
			removals[cur.col] = append(removals[cur.col], id)
		case cur.ch.Equal(want.ch):
			diffs[want.col].Unchanged++
		default:
			diffs[want.col].Updated++
			writes[want.col] = append(writes[want.col], want.ch)
		}
	}
	for id, cur := range current {
		if _, ok := desired[id]; !ok {
			diffs[cur.col].Removed++
			removals[cur.col] = append(removals[cur.col], id)
		}
	}
	for _, col := range Collections {
		summary.Collections[col.String()] = *diffs[col]
	}

	if !dryRun {
		// Removals apply before writes so a moved channel never sits in two
		// collections, even if the import dies between transactions.
		for _, col := range Collections {
			if err := s.applyCollection(ctx, col, nil, removals[col]); err != nil {
				return ImportSummary{}, err
			}
		}
		for _, col := range Collections {
			if err := s.applyCollection(ctx, col, writes[col], nil); err != nil {
				return ImportSummary{}, err
			}
		}
	}

	ledgerDiff, err := s.importLedger(ctx, b.Blacklist, dryRun)
	if err != nil {
		return ImportSummary{}, err
	}
	summary.Blacklist = ledgerDiff

	summary.UniqueEmails = len(b.UniqueEmails)
	if !dryRun {
		if err := s.importEmails(ctx, b); err != nil {
			return ImportSummary{}, err
		}
	}
	return summary, nil
}

func (s *Store) applyCollection(ctx context.Context, col Collection, writes []Channel, removals []string) error {
	if len(writes) == 0 && len(removals) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: import %s: begin: %w", col, err)
	}
	defer tx.Rollback()
	for _, ch := range writes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+col.table()+" ("+channelColumns+") VALUES ("+channelPlaceholders+") "+channelUpsert,
			ch.values()...); err != nil {
			return fmt.Errorf("store: import %s: write %s: %w", col, ch.ChannelID, err)
		}
	}
	for start := 0; start < len(removals); start += exportChunk {
		end := min(start+exportChunk, len(removals))
		chunk := removals[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+col.table()+" WHERE channel_id IN ("+placeholders(len(chunk))+")",
			args...); err != nil {
			return fmt.Errorf("store: import %s: remove: %w", col, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: import %s: commit: %w", col, err)
	}
	return nil
}

func (s *Store) importLedger(ctx context.Context, entries []BlacklistEntry, dryRun bool) (CollectionDiff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT channel_id, created_at, updated_at FROM blacklist")
	if err != nil {
		return CollectionDiff{}, fmt.Errorf("store: import ledger: read: %w", err)
	}
	local := map[string]BlacklistEntry{}
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.ChannelID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			rows.Close()
			return CollectionDiff{}, err
		}
		local[e.ChannelID] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return CollectionDiff{}, err
	}

	var diff CollectionDiff
	keep := map[string]bool{}
	var writes []BlacklistEntry
	for _, e := range entries {
		e.ChannelID = NormalizeChannelID(e.ChannelID)
		if e.ChannelID == "" {
			continue
		}
		keep[e.ChannelID] = true
		existing, ok := local[e.ChannelID]
		switch {
		case !ok:
			diff.Added++
			writes = append(writes, e)
		case existing == e:
			diff.Unchanged++
		default:
			diff.Updated++
			writes = append(writes, e)
		}
	}
	var removals []string
	for id := range local {
		if !keep[id] {
			diff.Removed++
			removals = append(removals, id)
		}
	}
	if dryRun {
		return diff, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CollectionDiff{}, fmt.Errorf("store: import ledger: begin: %w", err)
	}
	defer tx.Rollback()
	for _, e := range writes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blacklist (channel_id, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(channel_id) DO UPDATE SET
				created_at = excluded.created_at, updated_at = excluded.updated_at`,
			e.ChannelID, e.CreatedAt, e.UpdatedAt); err != nil {
			return CollectionDiff{}, fmt.Errorf("store: import ledger: write: %w", err)
		}
	}
	for _, id := range removals {
		if _, err := tx.ExecContext(ctx, "DELETE FROM blacklist WHERE channel_id = ?", id); err != nil {
			return CollectionDiff{}, fmt.Errorf("store: import ledger: remove: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return CollectionDiff{}, fmt.Errorf("store: import ledger: commit: %w", err)
	}
	return diff, nil
}

// importEmails restores the bundled email index, then registers any channel
// emails the bundle carried without an index entry.
func (s *Store) importEmails(ctx context.Context, b Bundle) error {
	s.mu.Lock()
	for _, r := range b.UniqueEmails {
		e := NormalizeEmail(r.Email)
		if e == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO emails_unique (email, first_seen_channel_id, last_seen_at)
			VALUES (?, ?, ?)
			ON CONFLICT(email) DO UPDATE SET
				first_seen_channel_id = COALESCE(emails_unique.first_seen_channel_id, excluded.first_seen_channel_id),
				last_seen_at = excluded.last_seen_at`,
			e, nullStr(NormalizeChannelID(r.FirstSeenChannelID)), r.LastSeenAt); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("store: import emails: %w", err)
		}
	}
	s.mu.Unlock()

	for _, col := range Collections {
		for _, ch := range b.Collections[col.String()] {
			candidates := ParseEmailCandidates(ch.Emails)
			if len(candidates) == 0 {
				continue
			}
			ts := ch.LastUpdated
			if ts == "" {
				ts = b.ExportedAt
			}
			if err := s.RecordEmails(ctx, ch.ChannelID, candidates, ts); err != nil {
				return err
			}
		}
	}
	return nil
}
