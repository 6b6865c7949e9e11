package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
	sqlite3 "modernc.org/sqlite"
)

// IsKnown reports whether the ID exists in any collection or the blacklist
// ledger. Discovery uses it to suppress re-insertion.
func (s *Store) IsKnown(ctx context.Context, channelID string) (bool, error) {
	id := NormalizeChannelID(channelID)
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isKnownLocked(ctx, id, true)
}

// IsKnownChannel is IsKnown without the blacklist ledger and collection.
func (s *Store) IsKnownChannel(ctx context.Context, channelID string) (bool, error) {
	id := NormalizeChannelID(channelID)
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isKnownLocked(ctx, id, false)
}

func (s *Store) isKnownLocked(ctx context.Context, id string, includeBlacklisted bool) (bool, error) {
	for _, col := range Collections {
		if col == Blacklisted && !includeBlacklisted {
			continue
		}
		var one int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM "+col.table()+" WHERE channel_id = ?", id).Scan(&one)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("store: lookup %s: %w", col, err)
		}
	}
	if !includeBlacklisted {
		return false, nil
	}
	return s.inLedgerLocked(ctx, id)
}

// IsBlacklisted reports membership in the blacklisted collection or the
// ledger; mutators keep the two in sync.
func (s *Store) IsBlacklisted(ctx context.Context, channelID string) (bool, error) {
	id := NormalizeChannelID(channelID)
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isBlacklistedLocked(ctx, id)
}

func (s *Store) isBlacklistedLocked(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM "+Blacklisted.table()+" WHERE channel_id = ?", id).Scan(&one)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("store: blacklist lookup: %w", err)
	}
	return s.inLedgerLocked(ctx, id)
}

func (s *Store) inLedgerLocked(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM blacklist WHERE channel_id = ?", id).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("store: ledger lookup: %w", err)
}

// Insert adds a new channel to the collection. It returns false without error
// on a duplicate key, or when a non-blacklist insert targets an ID that is
// already blacklisted. The silent skip is intentional idempotency.
func (s *Store) Insert(ctx context.Context, ch Channel, col Collection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ctx, ch, col)
}

func (s *Store) insertLocked(ctx context.Context, ch Channel, col Collection) (bool, error) {
	ch.ChannelID = NormalizeChannelID(ch.ChannelID)
	if ch.ChannelID == "" {
		return false, errors.New("store: insert: missing channel id")
	}
	if col != Blacklisted {
		black, err := s.isBlacklistedLocked(ctx, ch.ChannelID)
		if err != nil {
			return false, err
		}
		if black {
			return false, nil
		}
	}
	ch.URL = EnsureChannelURL(ch.ChannelID, ch.URL)
	if ch.Status == "" {
		ch.Status = lifecycle.StatusNew
	}
	if ch.CreatedAt == "" {
		ch.CreatedAt = ch.LastUpdated
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+col.table()+" ("+channelColumns+") VALUES ("+channelPlaceholders+")",
		ch.values()...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: insert %s: %w", ch.ChannelID, err)
	}
	return true, nil
}

// BulkInsert inserts channels one by one and returns how many landed.
// Duplicates and blacklisted IDs are skipped, not errors.
func (s *Store) BulkInsert(ctx context.Context, channels []Channel, col Collection) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, ch := range channels {
		ok, err := s.insertLocked(ctx, ch, col)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// Get returns the channel row and the collection holding it.
func (s *Store) Get(ctx context.Context, channelID string) (Channel, Collection, bool, error) {
	id := NormalizeChannelID(channelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range Collections {
		row := s.db.QueryRowContext(ctx,
			"SELECT "+channelColumns+" FROM "+col.table()+" WHERE channel_id = ?", id)
		ch, err := scanChannel(row)
		if err == nil {
			return ch, col, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Channel{}, 0, false, fmt.Errorf("store: get %s: %w", id, err)
		}
	}
	return Channel{}, 0, false, nil
}

// moveSpec stamps applied to every row a move touches.
type moveSpec struct {
	status          lifecycle.Status
	reason          string
	timestamp       string
	needsEnrichment bool
}

// move relocates rows from one collection to another, atomically per row:
// fetch, restamp, upsert into the destination, delete from the source. IDs
// absent from the source are silently omitted from the result so concurrent
// modification degrades to partial success, never an error.
func (s *Store) move(ctx context.Context, ids []string, from, to Collection, spec moveSpec) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: move: begin: %w", err)
	}
	defer tx.Rollback()

	norm := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := NormalizeChannelID(id); n != "" {
			norm = append(norm, n)
		}
	}
	if len(norm) == 0 {
		return nil, nil
	}

	args := make([]any, len(norm))
	for i, id := range norm {
		args[i] = id
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT "+channelColumns+" FROM "+from.table()+
			" WHERE channel_id IN ("+placeholders(len(norm))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("store: move: fetch: %w", err)
	}
	var fetched []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: move: scan: %w", err)
		}
		fetched = append(fetched, ch)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, nil
	}

	moved := make([]string, 0, len(fetched))
	for _, ch := range fetched {
		ch.Status = spec.status
		ch.StatusReason = spec.reason
		ch.LastStatusChange = spec.timestamp
		ch.NeedsEnrichment = spec.needsEnrichment
		if to == Archived {
			ch.ArchivedAt = spec.timestamp
		} else {
			ch.ArchivedAt = ""
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO "+to.table()+" ("+channelColumns+") VALUES ("+channelPlaceholders+") "+channelUpsert,
			ch.values()...)
		if err != nil {
			return nil, fmt.Errorf("store: move: upsert %s: %w", ch.ChannelID, err)
		}
		moved = append(moved, ch.ChannelID)
	}

	delArgs := make([]any, len(moved))
	for i, id := range moved {
		delArgs[i] = id
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM "+from.table()+" WHERE channel_id IN ("+placeholders(len(moved))+")", delArgs...)
	if err != nil {
		return nil, fmt.Errorf("store: move: delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: move: commit: %w", err)
	}
	return moved, nil
}

// ArchiveChannels moves active channels into the archive.
func (s *Store) ArchiveChannels(ctx context.Context, ids []string, timestamp string) ([]string, error) {
	return s.move(ctx, ids, Active, Archived, moveSpec{
		status:    lifecycle.StatusArchived,
		reason:    "Archived",
		timestamp: timestamp,
	})
}

// RestoreChannels moves channels back into the active collection, trying the
// archive first, then the blacklist. Restored rows become enrichable again.
func (s *Store) RestoreChannels(ctx context.Context, ids []string, timestamp string) ([]string, error) {
	var restored []string
	remaining := ids
	for _, from := range []Collection{Archived, Blacklisted} {
		if len(remaining) == 0 {
			break
		}
		moved, err := s.move(ctx, remaining, from, Active, moveSpec{
			status:          lifecycle.StatusNew,
			reason:          "Restored",
			timestamp:       timestamp,
			needsEnrichment: true,
		})
		if err != nil {
			return restored, err
		}
		restored = append(restored, moved...)
		remaining = subtract(remaining, moved)
	}
	if len(restored) > 0 {
		if err := s.removeFromLedger(ctx, restored); err != nil {
			return restored, err
		}
	}
	return restored, nil
}

// BlacklistChannels moves channels into the blacklisted collection and
// records each one in the ledger.
func (s *Store) BlacklistChannels(ctx context.Context, ids []string, timestamp string) ([]string, error) {
	var blacklisted []string
	remaining := ids
	for _, from := range []Collection{Active, Archived} {
		if len(remaining) == 0 {
			break
		}
		moved, err := s.move(ctx, remaining, from, Blacklisted, moveSpec{
			status:    lifecycle.StatusBlacklisted,
			reason:    "Blacklisted",
			timestamp: timestamp,
		})
		if err != nil {
			return blacklisted, err
		}
		blacklisted = append(blacklisted, moved...)
		remaining = subtract(remaining, moved)
	}
	for _, id := range blacklisted {
		if _, _, err := s.EnsureBlacklisted(ctx, id, timestamp, BlacklistInfo{}); err != nil {
			return blacklisted, err
		}
	}
	return blacklisted, nil
}

func (s *Store) removeFromLedger(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM blacklist WHERE channel_id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return fmt.Errorf("store: ledger delete: %w", err)
	}
	return nil
}

// BlacklistInfo carries optional metadata recorded alongside a blacklisting.
type BlacklistInfo struct {
	URL         string
	Name        string
	Reason      string
	Subscribers *int64
	Language    string
	Emails      string
}

// EnsureBlacklisted guarantees both the ledger entry and the blacklisted
// collection row exist for the channel. Metadata only backfills fields the
// existing row left empty. Returns (created, updated) for the ledger entry.
func (s *Store) EnsureBlacklisted(ctx context.Context, channelID, timestamp string, info BlacklistInfo) (created, updated bool, err error) {
	id := NormalizeChannelID(channelID)
	if id == "" {
		return false, false, errors.New("store: blacklist: missing channel id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("store: blacklist: begin: %w", err)
	}
	defer tx.Rollback()

	var one int
	switch err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM blacklist WHERE channel_id = ?", id).Scan(&one); {
	case err == nil:
		updated = true
		if _, err := tx.ExecContext(ctx,
			"UPDATE blacklist SET updated_at = ? WHERE channel_id = ?", timestamp, id); err != nil {
			return false, false, fmt.Errorf("store: blacklist: refresh: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		created = true
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO blacklist (channel_id, created_at, updated_at) VALUES (?, ?, ?)",
			id, timestamp, timestamp); err != nil {
			return false, false, fmt.Errorf("store: blacklist: insert: %w", err)
		}
	default:
		return false, false, fmt.Errorf("store: blacklist: lookup: %w", err)
	}

	reason := strings.TrimSpace(info.Reason)
	if reason == "" {
		reason = "Blacklisted"
	}

	row := tx.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM "+Blacklisted.table()+" WHERE channel_id = ?", id)
	existing, scanErr := scanChannel(row)
	var payload Channel
	switch {
	case scanErr == nil:
		payload = existing
		if info.Name != "" {
			payload.Name = info.Name
		}
		payload.URL = EnsureChannelURL(id, info.URL)
		payload.NeedsEnrichment = false
		payload.Status = lifecycle.StatusBlacklisted
		payload.StatusReason = reason
		if payload.LastStatusChange == "" {
			payload.LastStatusChange = timestamp
		}
		if payload.Subscribers == nil && info.Subscribers != nil {
			payload.Subscribers = info.Subscribers
		}
		if payload.Language == "" && info.Language != "" {
			payload.Language = info.Language
		}
		if payload.Emails == "" && info.Emails != "" {
			payload.Emails = info.Emails
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		payload = Channel{
			ChannelID:        id,
			Name:             strings.TrimSpace(info.Name),
			URL:              EnsureChannelURL(id, info.URL),
			Subscribers:      info.Subscribers,
			Language:         info.Language,
			Emails:           info.Emails,
			CreatedAt:        timestamp,
			Status:           lifecycle.StatusBlacklisted,
			StatusReason:     reason,
			LastStatusChange: timestamp,
		}
	default:
		return false, false, fmt.Errorf("store: blacklist: fetch row: %w", scanErr)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+Blacklisted.table()+" ("+channelColumns+") VALUES ("+channelPlaceholders+") "+channelUpsert,
		payload.values()...); err != nil {
		return false, false, fmt.Errorf("store: blacklist: upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("store: blacklist: commit: %w", err)
	}
	return created, updated, nil
}

// EnrichmentUpdate is a partial channel update; nil fields are left alone.
type EnrichmentUpdate struct {
	Name               *string
	Subscribers        *int64
	Language           *string
	LanguageConfidence *float64
	Emails             *string
	EmailGatePresent   *bool
	LastUpdated        *string
	LastAttempted      *string
	LastEnrichedAt     *string
	LastEnrichedResult *string
	NeedsEnrichment    *bool
	LastError          *string
	Status             *lifecycle.Status
	StatusReason       *string
	LastStatusChange   *string
}

// UpdateEnrichment applies the partial update to whichever collection holds
// the channel, trying each in order until a row is touched.
func (s *Store) UpdateEnrichment(ctx context.Context, channelID string, upd EnrichmentUpdate) error {
	var sets []string
	var params []any
	add := func(column string, v any) {
		sets = append(sets, column+" = ?")
		params = append(params, v)
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Subscribers != nil {
		add("subscribers", *upd.Subscribers)
	}
	if upd.Language != nil {
		add("language", *upd.Language)
	}
	if upd.LanguageConfidence != nil {
		add("language_confidence", *upd.LanguageConfidence)
	}
	if upd.Emails != nil {
		add("emails", nullStr(*upd.Emails))
	}
	if upd.EmailGatePresent != nil {
		add("email_gate_present", boolInt(*upd.EmailGatePresent))
	}
	if upd.LastUpdated != nil {
		add("last_updated", *upd.LastUpdated)
	}
	if upd.LastAttempted != nil {
		add("last_attempted", *upd.LastAttempted)
	}
	if upd.LastEnrichedAt != nil {
		add("last_enriched_at", *upd.LastEnrichedAt)
	}
	if upd.LastEnrichedResult != nil {
		add("last_enriched_result", *upd.LastEnrichedResult)
	}
	if upd.NeedsEnrichment != nil {
		add("needs_enrichment", boolInt(*upd.NeedsEnrichment))
	}
	if upd.LastError != nil {
		add("last_error", nullStr(*upd.LastError))
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.StatusReason != nil {
		add("status_reason", nullStr(*upd.StatusReason))
	}
	if upd.LastStatusChange != nil {
		add("last_status_change", *upd.LastStatusChange)
	}
	if len(sets) == 0 {
		return nil
	}

	id := NormalizeChannelID(channelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range Collections {
		res, err := s.db.ExecContext(ctx,
			"UPDATE "+col.table()+" SET "+strings.Join(sets, ", ")+" WHERE channel_id = ?",
			append(append([]any{}, params...), id)...)
		if err != nil {
			return fmt.Errorf("store: update %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	return nil
}

// SetStatus stamps a status transition. An empty reason on a new/processing
// transition clears last_error; reasons are only written when present.
func (s *Store) SetStatus(ctx context.Context, channelID string, status lifecycle.Status, reason, timestamp string) error {
	upd := EnrichmentUpdate{
		Status:           &status,
		LastStatusChange: &timestamp,
	}
	if reason != "" {
		upd.StatusReason = &reason
		upd.LastError = &reason
	} else if status == lifecycle.StatusNew || status == lifecycle.StatusProcessing {
		empty := ""
		upd.LastError = &empty
	}
	return s.UpdateEnrichment(ctx, channelID, upd)
}

func subtract(ids, remove []string) []string {
	if len(remove) == 0 {
		return ids
	}
	drop := make(map[string]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	var out []string
	for _, id := range ids {
		if !drop[NormalizeChannelID(id)] && !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		// 1555 = SQLITE_CONSTRAINT_PRIMARYKEY, 2067 = SQLITE_CONSTRAINT_UNIQUE
		code := se.Code()
		return code == 1555 || code == 2067
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
