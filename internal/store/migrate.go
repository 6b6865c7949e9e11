package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// migrateLegacy routes rows from the old single channels table into the three
// collections, then renames the table out of the way so the migration runs at
// most once. Earlier schema versions tracked membership with blacklisted and
// archived integer flags on each row.
func (s *Store) migrateLegacy() error {
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'channels'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: migrate: probe: %w", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM channels").Scan(&count); err != nil {
		return fmt.Errorf("store: migrate: count: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("ALTER TABLE channels RENAME TO channels_legacy"); err != nil {
			return fmt.Errorf("store: migrate: rename empty: %w", err)
		}
		return nil
	}

	cols, err := s.tableColumns("channels")
	if err != nil {
		return err
	}

	rows, err := s.db.Query("SELECT * FROM channels")
	if err != nil {
		return fmt.Errorf("store: migrate: read legacy: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	moved := map[Collection]int{}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("store: migrate: scan legacy: %w", err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = raw[i]
		}

		ch := legacyChannel(rec, now)
		if ch.ChannelID == "" {
			continue
		}
		col := Active
		switch {
		case legacyFlag(rec["blacklisted"]):
			col = Blacklisted
		case legacyFlag(rec["archived"]):
			col = Archived
		}
		if _, err := s.db.Exec(
			"INSERT INTO "+col.table()+" ("+channelColumns+") VALUES ("+channelPlaceholders+") "+channelUpsert,
			ch.values()...); err != nil {
			return fmt.Errorf("store: migrate: write %s: %w", ch.ChannelID, err)
		}
		moved[col]++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := s.db.Exec("ALTER TABLE channels RENAME TO channels_legacy"); err != nil {
		return fmt.Errorf("store: migrate: rename: %w", err)
	}
	slog.Info("store: migrated legacy channels table",
		slog.Int("active", moved[Active]),
		slog.Int("archived", moved[Archived]),
		slog.Int("blacklisted", moved[Blacklisted]))
	return nil
}

func (s *Store) tableColumns(table string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("store: table_info %s: %w", table, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			return nil, fmt.Errorf("store: scan table_info: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// legacyChannel assembles a Channel from a dynamically scanned legacy row,
// tolerating columns the old schema may or may not have had.
func legacyChannel(rec map[string]any, now string) Channel {
	ch := Channel{
		ChannelID:          NormalizeChannelID(legacyString(rec["channel_id"])),
		Name:               legacyString(rec["name"]),
		Language:           legacyString(rec["language"]),
		Emails:             legacyString(rec["emails"]),
		LastUpdated:        legacyString(rec["last_updated"]),
		CreatedAt:          legacyString(rec["created_at"]),
		LastAttempted:      legacyString(rec["last_attempted"]),
		LastEnrichedAt:     legacyString(rec["last_enriched_at"]),
		LastEnrichedResult: legacyString(rec["last_enriched_result"]),
		NeedsEnrichment:    legacyFlag(rec["needs_enrichment"]),
		LastError:          legacyString(rec["last_error"]),
		StatusReason:       legacyString(rec["status_reason"]),
		LastStatusChange:   legacyString(rec["last_status_change"]),
		ArchivedAt:         legacyString(rec["archived_at"]),
		ExportedAt:         legacyString(rec["exported_at"]),
	}
	ch.URL = EnsureChannelURL(ch.ChannelID, legacyString(rec["url"]))
	if v, ok := legacyInt(rec["subscribers"]); ok {
		ch.Subscribers = &v
	}
	if v, ok := legacyFloat(rec["language_confidence"]); ok {
		ch.LanguageConfidence = &v
	}
	if rec["email_gate_present"] != nil {
		v := legacyFlag(rec["email_gate_present"])
		ch.EmailGatePresent = &v
	}
	if ch.CreatedAt == "" {
		ch.CreatedAt = now
	}
	status := legacyString(rec["status"])
	switch {
	case legacyFlag(rec["blacklisted"]):
		status = "blacklisted"
	case legacyFlag(rec["archived"]):
		status = "archived"
	case status == "":
		status = "new"
	}
	ch.Status = statusOrNew(status)
	return ch
}

func legacyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return ""
}

func legacyFlag(v any) bool {
	switch t := v.(type) {
	case int64:
		return t != 0
	case bool:
		return t
	case string:
		return t == "1" || t == "true"
	}
	return false
}

func legacyInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}

func legacyFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	}
	return 0, false
}
