package store

import (
	"database/sql"
	"strings"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
)

// Channel is one row in a channel collection. Empty strings stand in for NULL
// text columns; the pointer fields keep their tri-state/nullable semantics.
type Channel struct {
	ChannelID          string            `json:"channel_id"`
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Subscribers        *int64            `json:"subscribers"`
	Language           string            `json:"language"`
	LanguageConfidence *float64          `json:"language_confidence"`
	Emails             string            `json:"emails"`
	EmailGatePresent   *bool             `json:"email_gate_present"`
	LastUpdated        string            `json:"last_updated"`
	CreatedAt          string            `json:"created_at"`
	LastAttempted      string            `json:"last_attempted"`
	LastEnrichedAt     string            `json:"last_enriched_at"`
	LastEnrichedResult string            `json:"last_enriched_result"`
	NeedsEnrichment    bool              `json:"needs_enrichment"`
	LastError          string            `json:"last_error"`
	Status             lifecycle.Status  `json:"status"`
	StatusReason       string            `json:"status_reason"`
	LastStatusChange   string            `json:"last_status_change"`
	ArchivedAt         string            `json:"archived_at"`
	ExportedAt         string            `json:"exported_at"`
}

// channelColumns is the canonical column order used by every SELECT *-style
// read and every insert-or-replace write.
const channelColumns = `channel_id, name, url, subscribers, language, language_confidence,
	emails, email_gate_present, last_updated, created_at, last_attempted,
	last_enriched_at, last_enriched_result, needs_enrichment, last_error,
	status, status_reason, last_status_change, archived_at, exported_at`

const channelPlaceholders = "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"

// channelUpsert is the conflict clause updating every column but the key.
const channelUpsert = `ON CONFLICT(channel_id) DO UPDATE SET
	name = excluded.name, url = excluded.url, subscribers = excluded.subscribers,
	language = excluded.language, language_confidence = excluded.language_confidence,
	emails = excluded.emails, email_gate_present = excluded.email_gate_present,
	last_updated = excluded.last_updated, created_at = excluded.created_at,
	last_attempted = excluded.last_attempted, last_enriched_at = excluded.last_enriched_at,
	last_enriched_result = excluded.last_enriched_result, needs_enrichment = excluded.needs_enrichment,
	last_error = excluded.last_error, status = excluded.status,
	status_reason = excluded.status_reason, last_status_change = excluded.last_status_change,
	archived_at = excluded.archived_at, exported_at = excluded.exported_at`

func (c *Channel) values() []any {
	return []any{
		c.ChannelID,
		nullStr(c.Name),
		c.URL,
		c.Subscribers,
		nullStr(c.Language),
		c.LanguageConfidence,
		nullStr(c.Emails),
		nullBool(c.EmailGatePresent),
		nullStr(c.LastUpdated),
		c.CreatedAt,
		nullStr(c.LastAttempted),
		nullStr(c.LastEnrichedAt),
		nullStr(c.LastEnrichedResult),
		boolInt(c.NeedsEnrichment),
		nullStr(c.LastError),
		string(c.Status),
		nullStr(c.StatusReason),
		nullStr(c.LastStatusChange),
		nullStr(c.ArchivedAt),
		nullStr(c.ExportedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (Channel, error) {
	var (
		c          Channel
		name       sql.NullString
		subs       sql.NullInt64
		lang       sql.NullString
		langConf   sql.NullFloat64
		emails     sql.NullString
		gate       sql.NullInt64
		lastUpd    sql.NullString
		lastAtt    sql.NullString
		lastEnr    sql.NullString
		lastRes    sql.NullString
		needs      int
		lastErr    sql.NullString
		status     string
		reason     sql.NullString
		lastChange sql.NullString
		archivedAt sql.NullString
		exportedAt sql.NullString
	)
	err := row.Scan(&c.ChannelID, &name, &c.URL, &subs, &lang, &langConf,
		&emails, &gate, &lastUpd, &c.CreatedAt, &lastAtt, &lastEnr, &lastRes,
		&needs, &lastErr, &status, &reason, &lastChange, &archivedAt, &exportedAt)
	if err != nil {
		return Channel{}, err
	}
	c.Name = name.String
	if subs.Valid {
		v := subs.Int64
		c.Subscribers = &v
	}
	c.Language = lang.String
	if langConf.Valid {
		v := langConf.Float64
		c.LanguageConfidence = &v
	}
	c.Emails = emails.String
	if gate.Valid {
		v := gate.Int64 != 0
		c.EmailGatePresent = &v
	}
	c.LastUpdated = lastUpd.String
	c.LastAttempted = lastAtt.String
	c.LastEnrichedAt = lastEnr.String
	c.LastEnrichedResult = lastRes.String
	c.NeedsEnrichment = needs != 0
	c.LastError = lastErr.String
	c.Status = lifecycle.Status(status)
	c.StatusReason = reason.String
	c.LastStatusChange = lastChange.String
	c.ArchivedAt = archivedAt.String
	c.ExportedAt = exportedAt.String
	return c, nil
}

// Equal compares every column of two channel records.
func (c Channel) Equal(o Channel) bool {
	return c.ChannelID == o.ChannelID &&
		c.Name == o.Name &&
		c.URL == o.URL &&
		eqInt64Ptr(c.Subscribers, o.Subscribers) &&
		c.Language == o.Language &&
		eqFloatPtr(c.LanguageConfidence, o.LanguageConfidence) &&
		c.Emails == o.Emails &&
		eqBoolPtr(c.EmailGatePresent, o.EmailGatePresent) &&
		c.LastUpdated == o.LastUpdated &&
		c.CreatedAt == o.CreatedAt &&
		c.LastAttempted == o.LastAttempted &&
		c.LastEnrichedAt == o.LastEnrichedAt &&
		c.LastEnrichedResult == o.LastEnrichedResult &&
		c.NeedsEnrichment == o.NeedsEnrichment &&
		c.LastError == o.LastError &&
		c.Status == o.Status &&
		c.StatusReason == o.StatusReason &&
		c.LastStatusChange == o.LastStatusChange &&
		c.ArchivedAt == o.ArchivedAt &&
		c.ExportedAt == o.ExportedAt
}

// statusOrNew coerces unrecognized status strings back to "new".
func statusOrNew(s string) lifecycle.Status {
	if lifecycle.ValidStatus(s) {
		return lifecycle.Status(s)
	}
	return lifecycle.StatusNew
}

// NormalizeChannelID trims and uppercases an external channel ID.
func NormalizeChannelID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// EnsureChannelURL returns url when set, otherwise the canonical channel URL
// derived from the ID.
func EnsureChannelURL(channelID, url string) string {
	if url != "" {
		return url
	}
	if channelID == "" {
		return ""
	}
	return "https://www.youtube.com/channel/" + channelID
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
