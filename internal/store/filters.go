package store

import "strings"

// Filters is the validated query configuration for channel listings. Zero
// values mean "no constraint".
type Filters struct {
	QueryText       string   // free text over name/url/emails
	Languages       []string // language set membership
	Statuses        []string // status set membership
	MinSubscribers  *int64
	MaxSubscribers  *int64
	EmailsOnly      bool // require at least one email on file
	EmailGateOnly   bool // require the email-gate marker
	UniqueEmails    bool // drop channels sharing an email with another channel
	IncludeArchived bool // union the archived collection into an active query
}

// globalDuplicateChannels selects every channel ID that shares at least one
// email with a different channel.
const globalDuplicateChannels = `
	SELECT DISTINCT ce.channel_id
	FROM channel_emails ce
	JOIN (
		SELECT email
		FROM channel_emails
		GROUP BY email
		HAVING COUNT(DISTINCT channel_id) > 1
	) dup ON dup.email = ce.email`

// buildWhere renders the WHERE clause and its parameters. alias prefixes
// column references when the query joins other tables.
func (f Filters) buildWhere(alias string) (string, []any) {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	var clauses []string
	var params []any

	if f.QueryText != "" {
		clauses = append(clauses,
			"("+prefix+"name LIKE ? OR "+prefix+"url LIKE ? OR "+prefix+"emails LIKE ?)")
		term := "%" + f.QueryText + "%"
		params = append(params, term, term, term)
	}
	if len(f.Languages) > 0 {
		clauses = append(clauses, prefix+"language IN ("+placeholders(len(f.Languages))+")")
		for _, l := range f.Languages {
			params = append(params, l)
		}
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, prefix+"status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			params = append(params, st)
		}
	}
	if f.MinSubscribers != nil {
		clauses = append(clauses, "("+prefix+"subscribers IS NOT NULL AND "+prefix+"subscribers >= ?)")
		params = append(params, *f.MinSubscribers)
	}
	if f.MaxSubscribers != nil {
		clauses = append(clauses, "("+prefix+"subscribers IS NOT NULL AND "+prefix+"subscribers <= ?)")
		params = append(params, *f.MaxSubscribers)
	}
	if f.EmailsOnly {
		clauses = append(clauses, "("+prefix+"emails IS NOT NULL AND TRIM("+prefix+"emails) != '')")
	}
	if f.EmailGateOnly {
		clauses = append(clauses, prefix+"email_gate_present = 1")
	}
	if f.UniqueEmails && f.EmailsOnly {
		clauses = append(clauses, prefix+"channel_id NOT IN ("+globalDuplicateChannels+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), params
}

// sortColumn restricts sort keys to an allow-list; anything unrecognized
// falls back to created_at.
func sortColumn(sort string) string {
	switch sort {
	case "name", "subscribers", "language", "last_updated", "created_at",
		"status", "last_status_change", "exported_at", "archived_at":
		return sort
	}
	return "created_at"
}

// orderDirection restricts ordering to asc/desc, defaulting to desc.
func orderDirection(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
