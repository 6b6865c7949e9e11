// Package lifecycle defines the channel status state machine and the
// re-enrichment eligibility policy shared by the store and the scheduler.
package lifecycle

import (
	"time"
)

// Status is the lifecycle state of a channel.
type Status string

const (
	StatusNew             Status = "new"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
	StatusFeedUnavailable Status = "feed_unavailable"
	StatusInvalidChannel  Status = "invalid_channel"
	StatusRecentNoEmail   Status = "recent_no_email"
	StatusArchived        Status = "archived"
	StatusBlacklisted     Status = "blacklisted"
)

// Result categorizes the outcome of the most recent enrichment attempt.
type Result string

const (
	ResultEmailsFound     Result = "emails_found"
	ResultNoEmails        Result = "no_emails"
	ResultError           Result = "error"
	ResultInvalidChannel  Result = "invalid_channel"
	ResultFeedUnavailable Result = "feed_unavailable"
)

// NoEmailCooldown is the window after a "no emails" result during which a
// channel is excluded from automatic re-enrichment.
const NoEmailCooldown = 30 * 24 * time.Hour

// ValidStatus reports whether s is a known channel status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusNew, StatusProcessing, StatusCompleted, StatusError,
		StatusFeedUnavailable, StatusInvalidChannel, StatusRecentNoEmail,
		StatusArchived, StatusBlacklisted:
		return true
	}
	return false
}

// Selectable reports whether a channel in status s may be pulled into a full
// enrichment job. recent_no_email rows are pulled so their cooldown marker can
// be re-checked and cleared once it lapses.
func Selectable(s Status) bool {
	switch s {
	case StatusNew, StatusError, StatusRecentNoEmail:
		return true
	}
	return false
}

// Decision is the outcome of evaluating a channel against the re-enrichment
// policy at job-creation time.
type Decision int

const (
	// Run means the channel is eligible for enrichment.
	Run Decision = iota
	// SkipNeverReenrich means the caller disabled re-enrichment and the
	// channel has been enriched before.
	SkipNeverReenrich
	// SkipCooldown means the last run found no emails and the cooldown
	// window has not lapsed yet.
	SkipCooldown
)

// Candidate is the subset of channel state the eligibility policy inspects.
type Candidate struct {
	Status         Status
	LastEnrichedAt time.Time // zero = never enriched
	LastResult     Result
	HasEmails      bool
}

// Evaluate applies the re-enrichment policy to a single candidate.
// forceRun bypasses the policy entirely.
func Evaluate(c Candidate, now time.Time, forceRun, neverReenrich bool) Decision {
	if forceRun {
		return Run
	}
	enriched := !c.LastEnrichedAt.IsZero()
	if neverReenrich && enriched {
		return SkipNeverReenrich
	}
	if c.LastResult == ResultNoEmails && enriched && !c.HasEmails {
		if now.Sub(c.LastEnrichedAt) < NoEmailCooldown {
			return SkipCooldown
		}
	}
	return Run
}

// FormatTime renders a timestamp the way the store persists them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses a stored timestamp. Returns the zero time for empty or
// malformed values, matching the policy's "never enriched" semantics.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
