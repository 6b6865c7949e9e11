package youtube

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// maxEmailsPerChannel caps how many addresses one scrape keeps.
const maxEmailsPerChannel = 5

// ExtractEmails scans texts for email addresses, deduplicated
// case-insensitively in first-seen order.
func ExtractEmails(texts ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, m := range emailRe.FindAllString(text, -1) {
			lower := strings.ToLower(m)
			if seen[lower] {
				continue
			}
			seen[lower] = true
			out = append(out, m)
		}
	}
	return out
}

// capEmails truncates a deduplicated email list to the per-channel limit.
func capEmails(emails []string) []string {
	if len(emails) > maxEmailsPerChannel {
		return emails[:maxEmailsPerChannel]
	}
	return emails
}
