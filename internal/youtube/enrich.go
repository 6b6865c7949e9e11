package youtube

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Enrich performs the full per-channel scrape: uploads feed, latest video's
// watch page, language detection, email extraction from descriptions, and an
// about-page scan when the descriptions yield nothing.
func (c *Client) Enrich(ctx context.Context, channelID, channelURL string) (Enrichment, error) {
	if channelID == "" {
		return Enrichment{}, fmt.Errorf("%w: missing channel id", ErrInvalidChannel)
	}

	feed, err := c.fetchFeed(ctx, channelID)
	if err != nil {
		return Enrichment{}, err
	}
	watch, err := c.fetchWatchDetails(ctx, feed.Latest.VideoID)
	if err != nil {
		return Enrichment{}, err
	}

	description := watch.Description
	if description == "" {
		description = feed.Latest.Description
	}
	lang, conf := DetectLanguage(joinTexts(feed.Latest.Title, description, feed.Description))
	if lang == "" {
		lang = watch.Language
	}

	emails := capEmails(ExtractEmails(description, feed.Description))

	// Unknown until the about page has been checked.
	var gate *bool
	if len(emails) > 0 {
		f := false
		gate = &f
	} else {
		aboutEmails, aboutGate, err := c.aboutEmails(ctx, channelID, channelURL)
		if err != nil {
			return Enrichment{}, err
		}
		if len(aboutEmails) > 0 {
			emails = aboutEmails
			f := false
			gate = &f
		} else {
			gate = &aboutGate
		}
	}

	lastUpdated := watch.UploadDate
	if lastUpdated == "" {
		lastUpdated = feed.Latest.Timestamp
	}
	return Enrichment{
		Name:               feed.Title,
		Subscribers:        watch.Subscribers,
		Language:           lang,
		LanguageConfidence: conf,
		Emails:             emails,
		LastUpdated:        lastUpdated,
		EmailGatePresent:   gate,
	}, nil
}

// EnrichEmailOnly is the lightweight pass: about page first, then the latest
// video's texts, skipping the subscriber/language work.
func (c *Client) EnrichEmailOnly(ctx context.Context, channelID, channelURL string) (EmailScan, error) {
	if channelID == "" {
		return EmailScan{}, fmt.Errorf("%w: missing channel id", ErrInvalidChannel)
	}

	var emails []string
	aboutEmails, aboutGate, err := c.aboutEmails(ctx, channelID, channelURL)
	if err != nil {
		return EmailScan{}, err
	}
	gate := aboutGate
	emails = append(emails, aboutEmails...)

	var lastUpdated string
	if feed, err := c.fetchFeed(ctx, channelID); err == nil {
		description := feed.Latest.Description
		if watch, err := c.fetchWatchDetails(ctx, feed.Latest.VideoID); err == nil {
			if watch.Description != "" {
				description = watch.Description
			}
			lastUpdated = watch.UploadDate
		}
		if lastUpdated == "" {
			lastUpdated = feed.Latest.Timestamp
		}
		emails = append(emails, ExtractEmails(feed.Latest.Title, description, feed.Description)...)
	}

	emails = capEmails(dedupeEmails(emails))
	if len(emails) > 0 {
		gate = false
	}
	if lastUpdated == "" {
		lastUpdated = time.Now().UTC().Format(time.RFC3339)
	}
	return EmailScan{
		Emails:           emails,
		LastUpdated:      lastUpdated,
		EmailGatePresent: &gate,
	}, nil
}

// DiscoverMetadata is the cheap probe used by discovery-time gates. Probe
// failures yield empty metadata, never an error; an unreachable candidate is
// simply ungated.
func (c *Client) DiscoverMetadata(ctx context.Context, channelID string) DiscoveryMetadata {
	feed, err := c.fetchFeed(ctx, channelID)
	if err != nil {
		return DiscoveryMetadata{}
	}
	var meta DiscoveryMetadata
	meta.LastUpload = feed.Latest.Timestamp

	description := feed.Latest.Description
	watch, err := c.fetchWatchDetails(ctx, feed.Latest.VideoID)
	if err == nil {
		if watch.Description != "" {
			description = watch.Description
		}
		if watch.UploadDate != "" {
			meta.LastUpload = watch.UploadDate
		}
	}

	lang, conf := DetectLanguage(joinTexts(feed.Latest.Title, description, feed.Description))
	if lang == "" && err == nil {
		lang = watch.Language
	}
	meta.Language = lang
	meta.LanguageConfidence = conf
	return meta
}

// aboutEmails scans the channel's about page. A 404 means no about page, not
// an error. The gate flag reports YouTube's "view email address" reveal
// button when no address is directly scrapable.
func (c *Client) aboutEmails(ctx context.Context, channelID, channelURL string) ([]string, bool, error) {
	aboutURL := resolveAboutURL(channelID, channelURL)
	body, err := c.fetch(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, aboutURL, nil)
	})
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch about page %s: %w", aboutURL, err)
	}

	page := string(body)
	emails := capEmails(ExtractEmails(page))
	gate := false
	if len(emails) == 0 && strings.Contains(strings.ToLower(page), "view email address") {
		gate = true
	}
	return emails, gate, nil
}

func resolveAboutURL(channelID, channelURL string) string {
	if channelURL != "" {
		base, _, _ := strings.Cut(channelURL, "?")
		base = strings.TrimRight(base, "/")
		if strings.HasSuffix(base, "/about") {
			return base
		}
		return base + "/about"
	}
	return "https://www.youtube.com/channel/" + channelID + "/about"
}

func dedupeEmails(emails []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range emails {
		lower := strings.ToLower(e)
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, e)
	}
	return out
}

func joinTexts(texts ...string) string {
	var parts []string
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
