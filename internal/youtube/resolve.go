package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

var (
	channelIDRe     = regexp.MustCompile(`(?i)(UC[\w-]{22})`)
	channelIDFullRe = regexp.MustCompile(`(?i)^UC[\w-]{22}$`)
	hyperlinkRe     = regexp.MustCompile(`(?i)=HYPERLINK\(\s*["']([^"']+?)["']`)
	handleRe        = regexp.MustCompile(`^@[A-Za-z0-9._-]{3,}$`)
	schemeRe        = regexp.MustCompile(`(?i)^https?://`)

	channelIDHints = []*regexp.Regexp{
		regexp.MustCompile(`"CHANNEL_ID"\s*:\s*"(UC[\w-]{22})"`),
		regexp.MustCompile(`"channelId"\s*:\s*"(UC[\w-]{22})"`),
		regexp.MustCompile(`"browseId"\s*:\s*"(UC[\w-]{22})"`),
	}
	handleHints = []*regexp.Regexp{
		regexp.MustCompile(`"canonicalBaseUrl"\s*:\s*"\\?/?(@[^"\\]+)"`),
		regexp.MustCompile(`"channelHandle"\s*:\s*"(@[^"\\]+)"`),
	}
)

// Sanitize cleans a pasted channel reference: spreadsheet HYPERLINK formulas,
// zero-width characters, wrapping punctuation, trailing fragments and query
// strings.
func Sanitize(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	if m := hyperlinkRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '\ufeff', '\u200b', '\u200c', '\u200d', '\u200e', '\u200f':
			return -1
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.Trim(cleaned, `<>"'()`)
	if cleaned == "" {
		return ""
	}
	if i := strings.IndexAny(cleaned, "\r\n"); i >= 0 {
		cleaned = strings.TrimSpace(cleaned[:i])
	}
	if i := strings.IndexByte(cleaned, ' '); i > 0 {
		cleaned = cleaned[:i]
	}
	cleaned = strings.TrimRight(cleaned, ",;)")
	if i := strings.IndexByte(cleaned, '#'); i >= 0 {
		cleaned = cleaned[:i]
	}
	if i := strings.IndexByte(cleaned, '?'); i >= 0 {
		cleaned = cleaned[:i]
	}
	return strings.TrimRight(cleaned, "/")
}

// ExtractChannelID pulls a raw UC… channel ID out of a pasted value, or "".
func ExtractChannelID(value string) string {
	candidate := Sanitize(value)
	if candidate == "" {
		return ""
	}
	if m := channelIDRe.FindString(candidate); m != "" {
		return strings.ToUpper(m)
	}
	return ""
}

// NormalizeReference turns a sanitized reference into either a bare uppercase
// channel ID or a canonical absolute youtube.com URL. Returns "" for values
// that cannot possibly name a channel.
func NormalizeReference(value string) string {
	candidate := Sanitize(value)
	if candidate == "" {
		return ""
	}
	if channelIDFullRe.MatchString(candidate) {
		return strings.ToUpper(candidate)
	}
	return absoluteChannelURL(candidate)
}

func absoluteChannelURL(candidate string) string {
	if channelIDFullRe.MatchString(candidate) {
		return "https://www.youtube.com/channel/" + strings.ToUpper(candidate)
	}
	switch {
	case strings.HasPrefix(candidate, "@"):
		handle, _, _ := strings.Cut(candidate, "/")
		return "https://www.youtube.com/" + handle
	case strings.HasPrefix(candidate, "/"):
		candidate = "https://www.youtube.com" + candidate
	case strings.HasPrefix(strings.ToLower(candidate), "youtube.com"):
		candidate = "https://" + candidate
	}
	if !schemeRe.MatchString(candidate) {
		candidate = "https://www.youtube.com/" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	if !strings.Contains(strings.ToLower(parsed.Host), "youtube.com") {
		return ""
	}
	return "https://www.youtube.com" + normalizePath(parsed.Path)
}

func normalizePath(path string) string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "/"
	}
	first := segments[0]
	switch {
	case strings.EqualFold(first, "channel") && len(segments) > 1:
		return "/channel/" + strings.ToUpper(segments[1])
	case strings.HasPrefix(first, "@"):
		return "/" + first
	case (strings.EqualFold(first, "c") || strings.EqualFold(first, "user")) && len(segments) > 1:
		return "/" + first + "/" + segments[1]
	}
	return "/" + first
}

func normalizeHandle(value string) string {
	candidate := strings.TrimSpace(strings.ReplaceAll(value, `\/`, "/"))
	candidate, _, _ = strings.Cut(candidate, "/")
	if candidate == "" {
		return ""
	}
	if !strings.HasPrefix(candidate, "@") {
		candidate = "@" + strings.TrimLeft(candidate, "@")
	}
	if !handleRe.MatchString(candidate) {
		return ""
	}
	return candidate
}

// Resolve fetches the page behind a channel reference and extracts the
// canonical channel identity. References that cannot name a channel return
// ErrInvalidChannel; transport failures return the underlying error.
func (c *Client) Resolve(ctx context.Context, value string) (Resolution, error) {
	normalized := NormalizeReference(value)
	if normalized == "" {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidChannel, value)
	}
	isID := channelIDFullRe.MatchString(normalized)
	fetchURL := normalized
	if isID {
		fetchURL = "https://www.youtube.com/channel/" + normalized
	}

	body, err := c.fetch(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, fetchURL, nil)
	})
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return Resolution{}, fmt.Errorf("%w: %s", ErrInvalidChannel, fetchURL)
		}
		return Resolution{}, fmt.Errorf("resolve %s: %w", fetchURL, err)
	}

	page := string(body)
	doc := parsePage(page)

	channelID := doc.channelID
	if channelID == "" {
		for _, re := range channelIDHints {
			if m := re.FindStringSubmatch(page); m != nil {
				channelID = strings.ToUpper(m[1])
				break
			}
		}
	}
	if channelID == "" {
		if m := channelIDRe.FindString(page); m != "" {
			channelID = strings.ToUpper(m)
		}
	}
	if channelID == "" && isID {
		channelID = normalized
	}
	if channelID == "" {
		return Resolution{}, fmt.Errorf("%w: no channel id on page %s", ErrInvalidChannel, fetchURL)
	}

	handle := doc.handle
	if handle == "" {
		for _, re := range handleHints {
			if m := re.FindStringSubmatch(page); m != nil {
				if h := normalizeHandle(m[1]); h != "" {
					handle = h
					break
				}
			}
		}
	}

	return Resolution{
		ChannelID:    channelID,
		CanonicalURL: "https://www.youtube.com/channel/" + channelID,
		Handle:       handle,
		Title:        doc.title,
	}, nil
}

// pageIdentity is what the HTML head reveals about a channel page.
type pageIdentity struct {
	channelID string
	handle    string
	title     string
}

// parsePage walks the document tree for the canonical link, og:url/og:title
// meta tags, and the channelId itemprop.
func parsePage(page string) pageIdentity {
	var id pageIdentity
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return id
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			attrs := map[string]string{}
			for _, a := range n.Attr {
				attrs[a.Key] = a.Val
			}
			switch n.Data {
			case "link":
				if attrs["rel"] == "canonical" {
					id.noteURL(attrs["href"])
				}
			case "meta":
				switch {
				case attrs["property"] == "og:url":
					id.noteURL(attrs["content"])
				case attrs["property"] == "og:title" && id.title == "":
					id.title = strings.TrimSpace(attrs["content"])
				case attrs["itemprop"] == "channelId" && id.channelID == "":
					if channelIDFullRe.MatchString(attrs["content"]) {
						id.channelID = strings.ToUpper(attrs["content"])
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return id
}

func (p *pageIdentity) noteURL(href string) {
	const channelPrefix = "https://www.youtube.com/channel/"
	if p.channelID == "" && strings.HasPrefix(href, channelPrefix) {
		candidate := strings.TrimPrefix(href, channelPrefix)
		if channelIDFullRe.MatchString(candidate) {
			p.channelID = strings.ToUpper(candidate)
		}
	}
	if p.handle == "" {
		if u, err := url.Parse(href); err == nil {
			for _, seg := range strings.Split(u.Path, "/") {
				if strings.HasPrefix(seg, "@") {
					if h := normalizeHandle(seg); h != "" {
						p.handle = h
						break
					}
				}
			}
		}
	}
}
