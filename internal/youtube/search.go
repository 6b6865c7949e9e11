package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	searchResultsURL    = "https://www.youtube.com/results"
	searchContinuateURL = "https://www.youtube.com/youtubei/v1/search"
	channelSearchFilter = "EgIQAg%3D%3D" // channels-only filter param
)

var ytcfgSetRe = regexp.MustCompile(`(?s)ytcfg\.set\((\{.*?\})\);`)

// SearchChannelsPage fetches one page of channel search results. With an
// empty token it scrapes the results page and captures a fresh innertube
// session; with a token plus the session from the prior page it calls the
// continuation endpoint.
func (c *Client) SearchChannelsPage(ctx context.Context, keyword, token string, session *SearchSession) (SearchPage, error) {
	if token != "" && session != nil {
		return c.searchContinuation(ctx, session, token)
	}
	return c.searchInitial(ctx, keyword)
}

func (c *Client) searchInitial(ctx context.Context, keyword string) (SearchPage, error) {
	body, err := c.fetch(ctx, func() (*http.Request, error) {
		q := url.Values{}
		q.Set("search_query", keyword)
		u := searchResultsURL + "?" + q.Encode() + "&sp=" + channelSearchFilter
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return SearchPage{}, fmt.Errorf("search %q: %w", keyword, err)
	}

	data := extractInitialData(body)
	session := buildSearchSession(extractYtcfg(body))
	page := SearchPage{Session: session}
	if data == nil {
		return page, nil
	}
	page.Results = collectChannelResults(data)
	page.NextPageToken = extractNextToken(data)
	return page, nil
}

func (c *Client) searchContinuation(ctx context.Context, session *SearchSession, token string) (SearchPage, error) {
	if session.APIKey == "" || len(session.Context) == 0 {
		return SearchPage{Session: session}, nil
	}
	payload, err := json.Marshal(map[string]any{
		"context":      session.Context,
		"continuation": token,
	})
	if err != nil {
		return SearchPage{}, fmt.Errorf("search continuation: %w", err)
	}

	body, err := c.fetch(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost,
			searchContinuateURL+"?key="+url.QueryEscape(session.APIKey),
			bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return SearchPage{}, fmt.Errorf("search continuation: %w", err)
	}

	page := SearchPage{Session: session}
	page.Results = collectChannelResults(body)
	page.NextPageToken = extractNextToken(body)
	return page, nil
}

var initialDataMarkers = [][]byte{
	[]byte("var ytInitialData = "),
	[]byte("ytInitialData = "),
}

func extractInitialData(body []byte) []byte {
	for _, marker := range initialDataMarkers {
		if idx := bytes.Index(body, marker); idx >= 0 {
			if blob := extractJSON(body[idx+len(marker):]); blob != nil {
				return blob
			}
		}
	}
	return nil
}

// extractJSON extracts a complete JSON object starting at b[0] == '{' by
// tracking brace depth.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	var prev byte
	for i, c := range b {
		if inStr {
			if c == '"' && prev != '\\' {
				inStr = false
			}
		} else {
			switch c {
			case '"':
				inStr = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return b[:i+1]
				}
			}
		}
		prev = c
	}
	return nil
}

// extractYtcfg merges every ytcfg.set({...}) payload on the page.
func extractYtcfg(body []byte) map[string]json.RawMessage {
	config := map[string]json.RawMessage{}
	for _, m := range ytcfgSetRe.FindAllSubmatch(body, -1) {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(m[1], &payload); err != nil {
			continue
		}
		for k, v := range payload {
			config[k] = v
		}
	}
	return config
}

func buildSearchSession(config map[string]json.RawMessage) *SearchSession {
	session := &SearchSession{}
	if raw, ok := config["INNERTUBE_API_KEY"]; ok {
		_ = json.Unmarshal(raw, &session.APIKey)
	}
	if raw, ok := config["INNERTUBE_CONTEXT"]; ok {
		_ = json.Unmarshal(raw, &session.Context)
	}
	if len(session.Context) == 0 {
		clientVersion := "2.20240624.00.00"
		if raw, ok := config["INNERTUBE_CLIENT_VERSION"]; ok {
			_ = json.Unmarshal(raw, &clientVersion)
		}
		clientName := "WEB"
		if raw, ok := config["INNERTUBE_CLIENT_NAME"]; ok {
			var name string
			if json.Unmarshal(raw, &name) == nil && name != "" {
				clientName = name
			}
		}
		session.Context = map[string]any{
			"client": map[string]any{
				"clientName":    clientName,
				"clientVersion": clientVersion,
				"hl":            "en",
				"gl":            "US",
			},
		}
	}
	return session
}

type channelRenderer struct {
	ChannelID string `json:"channelId"`
	Title     struct {
		SimpleText string                   `json:"simpleText"`
		Runs       []struct{ Text string } `json:"runs"`
	} `json:"title"`
	NavigationEndpoint struct {
		BrowseEndpoint struct {
			CanonicalBaseURL string `json:"canonicalBaseUrl"`
		} `json:"browseEndpoint"`
	} `json:"navigationEndpoint"`
	SubscriberCountText struct {
		SimpleText string                   `json:"simpleText"`
		Runs       []struct{ Text string } `json:"runs"`
	} `json:"subscriberCountText"`
}

// collectChannelResults recursively walks a response blob for
// channelRenderer entries.
func collectChannelResults(data []byte) []SearchResult {
	var results []SearchResult
	var walk func(v json.RawMessage)
	walk = func(v json.RawMessage) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err == nil {
			if raw, ok := obj["channelRenderer"]; ok {
				if r := decodeChannelRenderer(raw); r != nil {
					results = append(results, *r)
				}
				return
			}
			for _, child := range obj {
				walk(child)
			}
			return
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(v, &arr); err == nil {
			for _, item := range arr {
				walk(item)
			}
		}
	}
	walk(data)
	return results
}

func decodeChannelRenderer(raw json.RawMessage) *SearchResult {
	var cr channelRenderer
	if err := json.Unmarshal(raw, &cr); err != nil || cr.ChannelID == "" {
		return nil
	}
	title := cr.Title.SimpleText
	if len(cr.Title.Runs) > 0 {
		title = cr.Title.Runs[0].Text
	}
	channelURL := "https://www.youtube.com/channel/" + cr.ChannelID
	if base := cr.NavigationEndpoint.BrowseEndpoint.CanonicalBaseURL; base != "" {
		channelURL = "https://www.youtube.com" + base
	}
	subText := cr.SubscriberCountText.SimpleText
	if subText == "" && len(cr.SubscriberCountText.Runs) > 0 {
		subText = cr.SubscriberCountText.Runs[0].Text
	}
	return &SearchResult{
		ChannelID:   cr.ChannelID,
		Title:       title,
		URL:         channelURL,
		Subscribers: ParseSubscriberCount(subText),
	}
}

// extractNextToken walks a response blob for the first continuation token.
func extractNextToken(data []byte) string {
	var token string
	var walk func(v json.RawMessage) bool
	walk = func(v json.RawMessage) bool {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err == nil {
			for _, key := range []string{"nextContinuationData", "continuationCommand"} {
				raw, ok := obj[key]
				if !ok {
					continue
				}
				var cont struct {
					Continuation string `json:"continuation"`
					Token        string `json:"token"`
				}
				if json.Unmarshal(raw, &cont) == nil {
					if cont.Continuation != "" {
						token = cont.Continuation
						return true
					}
					if cont.Token != "" {
						token = cont.Token
						return true
					}
				}
			}
			for _, child := range obj {
				if walk(child) {
					return true
				}
			}
			return false
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(v, &arr); err == nil {
			for _, item := range arr {
				if walk(item) {
					return true
				}
			}
		}
		return false
	}
	walk(data)
	return token
}

// ParseSubscriberCount parses YouTube's abbreviated subscriber strings
// ("1.2K subscribers", "3M"). Returns nil when the text is not a count.
func ParseSubscriberCount(text string) *int64 {
	text = strings.TrimSpace(strings.Replace(text, " subscribers", "", 1))
	if text == "" {
		return nil
	}
	multiplier := float64(1)
	switch {
	case strings.HasSuffix(text, "K"):
		multiplier = 1e3
		text = strings.TrimSuffix(text, "K")
	case strings.HasSuffix(text, "M"):
		multiplier = 1e6
		text = strings.TrimSuffix(text, "M")
	case strings.HasSuffix(text, "B"):
		multiplier = 1e9
		text = strings.TrimSuffix(text, "B")
	}
	text = strings.ReplaceAll(text, ",", "")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	n := int64(v * multiplier)
	return &n
}
