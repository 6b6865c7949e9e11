package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const feedURLTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// channelFeed is the useful subset of the uploads Atom feed.
type channelFeed struct {
	Title       string
	Description string
	Latest      latestVideo
}

type latestVideo struct {
	VideoID     string
	Title       string
	Description string
	Timestamp   string
}

type atomFeed struct {
	Title    string      `xml:"title"`
	Subtitle string      `xml:"subtitle"`
	Entries  []atomEntry `xml:"entry"`
}

type atomEntry struct {
	VideoID   string     `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	Updated   string     `xml:"updated"`
	Published string     `xml:"published"`
	Group     mediaGroup `xml:"http://search.yahoo.com/mrss/ group"`
}

type mediaGroup struct {
	Title       string `xml:"http://search.yahoo.com/mrss/ title"`
	Description string `xml:"http://search.yahoo.com/mrss/ description"`
}

// fetchFeed loads a channel's uploads feed. A 404 means the channel has no
// public feed (terminated or never existed) and maps to ErrFeedUnavailable.
func (c *Client) fetchFeed(ctx context.Context, channelID string) (channelFeed, error) {
	body, err := c.fetch(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, fmt.Sprintf(feedURLTemplate, channelID), nil)
	})
	if err != nil {
		if httpStatus(err) == http.StatusNotFound {
			return channelFeed{}, fmt.Errorf("%w: %s", ErrFeedUnavailable, channelID)
		}
		return channelFeed{}, fmt.Errorf("fetch feed %s: %w", channelID, err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return channelFeed{}, fmt.Errorf("malformed channel feed %s: %w", channelID, err)
	}
	if len(feed.Entries) == 0 {
		return channelFeed{}, fmt.Errorf("%w: %s", ErrNoVideos, channelID)
	}
	entry := feed.Entries[0]
	if entry.VideoID == "" {
		return channelFeed{}, fmt.Errorf("feed %s: missing latest video id", channelID)
	}
	ts := entry.Updated
	if ts == "" {
		ts = entry.Published
	}
	return channelFeed{
		Title:       feed.Title,
		Description: feed.Subtitle,
		Latest: latestVideo{
			VideoID:     entry.VideoID,
			Title:       strings.TrimSpace(entry.Group.Title),
			Description: strings.TrimSpace(entry.Group.Description),
			Timestamp:   ts,
		},
	}, nil
}

// watchDetails is what the watch page reveals about a video and its owner.
type watchDetails struct {
	Description string
	Language    string
	UploadDate  string
	Subscribers *int64
}

type playerResponse struct {
	VideoDetails struct {
		ShortDescription string `json:"shortDescription"`
	} `json:"videoDetails"`
	Microformat struct {
		PlayerMicroformatRenderer struct {
			Language   string `json:"language"`
			UploadDate string `json:"uploadDate"`
		} `json:"playerMicroformatRenderer"`
	} `json:"microformat"`
}

// fetchWatchDetails scrapes a watch page's ytInitialPlayerResponse and
// ytInitialData blobs for the description, language hint, upload date, and
// the owning channel's subscriber count.
func (c *Client) fetchWatchDetails(ctx context.Context, videoID string) (watchDetails, error) {
	body, err := c.fetch(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet,
			"https://www.youtube.com/watch?v="+url.QueryEscape(videoID), nil)
	})
	if err != nil {
		switch httpStatus(err) {
		case http.StatusGone:
			return watchDetails{}, fmt.Errorf("video %s no longer available: %w", videoID, err)
		}
		return watchDetails{}, fmt.Errorf("fetch watch %s: %w", videoID, err)
	}

	playerBlob := extractMarkedJSON(body, "ytInitialPlayerResponse")
	if playerBlob == nil {
		return watchDetails{}, fmt.Errorf("watch %s: unable to parse video metadata", videoID)
	}
	var player playerResponse
	if err := json.Unmarshal(playerBlob, &player); err != nil {
		return watchDetails{}, fmt.Errorf("watch %s: decode player: %w", videoID, err)
	}

	details := watchDetails{
		Description: player.VideoDetails.ShortDescription,
		Language:    player.Microformat.PlayerMicroformatRenderer.Language,
		UploadDate:  player.Microformat.PlayerMicroformatRenderer.UploadDate,
	}
	if dataBlob := extractMarkedJSON(body, "ytInitialData"); dataBlob != nil {
		details.Subscribers = ownerSubscribers(dataBlob)
	}
	return details, nil
}

// extractMarkedJSON finds `marker = {...}` on the page and returns the blob.
func extractMarkedJSON(body []byte, marker string) []byte {
	search := body
	needle := []byte(marker)
	for {
		idx := bytes.Index(search, needle)
		if idx < 0 {
			return nil
		}
		rest := search[idx+len(needle):]
		i := 0
		for i < len(rest) && (rest[i] == ' ' || rest[i] == '=') {
			i++
		}
		if blob := extractJSON(rest[i:]); blob != nil {
			return blob
		}
		search = rest
	}
}

// ownerSubscribers digs the videoOwnerRenderer's subscriber text out of the
// watch page data blob.
func ownerSubscribers(data []byte) *int64 {
	var found *int64
	var walk func(v json.RawMessage) bool
	walk = func(v json.RawMessage) bool {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err == nil {
			if raw, ok := obj["videoOwnerRenderer"]; ok {
				var owner struct {
					SubscriberCountText struct {
						SimpleText string                   `json:"simpleText"`
						Runs       []struct{ Text string } `json:"runs"`
					} `json:"subscriberCountText"`
				}
				if json.Unmarshal(raw, &owner) == nil {
					text := owner.SubscriberCountText.SimpleText
					if text == "" && len(owner.SubscriberCountText.Runs) > 0 {
						text = owner.SubscriberCountText.Runs[0].Text
					}
					found = ParseSubscriberCount(text)
					return true
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
	return found
}
