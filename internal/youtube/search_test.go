package youtube

import (
	"encoding/json"
	"testing"
)

func TestParseSubscriberCount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		nil_ bool
	}{
		{"1.2K subscribers", 1200, false},
		{"3M subscribers", 3000000, false},
		{"1B", 1000000000, false},
		{"12,345 subscribers", 12345, false},
		{"842", 842, false},
		{"", 0, true},
		{"No videos", 0, true},
	}
	for _, tc := range cases {
		got := ParseSubscriberCount(tc.in)
		if tc.nil_ {
			if got != nil {
				t.Errorf("ParseSubscriberCount(%q) = %d, want nil", tc.in, *got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ParseSubscriberCount(%q) = nil, want %d", tc.in, tc.want)
			continue
		}
		if *got != tc.want {
			t.Errorf("ParseSubscriberCount(%q) = %d, want %d", tc.in, *got, tc.want)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	t.Run("balanced object with trailing script", func(t *testing.T) {
		in := []byte(`{"a": {"b": "}"}, "c": [1, 2]};var next = 1;`)
		got := extractJSON(in)
		want := `{"a": {"b": "}"}, "c": [1, 2]}`
		if string(got) != want {
			t.Errorf("extractJSON = %q, want %q", got, want)
		}
	})

	t.Run("escaped quote inside string", func(t *testing.T) {
		in := []byte(`{"a": "say \"}\" loud"}tail`)
		got := extractJSON(in)
		if got == nil || !json.Valid(got) {
			t.Fatalf("extractJSON = %q, want valid JSON", got)
		}
	})

	t.Run("not an object", func(t *testing.T) {
		if got := extractJSON([]byte(`[1, 2]`)); got != nil {
			t.Errorf("extractJSON on array = %q, want nil", got)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if got := extractJSON([]byte(`{"a": 1`)); got != nil {
			t.Errorf("extractJSON on truncated input = %q, want nil", got)
		}
	})
}

const sampleSearchBlob = `{
	"contents": {"sectionListRenderer": {"contents": [
		{"itemSectionRenderer": {"contents": [
			{"channelRenderer": {
				"channelId": "UCAAAAAAAAAAAAAAAAAAAA01",
				"title": {"simpleText": "Alpha Crypto"},
				"navigationEndpoint": {"browseEndpoint": {"canonicalBaseUrl": "/@alphacrypto"}},
				"subscriberCountText": {"simpleText": "1.5K subscribers"}
			}},
			{"videoRenderer": {"videoId": "xyz"}},
			{"channelRenderer": {
				"channelId": "UCBBBBBBBBBBBBBBBBBBBB02",
				"title": {"runs": [{"text": "Beta Chain"}]},
				"subscriberCountText": {"runs": [{"text": "3M subscribers"}]}
			}}
		]}},
		{"continuationItemRenderer": {"continuationEndpoint": {
			"continuationCommand": {"token": "CONT-TOKEN-1"}
		}}}
	]}}
}`

func TestCollectChannelResults(t *testing.T) {
	results := collectChannelResults([]byte(sampleSearchBlob))
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	first := results[0]
	if first.ChannelID != "UCAAAAAAAAAAAAAAAAAAAA01" {
		t.Errorf("first.ChannelID = %q", first.ChannelID)
	}
	if first.Title != "Alpha Crypto" {
		t.Errorf("first.Title = %q", first.Title)
	}
	if first.URL != "https://www.youtube.com/@alphacrypto" {
		t.Errorf("first.URL = %q", first.URL)
	}
	if first.Subscribers == nil || *first.Subscribers != 1500 {
		t.Errorf("first.Subscribers = %v, want 1500", first.Subscribers)
	}

	second := results[1]
	if second.Title != "Beta Chain" {
		t.Errorf("second.Title = %q (runs title)", second.Title)
	}
	if second.URL != "https://www.youtube.com/channel/UCBBBBBBBBBBBBBBBBBBBB02" {
		t.Errorf("second.URL = %q (fallback channel URL)", second.URL)
	}
	if second.Subscribers == nil || *second.Subscribers != 3000000 {
		t.Errorf("second.Subscribers = %v, want 3000000", second.Subscribers)
	}
}

func TestExtractNextToken(t *testing.T) {
	t.Run("continuationCommand token", func(t *testing.T) {
		if got := extractNextToken([]byte(sampleSearchBlob)); got != "CONT-TOKEN-1" {
			t.Errorf("extractNextToken = %q, want CONT-TOKEN-1", got)
		}
	})

	t.Run("legacy nextContinuationData", func(t *testing.T) {
		blob := []byte(`{"continuations": [{"nextContinuationData": {"continuation": "LEGACY-2"}}]}`)
		if got := extractNextToken(blob); got != "LEGACY-2" {
			t.Errorf("extractNextToken = %q, want LEGACY-2", got)
		}
	})

	t.Run("no token", func(t *testing.T) {
		if got := extractNextToken([]byte(`{"contents": []}`)); got != "" {
			t.Errorf("extractNextToken = %q, want empty", got)
		}
	})
}

func TestBuildSearchSession(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		body := []byte(`ytcfg.set({"INNERTUBE_API_KEY": "key-123", "INNERTUBE_CONTEXT": {"client": {"clientName": "WEB", "clientVersion": "2.2025"}}});`)
		session := buildSearchSession(extractYtcfg(body))
		if session.APIKey != "key-123" {
			t.Errorf("APIKey = %q", session.APIKey)
		}
		if len(session.Context) == 0 {
			t.Error("expected context from config")
		}
	})

	t.Run("fallback context", func(t *testing.T) {
		session := buildSearchSession(map[string]json.RawMessage{})
		client, ok := session.Context["client"].(map[string]any)
		if !ok {
			t.Fatalf("fallback context missing client: %v", session.Context)
		}
		if client["clientName"] != "WEB" {
			t.Errorf("clientName = %v, want WEB", client["clientName"])
		}
		if client["clientVersion"] == "" {
			t.Error("clientVersion empty")
		}
	})

	t.Run("merges multiple set calls", func(t *testing.T) {
		body := []byte(`ytcfg.set({"INNERTUBE_API_KEY": "k1"});ytcfg.set({"INNERTUBE_CLIENT_VERSION": "9.9"});`)
		session := buildSearchSession(extractYtcfg(body))
		if session.APIKey != "k1" {
			t.Errorf("APIKey = %q", session.APIKey)
		}
		client := session.Context["client"].(map[string]any)
		if client["clientVersion"] != "9.9" {
			t.Errorf("clientVersion = %v, want 9.9", client["clientVersion"])
		}
	})
}
