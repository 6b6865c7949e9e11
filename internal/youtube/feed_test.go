package youtube

import "testing"

func TestExtractMarkedJSON(t *testing.T) {
	page := []byte(`<script>var ytInitialPlayerResponse = {"videoDetails": {"shortDescription": "hi"}};</script>`)
	blob := extractMarkedJSON(page, "ytInitialPlayerResponse")
	if blob == nil {
		t.Fatal("marker not found")
	}
	want := `{"videoDetails": {"shortDescription": "hi"}}`
	if string(blob) != want {
		t.Errorf("extractMarkedJSON = %q, want %q", blob, want)
	}

	// The first occurrence may be a bare mention without a payload; the
	// scan keeps going until a real object follows the marker.
	page = []byte(`if (window.ytInitialData) {} ; ytInitialData = {"ok": true};`)
	blob = extractMarkedJSON(page, "ytInitialData")
	if string(blob) != `{"ok": true}` {
		t.Errorf("extractMarkedJSON = %q", blob)
	}

	if got := extractMarkedJSON([]byte("nothing here"), "ytInitialData"); got != nil {
		t.Errorf("extractMarkedJSON on miss = %q, want nil", got)
	}
}

func TestOwnerSubscribers(t *testing.T) {
	data := []byte(`{"contents": {"twoColumnWatchNextResults": {"results": [
		{"videoSecondaryInfoRenderer": {"owner": {"videoOwnerRenderer": {
			"subscriberCountText": {"simpleText": "2.4M subscribers"}
		}}}}
	]}}}`)
	got := ownerSubscribers(data)
	if got == nil || *got != 2400000 {
		t.Errorf("ownerSubscribers = %v, want 2400000", got)
	}

	if got := ownerSubscribers([]byte(`{"contents": []}`)); got != nil {
		t.Errorf("ownerSubscribers on empty blob = %v, want nil", *got)
	}
}
