package youtube

import "testing"

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain url", "https://www.youtube.com/@handle", "https://www.youtube.com/@handle"},
		{"hyperlink formula", `=HYPERLINK("https://youtube.com/@foo", "Foo")`, "https://youtube.com/@foo"},
		{"zero width chars", "\uFEFFUCuAXFkgsw1L7xaCfnd5JJOw​", "UCuAXFkgsw1L7xaCfnd5JJOw"},
		{"wrapping quotes", `"https://youtube.com/@bar"`, "https://youtube.com/@bar"},
		{"trailing fragment", "https://youtube.com/@baz#about", "https://youtube.com/@baz"},
		{"query string", "https://youtube.com/@baz?sub_confirmation=1", "https://youtube.com/@baz"},
		{"first line only", "https://youtube.com/@one\nhttps://youtube.com/@two", "https://youtube.com/@one"},
		{"trailing slash", "https://youtube.com/@x/", "https://youtube.com/@x"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractChannelID(t *testing.T) {
	id := "UCuAXFkgsw1L7xaCfnd5JJOw"
	cases := []struct {
		in   string
		want string
	}{
		{id, id},
		{"https://www.youtube.com/channel/" + id, id},
		{"ucuaxfkgsw1l7xacfnd5jjow", "UCUAXFKGSW1L7XACFND5JJOW"},
		{"https://www.youtube.com/@handle", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractChannelID(tc.in); got != tc.want {
			t.Errorf("ExtractChannelID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeReference(t *testing.T) {
	id := "UCuAXFkgsw1L7xaCfnd5JJOw"
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare id uppercased", id, "UCUAXFKGSW1L7XACFND5JJOW"},
		{"channel url", "youtube.com/channel/" + id, "https://www.youtube.com/channel/UCUAXFKGSW1L7XACFND5JJOW"},
		{"bare handle", "@SomeHandle", "https://www.youtube.com/@SomeHandle"},
		{"handle with tab path", "https://www.youtube.com/@SomeHandle/videos", "https://www.youtube.com/@SomeHandle"},
		{"legacy user path", "https://youtube.com/user/oldname", "https://www.youtube.com/user/oldname"},
		{"custom c path", "https://youtube.com/c/BrandName", "https://www.youtube.com/c/BrandName"},
		{"foreign host", "https://vimeo.com/somebody", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeReference(tc.in); got != tc.want {
				t.Errorf("NormalizeReference(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeHandle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"@GoodHandle", "@GoodHandle"},
		{`\/@Escaped`, ""},
		{"@With/videos", "@With"},
		{"noprefix", "@noprefix"},
		{"@x", ""},
	}
	for _, tc := range cases {
		if got := normalizeHandle(tc.in); got != tc.want {
			t.Errorf("normalizeHandle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
