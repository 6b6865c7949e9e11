package youtube

import "testing"

func TestDetectLanguage(t *testing.T) {
	t.Run("english text", func(t *testing.T) {
		code, conf := DetectLanguage("Welcome to the channel where we talk about markets, trading strategies and the weekly news around the crypto industry.")
		if code != "en" {
			t.Errorf("code = %q, want en", code)
		}
		if conf == nil || *conf <= 0 {
			t.Errorf("confidence = %v, want positive", conf)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		code, conf := DetectLanguage("   ")
		if code != "" || conf != nil {
			t.Errorf("got (%q, %v), want empty", code, conf)
		}
	})
}
