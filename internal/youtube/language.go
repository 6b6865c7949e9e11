package youtube

import (
	"strings"

	"github.com/RadhiFadlillah/whatlanggo"
)

// DetectLanguage guesses the dominant language of text, returning an ISO 639-1
// code and a confidence in [0,1]. Empty text or an undetermined result yields
// ("", nil).
func DetectLanguage(text string) (string, *float64) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return "", nil
	}
	info := whatlanggo.Detect(cleaned)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", nil
	}
	conf := info.Confidence
	return code, &conf
}
