// Package langdetect tags article text with an ISO 639-1 code.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample worth classifying.
const minLetters = 12

// Languages the monitored feeds publish in. Restricting the detector keeps model loading small
// and avoids exotic false positives on short headlines.
var Languages = []lingua.Language{
	lingua.English,
	lingua.Hebrew,
	lingua.French,
	lingua.German,
	lingua.Spanish,
	lingua.Russian,
	lingua.Ukrainian,
	lingua.Arabic,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Dutch,
	lingua.Polish,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the lower-case ISO 639-1 code of text, or "" when the sample is too short
// or no language is reliable enough.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// Tag is DetectISO6391 as a nullable column value.
func Tag(title, body string) *string {
	code := DetectISO6391(strings.TrimSpace(title + " " + body))
	if code == "" {
		return nil
	}
	return &code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(Languages...).
			WithMinimumRelativeDistance(0.05).
			Build()
	})
	return detector
}
