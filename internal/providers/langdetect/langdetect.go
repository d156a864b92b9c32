// Package langdetect guesses the language of transcribed text.
package langdetect

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"murmur/internal/domain"
)

// Detector maps whatlanggo's trigram detection onto domain.CommonLanguages.
type Detector struct {
	minConfidence float64
}

func New(minConfidence float64) *Detector {
	return &Detector{minConfidence: minConfidence}
}

// DetectLanguage reports false when the text is empty, the guess is below the
// confidence floor, or the language is not in the supported list.
func (d *Detector) DetectLanguage(text string) (domain.Language, bool) {
	if strings.TrimSpace(text) == "" {
		return domain.Language{}, false
	}
	info := whatlanggo.Detect(text)
	if info.Confidence < d.minConfidence {
		return domain.Language{}, false
	}
	return domain.LanguageByCode(info.Lang.Iso6391())
}
