package domain

import "strings"

// Language is an ISO 639-1 code with its native display name.
type Language struct {
	Code        string `json:"code" msgpack:"code"`
	DisplayName string `json:"displayName" msgpack:"display_name"`
}

var (
	English    = Language{Code: "en", DisplayName: "English"}
	Bulgarian  = Language{Code: "bg", DisplayName: "Български"}
	Czech      = Language{Code: "cs", DisplayName: "Česky"}
	Danish     = Language{Code: "da", DisplayName: "Dansk"}
	German     = Language{Code: "de", DisplayName: "Deutsch"}
	Greek      = Language{Code: "el", DisplayName: "Ελληνικά"}
	Estonian   = Language{Code: "et", DisplayName: "Eesti"}
	Spanish    = Language{Code: "es", DisplayName: "Español"}
	French     = Language{Code: "fr", DisplayName: "Français"}
	Croatian   = Language{Code: "hr", DisplayName: "Hrvatski"}
	Italian    = Language{Code: "it", DisplayName: "Italiano"}
	Lithuanian = Language{Code: "lt", DisplayName: "Lietuvių"}
	Latvian    = Language{Code: "lv", DisplayName: "Latviešu"}
	Hungarian  = Language{Code: "hu", DisplayName: "Magyar"}
	Dutch      = Language{Code: "nl", DisplayName: "Nederlands"}
	Polish     = Language{Code: "pl", DisplayName: "Polski"}
	Portuguese = Language{Code: "pt", DisplayName: "Português"}
	Romanian   = Language{Code: "ro", DisplayName: "Română"}
	Russian    = Language{Code: "ru", DisplayName: "Русский"}
	Slovak     = Language{Code: "sk", DisplayName: "Slovensky"}
	Serbian    = Language{Code: "sr", DisplayName: "Srpski"}
	Swedish    = Language{Code: "sv", DisplayName: "Svenska"}
	Finnish    = Language{Code: "fi", DisplayName: "Suomi"}
	Ukrainian  = Language{Code: "uk", DisplayName: "Українська"}
	Chinese    = Language{Code: "zh", DisplayName: "中文"}
)

// CommonLanguages lists the languages the pipeline can detect and target.
var CommonLanguages = []Language{
	English, Bulgarian, Czech, Danish, German, Greek, Estonian, Spanish,
	French, Croatian, Italian, Lithuanian, Latvian, Hungarian, Dutch, Polish,
	Portuguese, Romanian, Russian, Slovak, Serbian, Swedish, Finnish, Ukrainian,
	Chinese,
}

// LanguageByCode resolves a code such as "de" or "zh-Hans" against CommonLanguages.
func LanguageByCode(code string) (Language, bool) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if strings.HasPrefix(normalized, "zh") {
		normalized = "zh"
	}
	if i := strings.IndexAny(normalized, "-_"); i > 0 {
		normalized = normalized[:i]
	}
	for _, lang := range CommonLanguages {
		if lang.Code == normalized {
			return lang, true
		}
	}
	return Language{}, false
}
