package config

import (
	"sync"

	"murmur/internal/domain"
)

// Preferences holds the user switches read at the start of each job. It is
// safe for concurrent use.
type Preferences struct {
	mu    sync.RWMutex
	value domain.Preferences
}

func NewPreferences(cfg PreferencesConfig) *Preferences {
	return &Preferences{value: domain.Preferences{
		AutoTranslate:  cfg.AutoTranslate,
		TargetLanguage: cfg.Language(),
		ClipboardOnly:  cfg.ClipboardOnly,
	}}
}

func (p *Preferences) Get() domain.Preferences {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set replaces the preferences. An unknown target language becomes English.
func (p *Preferences) Set(prefs domain.Preferences) domain.Preferences {
	if lang, ok := domain.LanguageByCode(prefs.TargetLanguage.Code); ok {
		prefs.TargetLanguage = lang
	} else {
		prefs.TargetLanguage = domain.English
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = prefs
	return prefs
}
