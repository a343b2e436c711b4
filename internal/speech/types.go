// Package speech selects the best system voice per language and drives a
// single-flight playback session on top of a speech platform.
package speech

import (
	"errors"
	"strings"
)

type Language string

const (
	LanguageKorean   Language = "ko"
	LanguageEnglish  Language = "en"
	LanguageChinese  Language = "zh"
	LanguageJapanese Language = "ja"
)

var (
	ErrNoVoiceAvailable    = errors.New("no voice available")
	ErrSynthesisEngine     = errors.New("synthesis engine error")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrEmptyText           = errors.New("text is empty")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

var supportedLanguages = []Language{
	LanguageKorean,
	LanguageEnglish,
	LanguageChinese,
	LanguageJapanese,
}

// SupportedLanguages returns the languages in table order.
func SupportedLanguages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

func (l Language) Valid() bool {
	switch l {
	case LanguageKorean, LanguageEnglish, LanguageChinese, LanguageJapanese:
		return true
	default:
		return false
	}
}

// ParseLanguage accepts a bare code ("KO") or a full locale ("cmn-Hans-CN").
func ParseLanguage(raw string) (Language, error) {
	v := normalizeLocale(raw)
	if v == "" {
		return "", ErrUnsupportedLanguage
	}
	for _, lang := range supportedLanguages {
		if localeMatches(v, lang) {
			return lang, nil
		}
	}
	return "", ErrUnsupportedLanguage
}

// VoiceDescriptor is a voice as reported by the platform. The package never
// mutates one.
type VoiceDescriptor struct {
	Name      string `json:"name" yaml:"name"`
	ID        string `json:"id,omitempty" yaml:"id"`
	Locale    string `json:"locale" yaml:"locale"`
	IsLocal   bool   `json:"local" yaml:"local"`
	IsDefault bool   `json:"default" yaml:"default"`
}

type ScoredVoice struct {
	Voice             VoiceDescriptor `json:"voice"`
	QualityScore      int             `json:"quality_score"`
	IsPreferredEngine bool            `json:"preferred_engine"`
}

// PreferredVoiceTable maps each language to its best voice. Values are
// immutable once built by Rescan.
type PreferredVoiceTable struct {
	entries map[Language]ScoredVoice
}

func (t PreferredVoiceTable) Get(lang Language) (ScoredVoice, bool) {
	v, ok := t.entries[lang]
	return v, ok
}

func (t PreferredVoiceTable) Len() int { return len(t.entries) }

// Languages lists the languages present, in table order.
func (t PreferredVoiceTable) Languages() []Language {
	out := make([]Language, 0, len(t.entries))
	for _, lang := range supportedLanguages {
		if _, ok := t.entries[lang]; ok {
			out = append(out, lang)
		}
	}
	return out
}

func (t PreferredVoiceTable) Entries() map[Language]ScoredVoice {
	out := make(map[Language]ScoredVoice, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

func normalizeLocale(raw string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
}

// localeAliases lists extra primary subtags accepted for a language.
var localeAliases = map[Language][]string{
	LanguageChinese: {"cmn", "yue"},
}

// localeMatches expects an already normalized locale.
func localeMatches(locale string, lang Language) bool {
	if hasSubtag(locale, string(lang)) {
		return true
	}
	for _, alias := range localeAliases[lang] {
		if hasSubtag(locale, alias) {
			return true
		}
	}
	return false
}

func hasSubtag(locale, prefix string) bool {
	return locale == prefix || strings.HasPrefix(locale, prefix+"-")
}
