package speech

import "strings"

// Rescan builds a table with the default keyword table.
func Rescan(voices []VoiceDescriptor) PreferredVoiceTable {
	return DefaultKeywordTable().Rescan(voices)
}

// Rescan picks, per language, the highest scoring candidate. Ties keep the
// voice the platform listed first.
func (kt KeywordTable) Rescan(voices []VoiceDescriptor) PreferredVoiceTable {
	kt = kt.normalized()
	entries := make(map[Language]ScoredVoice, len(supportedLanguages))
	for _, lang := range supportedLanguages {
		var (
			best  ScoredVoice
			found bool
		)
		for _, v := range voices {
			if !localeMatches(normalizeLocale(v.Locale), lang) {
				continue
			}
			sv := kt.score(v, lang)
			if !found || sv.QualityScore > best.QualityScore {
				best = sv
				found = true
			}
		}
		if found {
			entries[lang] = best
		}
	}
	return PreferredVoiceTable{entries: entries}
}

// Score rates a single voice for lang. Voices outside lang score zero.
func (kt KeywordTable) Score(v VoiceDescriptor, lang Language) ScoredVoice {
	kt = kt.normalized()
	if !localeMatches(normalizeLocale(v.Locale), lang) {
		return ScoredVoice{Voice: v}
	}
	return kt.score(v, lang)
}

func (kt KeywordTable) score(v VoiceDescriptor, lang Language) ScoredVoice {
	name := strings.ToLower(v.Name)
	id := strings.ToLower(v.ID)

	engine := containsAny(name, kt.EngineKeywords) || containsAny(id, kt.EngineKeywords)

	score := 0
	if engine {
		score += kt.EngineBonus
	}
	if localeMatches(normalizeLocale(v.Locale), lang) {
		score += kt.LocaleBonus
	}
	if v.IsLocal {
		score += kt.LocalBonus
	}
	if containsAny(name, kt.QualityKeywords) {
		score += kt.QualityBonus
	}
	if score > maxQualityScore {
		score = maxQualityScore
	}
	return ScoredVoice{
		Voice:             v,
		QualityScore:      score,
		IsPreferredEngine: engine,
	}
}
