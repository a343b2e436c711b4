package speech

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxQualityScore = 100

// KeywordTable is the versioned heuristic used to rank voices.
type KeywordTable struct {
	Version         string   `yaml:"version"`
	EngineBonus     int      `yaml:"engine_bonus"`
	LocaleBonus     int      `yaml:"locale_bonus"`
	LocalBonus      int      `yaml:"local_bonus"`
	QualityBonus    int      `yaml:"quality_bonus"`
	EngineKeywords  []string `yaml:"engine_keywords"`
	QualityKeywords []string `yaml:"quality_keywords"`
}

// DefaultKeywordTable returns the built-in table. "yuna" is listed as a
// premium engine voice, so a local Yuna beats a remote Google Korean voice.
func DefaultKeywordTable() KeywordTable {
	return KeywordTable{
		Version:      "2024.1",
		EngineBonus:  50,
		LocaleBonus:  30,
		LocalBonus:   20,
		QualityBonus: 10,
		EngineKeywords: []string{
			"google", "microsoft", "apple", "samsung", "siri", "natural", "online",
			"yuna", "sora", "samantha", "alex", "daniel", "karen", "moira",
			"tingting", "meijia", "sinji", "kyoko", "otoya", "o-ren",
		},
		QualityKeywords: []string{
			"enhanced", "premium", "neural", "standard", "wavenet", "high quality",
		},
	}
}

// LoadKeywordTable reads a YAML keyword table. Missing bonuses fall back to
// the default weights.
func LoadKeywordTable(path string) (KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeywordTable{}, fmt.Errorf("read keyword table %q: %w", path, err)
	}
	def := DefaultKeywordTable()
	kt := KeywordTable{
		EngineBonus:  def.EngineBonus,
		LocaleBonus:  def.LocaleBonus,
		LocalBonus:   def.LocalBonus,
		QualityBonus: def.QualityBonus,
	}
	if err := yaml.Unmarshal(data, &kt); err != nil {
		return KeywordTable{}, fmt.Errorf("parse keyword table %q: %w", path, err)
	}
	if err := kt.Validate(); err != nil {
		return KeywordTable{}, fmt.Errorf("keyword table %q: %w", path, err)
	}
	return kt.normalized(), nil
}

func (kt KeywordTable) Validate() error {
	if strings.TrimSpace(kt.Version) == "" {
		return errors.New("version is required")
	}
	if kt.EngineBonus < 0 || kt.LocaleBonus < 0 || kt.LocalBonus < 0 || kt.QualityBonus < 0 {
		return errors.New("bonuses must be non-negative")
	}
	if len(kt.EngineKeywords) == 0 {
		return errors.New("engine_keywords must not be empty")
	}
	if len(kt.QualityKeywords) == 0 {
		return errors.New("quality_keywords must not be empty")
	}
	return nil
}

func (kt KeywordTable) normalized() KeywordTable {
	kt.EngineKeywords = lowerAll(kt.EngineKeywords)
	kt.QualityKeywords = lowerAll(kt.QualityKeywords)
	return kt
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
