package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/versevoice/internal/speech"
)

type DisplayMode string

const (
	DisplaySingle DisplayMode = "single"
	DisplayCross  DisplayMode = "cross"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the persisted playback preferences of one listener.
type Settings struct {
	ListenerID        string                     `json:"listener_id"`
	DefaultLanguage   speech.Language            `json:"default_language"`
	DisplayMode       DisplayMode                `json:"display_mode"`
	SecondaryLanguage speech.Language            `json:"secondary_language"`
	Rate              float64                    `json:"rate"`
	Pitch             float64                    `json:"pitch"`
	Volume            float64                    `json:"volume"`
	VoiceOverrides    map[speech.Language]string `json:"voice_overrides,omitempty"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// Store persists listener settings.
type Store interface {
	Get(ctx context.Context, listenerID string) (Settings, error)
	Put(ctx context.Context, s Settings) (Settings, error)
	Close() error
}

// Defaults returns the settings used for a listener that never saved any.
func Defaults(listenerID string) Settings {
	return Settings{
		ListenerID:        listenerID,
		DefaultLanguage:   speech.LanguageKorean,
		DisplayMode:       DisplaySingle,
		SecondaryLanguage: speech.LanguageEnglish,
		Rate:              speech.DefaultRate,
		Volume:            speech.DefaultVolume,
	}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.ListenerID) == "" {
		return fmt.Errorf("%w: listener_id is required", ErrInvalidSettings)
	}
	if !s.DefaultLanguage.Valid() {
		return fmt.Errorf("%w: unsupported default_language %q", ErrInvalidSettings, s.DefaultLanguage)
	}
	if !s.SecondaryLanguage.Valid() {
		return fmt.Errorf("%w: unsupported secondary_language %q", ErrInvalidSettings, s.SecondaryLanguage)
	}
	switch s.DisplayMode {
	case DisplaySingle, DisplayCross:
	default:
		return fmt.Errorf("%w: unknown display_mode %q", ErrInvalidSettings, s.DisplayMode)
	}
	if s.DisplayMode == DisplayCross && s.SecondaryLanguage == s.DefaultLanguage {
		return fmt.Errorf("%w: cross mode needs two different languages", ErrInvalidSettings)
	}
	if s.Rate < speech.MinRate || s.Rate > speech.MaxRate {
		return fmt.Errorf("%w: rate must be in [%.1f, %.1f]", ErrInvalidSettings, speech.MinRate, speech.MaxRate)
	}
	if s.Pitch < speech.MinPitch || s.Pitch > speech.MaxPitch {
		return fmt.Errorf("%w: pitch must be in [%.0f, %.0f]", ErrInvalidSettings, speech.MinPitch, speech.MaxPitch)
	}
	if s.Volume < 0 || s.Volume > 1 {
		return fmt.Errorf("%w: volume must be in [0, 1]", ErrInvalidSettings)
	}
	for lang := range s.VoiceOverrides {
		if !lang.Valid() {
			return fmt.Errorf("%w: voice override for unsupported language %q", ErrInvalidSettings, lang)
		}
	}
	return nil
}

// Preferences converts settings to what the orchestrator reads at speak
// time.
func (s Settings) Preferences() speech.ListenerPreferences {
	overrides := make(map[speech.Language]string, len(s.VoiceOverrides))
	for lang, name := range s.VoiceOverrides {
		if strings.TrimSpace(name) != "" {
			overrides[lang] = name
		}
	}
	return speech.ListenerPreferences{
		DefaultLanguage:   s.DefaultLanguage,
		CrossMode:         s.DisplayMode == DisplayCross,
		SecondaryLanguage: s.SecondaryLanguage,
		Rate:              s.Rate,
		Pitch:             s.Pitch,
		Volume:            s.Volume,
		VoiceOverrides:    overrides,
	}
}

// Stored reports whether s was loaded from the store rather than defaulted.
func (s Settings) Stored() bool { return !s.UpdatedAt.IsZero() }

// FromPreferences builds unsaved settings from orchestrator preferences.
func FromPreferences(listenerID string, p speech.ListenerPreferences) Settings {
	mode := DisplaySingle
	if p.CrossMode {
		mode = DisplayCross
	}
	st := Settings{
		ListenerID:        listenerID,
		DefaultLanguage:   p.DefaultLanguage,
		DisplayMode:       mode,
		SecondaryLanguage: p.SecondaryLanguage,
		Rate:              p.Rate,
		Pitch:             p.Pitch,
		Volume:            p.Volume,
	}
	if len(p.VoiceOverrides) > 0 {
		st.VoiceOverrides = make(map[speech.Language]string, len(p.VoiceOverrides))
		for k, v := range p.VoiceOverrides {
			st.VoiceOverrides[k] = v
		}
	}
	return st
}

// Source adapts a Store to speech.PreferenceSource. Listeners without
// saved settings get Fallback.
type Source struct {
	Store    Store
	Fallback speech.ListenerPreferences
}

func (s Source) Preferences(ctx context.Context, listenerID string) (speech.ListenerPreferences, error) {
	st, err := s.Store.Get(ctx, listenerID)
	if err != nil {
		return speech.ListenerPreferences{}, err
	}
	if !st.Stored() {
		return s.Fallback, nil
	}
	return st.Preferences(), nil
}
