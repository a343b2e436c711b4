package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/versevoice/internal/observability"
)

// ListenerPreferences are the persisted settings read at speak time.
type ListenerPreferences struct {
	DefaultLanguage   Language
	CrossMode         bool
	SecondaryLanguage Language
	Rate              float64
	Pitch             float64
	Volume            float64
	VoiceOverrides    map[Language]string
}

// PreferenceSource loads listener preferences. The orchestrator never
// writes through it.
type PreferenceSource interface {
	Preferences(ctx context.Context, listenerID string) (ListenerPreferences, error)
}

type OrchestratorConfig struct {
	ListenerID  string
	Platform    Platform
	Keywords    KeywordTable
	Preferences PreferenceSource
	Defaults    ListenerPreferences
	Metrics     *observability.Metrics
	Logger      *log.Logger
}

// Orchestrator ties the voice catalog to one playback controller. Each
// application instance owns its own orchestrator.
type Orchestrator struct {
	listenerID string
	platform   Platform
	catalog    *Catalog
	controller *Controller
	prefs      PreferenceSource
	defaults   ListenerPreferences
	metrics    *observability.Metrics
	logger     *log.Logger
}

const preferencesTimeout = 500 * time.Millisecond

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	keywords := cfg.Keywords
	if strings.TrimSpace(keywords.Version) == "" {
		keywords = DefaultKeywordTable()
	}
	defaults := cfg.Defaults
	if !defaults.DefaultLanguage.Valid() {
		defaults.DefaultLanguage = LanguageKorean
	}
	if !defaults.SecondaryLanguage.Valid() {
		defaults.SecondaryLanguage = LanguageEnglish
	}

	catalog := NewCatalog(keywords)
	o := &Orchestrator{
		listenerID: cfg.ListenerID,
		platform:   cfg.Platform,
		catalog:    catalog,
		controller: NewController(cfg.Platform, catalog, cfg.Metrics, logger),
		prefs:      cfg.Preferences,
		defaults:   defaults,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
	catalog.Subscribe(o.observeRescan)
	return o
}

// Run keeps the preferred voice table in sync with the platform until ctx
// is done.
func (o *Orchestrator) Run(ctx context.Context) {
	o.catalog.Watch(ctx, o.platform)
}

// Refresh forces a rescan of the platform's current voices.
func (o *Orchestrator) Refresh() PreferredVoiceTable {
	return o.catalog.RefreshFrom(o.platform)
}

func (o *Orchestrator) PreferredVoiceTable() PreferredVoiceTable {
	return o.catalog.Table()
}

func (o *Orchestrator) Catalog() *Catalog { return o.catalog }

func (o *Orchestrator) Controller() *Controller { return o.controller }

func (o *Orchestrator) ListenerID() string { return o.listenerID }

// Speak fills unset request fields from the listener's preferences and
// hands the request to the controller.
func (o *Orchestrator) Speak(ctx context.Context, req SpeakRequest) error {
	prefs := o.preferences(ctx)
	if req.Language == "" {
		req.Language = prefs.DefaultLanguage
	}
	req.Options = o.applyPreferences(prefs, req.Language, req.Options)
	if req.FollowUp != nil {
		f := *req.FollowUp
		if f.Language == "" {
			f.Language = prefs.SecondaryLanguage
		}
		f.Options = o.applyPreferences(prefs, f.Language, f.Options)
		req.FollowUp = &f
	}
	return o.controller.Speak(ctx, req)
}

type VerseRequest struct {
	Text                string
	Language            Language
	Translation         string
	TranslationLanguage Language
	// Cross forces dual-language playback regardless of display mode.
	Cross      bool
	Options    Options
	OnComplete func()
	OnError    func(error)
}

// SpeakVerse reads a verse and, in cross mode, its translation right after.
// OnComplete fires after the last utterance of the pair.
func (o *Orchestrator) SpeakVerse(ctx context.Context, req VerseRequest) error {
	prefs := o.preferences(ctx)
	lang := req.Language
	if lang == "" {
		lang = prefs.DefaultLanguage
	}
	cross := (req.Cross || prefs.CrossMode) && strings.TrimSpace(req.Translation) != ""

	speak := SpeakRequest{
		Text:     req.Text,
		Language: lang,
		Options:  o.applyPreferences(prefs, lang, req.Options),
		OnError:  req.OnError,
	}
	if !cross {
		speak.OnComplete = req.OnComplete
		return o.controller.Speak(ctx, speak)
	}

	secondary := req.TranslationLanguage
	if secondary == "" {
		secondary = prefs.SecondaryLanguage
	}
	if secondary == lang {
		return o.reject(req.OnError, fmt.Errorf("%w: translation language %q equals verse language", ErrUnsupportedLanguage, secondary))
	}
	followOpts := req.Options
	followOpts.VoiceName = ""
	speak.FollowUp = &FollowUp{
		Text:       req.Translation,
		Language:   secondary,
		Options:    o.applyPreferences(prefs, secondary, followOpts),
		OnComplete: req.OnComplete,
		OnError:    req.OnError,
	}
	return o.controller.Speak(ctx, speak)
}

func (o *Orchestrator) Pause()  { o.controller.Pause() }
func (o *Orchestrator) Resume() { o.controller.Resume() }
func (o *Orchestrator) Stop()   { o.controller.Stop() }

func (o *Orchestrator) Snapshot() SessionSnapshot { return o.controller.Snapshot() }

func (o *Orchestrator) preferences(ctx context.Context) ListenerPreferences {
	prefs := o.defaults
	if o.prefs == nil {
		return prefs
	}
	ctx, cancel := context.WithTimeout(ctx, preferencesTimeout)
	defer cancel()
	loaded, err := o.prefs.Preferences(ctx, o.listenerID)
	if err != nil {
		o.logger.Printf("listener %s preferences unavailable, using defaults: %v", o.listenerID, err)
		return prefs
	}
	if loaded.DefaultLanguage.Valid() {
		prefs.DefaultLanguage = loaded.DefaultLanguage
	}
	if loaded.SecondaryLanguage.Valid() {
		prefs.SecondaryLanguage = loaded.SecondaryLanguage
	}
	prefs.CrossMode = loaded.CrossMode
	if loaded.Rate != 0 {
		prefs.Rate = loaded.Rate
	}
	prefs.Pitch = loaded.Pitch
	if loaded.Volume != 0 {
		prefs.Volume = loaded.Volume
	}
	prefs.VoiceOverrides = loaded.VoiceOverrides
	return prefs
}

// applyPreferences fills zero option fields. Explicit request values win.
func (o *Orchestrator) applyPreferences(prefs ListenerPreferences, lang Language, opts Options) Options {
	if opts.Rate == 0 {
		opts.Rate = prefs.Rate
	}
	if !opts.PitchSet && opts.Pitch == 0 {
		opts.Pitch = prefs.Pitch
	}
	if opts.Volume == 0 {
		opts.Volume = prefs.Volume
	}
	if strings.TrimSpace(opts.VoiceName) == "" {
		opts.VoiceName = prefs.VoiceOverrides[lang]
	}
	return opts
}

func (o *Orchestrator) reject(onError func(error), err error) error {
	if onError != nil {
		onError(err)
	}
	return err
}

func (o *Orchestrator) observeRescan(table PreferredVoiceTable, _ uint64) {
	if o.metrics == nil {
		return
	}
	scores := make(map[string]int, len(supportedLanguages))
	for _, lang := range supportedLanguages {
		sv, _ := table.Get(lang)
		scores[string(lang)] = sv.QualityScore
	}
	o.metrics.ObserveRescan(scores)
}
