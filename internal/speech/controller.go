package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/versevoice/internal/observability"
)

type State int

const (
	StateIdle State = iota
	StateSpeaking
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type SessionSnapshot struct {
	State       State    `json:"state"`
	ActiveText  string   `json:"active_text,omitempty"`
	Language    Language `json:"language,omitempty"`
	VoiceName   string   `json:"voice_name,omitempty"`
	UtteranceID uint64   `json:"utterance_id,omitempty"`
	HasFollowUp bool     `json:"has_follow_up"`
}

type UtteranceOutcome string

const (
	OutcomeStarted   UtteranceOutcome = "started"
	OutcomeCompleted UtteranceOutcome = "completed"
	OutcomeFailed    UtteranceOutcome = "failed"
	OutcomeCancelled UtteranceOutcome = "cancelled"
)

// UtteranceRecord describes one lifecycle step of an utterance.
type UtteranceRecord struct {
	ID        uint64
	Outcome   UtteranceOutcome
	Language  Language
	VoiceName string
	TextChars int
	Detail    string
}

type utterance struct {
	id         uint64
	text       string
	language   Language
	voice      VoiceDescriptor
	handle     UtteranceHandle
	followUp   *FollowUp
	onComplete func()
	onError    func(error)
	requested  time.Time
	started    bool
}

// Controller keeps at most one utterance in flight. A new Speak cancels the
// previous utterance; engine events are tagged with the utterance id and
// dropped once that id is no longer current.
type Controller struct {
	platform Platform
	catalog  *Catalog
	metrics  *observability.Metrics
	logger   *log.Logger

	mu       sync.Mutex
	state    State
	nextID   uint64
	current  *utterance
	onState  []func(SessionSnapshot)
	onRecord []func(UtteranceRecord)
}

func NewController(platform Platform, catalog *Catalog, metrics *observability.Metrics, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		platform: platform,
		catalog:  catalog,
		metrics:  metrics,
		logger:   logger,
	}
}

// OnStateChange registers fn for every state transition.
func (c *Controller) OnStateChange(fn func(SessionSnapshot)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnUtterance registers fn for utterance lifecycle records.
func (c *Controller) OnUtterance(fn func(UtteranceRecord)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRecord = append(c.onRecord, fn)
}

func (c *Controller) Snapshot() SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Speak cancels whatever is playing and starts text in language. Failures
// are returned and also delivered to req.OnError; in every failure case the
// session ends Idle.
func (c *Controller) Speak(ctx context.Context, req SpeakRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.reject(req, ErrEmptyText)
	}
	if !req.Language.Valid() {
		return c.reject(req, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language))
	}
	opts := req.Options.normalized()

	// Last call wins: the previous utterance is cancelled before lookup.
	c.cancelCurrent()

	voice, err := c.resolveVoice(req.Language, opts.VoiceName)
	if err != nil {
		c.logger.Printf("speak %s: %v", req.Language, err)
		c.metrics.ObserveUtterance(string(req.Language), "no_voice")
		return c.reject(req, err)
	}

	c.mu.Lock()
	c.nextID++
	u := &utterance{
		id:         c.nextID,
		text:       text,
		language:   req.Language,
		voice:      voice,
		followUp:   req.FollowUp,
		onComplete: req.OnComplete,
		onError:    req.OnError,
		requested:  time.Now(),
	}
	// Another Speak may have installed an utterance while this one was
	// resolving its voice; it is superseded here.
	prev := c.current
	c.current = u
	c.state = StateSpeaking
	snap := c.snapshotLocked()
	stateFns := c.stateListenersLocked()
	recordFns := c.recordListenersLocked()
	var prevHandle UtteranceHandle
	if prev != nil {
		prevHandle = prev.handle
	}
	c.mu.Unlock()

	if prev != nil {
		c.abandon(prev, prevHandle, recordFns)
	}
	notifyState(stateFns, snap)

	handle, err := c.platform.Synthesize(ctx, Utterance{
		ID:       u.id,
		Text:     text,
		Language: req.Language,
		Voice:    voice,
		Rate:     opts.Rate,
		Pitch:    opts.Pitch,
		Volume:   opts.Volume,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSynthesisEngine, err)
		if c.finish(u.id, err) {
			return err
		}
		// Superseded while starting; the newer request owns the session.
		return nil
	}

	c.mu.Lock()
	if c.current != u {
		c.mu.Unlock()
		_ = handle.Cancel()
		return nil
	}
	u.handle = handle
	paused := c.state == StatePaused
	c.mu.Unlock()

	if paused {
		if err := handle.Pause(); err != nil {
			c.logger.Printf("pause utterance %d: %v", u.id, err)
		}
	}

	go c.watch(u, handle)
	return nil
}

// Pause is best-effort; some engines keep speaking.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StateSpeaking {
		state := c.state
		c.mu.Unlock()
		c.invalid("pause", state)
		return
	}
	c.state = StatePaused
	handle := c.current.handle
	id := c.current.id
	snap := c.snapshotLocked()
	stateFns := c.stateListenersLocked()
	c.mu.Unlock()

	if handle != nil {
		if err := handle.Pause(); err != nil {
			c.logger.Printf("pause utterance %d: %v", id, err)
		}
	}
	notifyState(stateFns, snap)
}

func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		c.invalid("resume", state)
		return
	}
	c.state = StateSpeaking
	handle := c.current.handle
	id := c.current.id
	snap := c.snapshotLocked()
	stateFns := c.stateListenersLocked()
	c.mu.Unlock()

	if handle != nil {
		if err := handle.Resume(); err != nil {
			c.logger.Printf("resume utterance %d: %v", id, err)
		}
	}
	notifyState(stateFns, snap)
}

// Stop cancels playback and any queued follow-up. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.cancelCurrent()
}

func (c *Controller) cancelCurrent() {
	c.mu.Lock()
	u := c.current
	if u == nil {
		c.mu.Unlock()
		return
	}
	handle := u.handle
	c.current = nil
	c.state = StateIdle
	snap := c.snapshotLocked()
	stateFns := c.stateListenersLocked()
	recordFns := c.recordListenersLocked()
	c.mu.Unlock()

	c.abandon(u, handle, recordFns)
	notifyState(stateFns, snap)
}

// abandon cancels an utterance already removed from current. A nil handle
// means its Speak is still in Synthesize and will cancel the handle itself.
func (c *Controller) abandon(u *utterance, handle UtteranceHandle, recordFns []func(UtteranceRecord)) {
	if handle != nil {
		if err := handle.Cancel(); err != nil {
			c.logger.Printf("cancel utterance %d: %v", u.id, err)
		}
	}
	c.metrics.ObserveUtterance(string(u.language), string(OutcomeCancelled))
	notifyRecord(recordFns, u.record(OutcomeCancelled, ""))
}

func (c *Controller) watch(u *utterance, handle UtteranceHandle) {
	for evt := range handle.Events() {
		switch evt.Type {
		case UtteranceEventStart:
			c.markStarted(u)
		case UtteranceEventEnd:
			c.finish(u.id, nil)
			return
		case UtteranceEventError:
			detail := strings.TrimSpace(evt.Detail)
			if detail == "" {
				detail = "engine reported an error"
			}
			c.finish(u.id, fmt.Errorf("%w: %s", ErrSynthesisEngine, detail))
			return
		}
	}
	// Closed without a terminal event: either cancelled (stale) or the
	// engine went away mid-utterance.
	c.finish(u.id, fmt.Errorf("%w: event stream closed", ErrSynthesisEngine))
}

func (c *Controller) markStarted(u *utterance) {
	c.mu.Lock()
	if c.current != u || u.started {
		stale := c.current != u
		c.mu.Unlock()
		if stale {
			c.metrics.ObserveStaleEvent()
		}
		return
	}
	u.started = true
	recordFns := c.recordListenersLocked()
	c.mu.Unlock()

	c.metrics.ObserveStartLatency(time.Since(u.requested))
	notifyRecord(recordFns, u.record(OutcomeStarted, ""))
}

// finish settles utterance id. It reports false when id was already
// superseded, in which case nothing is delivered.
func (c *Controller) finish(id uint64, cause error) bool {
	c.mu.Lock()
	u := c.current
	if u == nil || u.id != id {
		c.mu.Unlock()
		c.metrics.ObserveStaleEvent()
		return false
	}
	c.current = nil
	c.state = StateIdle
	snap := c.snapshotLocked()
	stateFns := c.stateListenersLocked()
	recordFns := c.recordListenersLocked()
	c.mu.Unlock()

	notifyState(stateFns, snap)

	if cause != nil {
		c.logger.Printf("utterance %d (%s) failed: %v", u.id, u.language, cause)
		c.metrics.ObserveUtterance(string(u.language), string(OutcomeFailed))
		notifyRecord(recordFns, u.record(OutcomeFailed, cause.Error()))
		// The follow-up is dropped; the failure is reported once, here.
		if u.onError != nil {
			u.onError(cause)
		}
		return true
	}

	c.metrics.ObserveUtterance(string(u.language), string(OutcomeCompleted))
	c.metrics.ObserveStage("utterance_total", time.Since(u.requested))
	notifyRecord(recordFns, u.record(OutcomeCompleted, ""))
	if u.onComplete != nil {
		u.onComplete()
	}
	if f := u.followUp; f != nil {
		// One chained hop only; the follow-up queues nothing further.
		_ = c.Speak(context.Background(), SpeakRequest{
			Text:       f.Text,
			Language:   f.Language,
			Options:    f.Options,
			OnComplete: f.OnComplete,
			OnError:    f.OnError,
		})
	}
	return true
}

func (c *Controller) resolveVoice(lang Language, override string) (VoiceDescriptor, error) {
	voices := c.platform.ListVoices()
	if name := strings.TrimSpace(override); name != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Name, name) || (v.ID != "" && strings.EqualFold(v.ID, name)) {
				return v, nil
			}
		}
		c.logger.Printf("voice override %q for %s not available, using preferred voice", name, lang)
	}
	if c.catalog != nil {
		if sv, ok := c.catalog.Table().Get(lang); ok {
			return sv.Voice, nil
		}
	}
	var anyDefault *VoiceDescriptor
	for i := range voices {
		v := voices[i]
		if !v.IsDefault {
			continue
		}
		if localeMatches(normalizeLocale(v.Locale), lang) {
			return v, nil
		}
		if anyDefault == nil {
			anyDefault = &voices[i]
		}
	}
	if anyDefault != nil {
		return *anyDefault, nil
	}
	return VoiceDescriptor{}, fmt.Errorf("%w for %s", ErrNoVoiceAvailable, lang)
}

func (c *Controller) reject(req SpeakRequest, err error) error {
	if req.OnError != nil {
		req.OnError(err)
	}
	return err
}

func (c *Controller) invalid(op string, state State) {
	c.metrics.ObserveInvalidOperation(op)
	c.logger.Printf("warning: %s ignored in state %s: %v", op, state, ErrInvalidOperation)
}

func (c *Controller) snapshotLocked() SessionSnapshot {
	snap := SessionSnapshot{State: c.state}
	if u := c.current; u != nil {
		snap.ActiveText = u.text
		snap.Language = u.language
		snap.VoiceName = u.voice.Name
		snap.UtteranceID = u.id
		snap.HasFollowUp = u.followUp != nil
	}
	return snap
}

func (c *Controller) stateListenersLocked() []func(SessionSnapshot) {
	out := make([]func(SessionSnapshot), len(c.onState))
	copy(out, c.onState)
	return out
}

func (c *Controller) recordListenersLocked() []func(UtteranceRecord) {
	out := make([]func(UtteranceRecord), len(c.onRecord))
	copy(out, c.onRecord)
	return out
}

func (u *utterance) record(outcome UtteranceOutcome, detail string) UtteranceRecord {
	return UtteranceRecord{
		ID:        u.id,
		Outcome:   outcome,
		Language:  u.language,
		VoiceName: u.voice.Name,
		TextChars: len([]rune(u.text)),
		Detail:    detail,
	}
}

func notifyState(fns []func(SessionSnapshot), snap SessionSnapshot) {
	for _, fn := range fns {
		fn(snap)
	}
}

func notifyRecord(fns []func(UtteranceRecord), rec UtteranceRecord) {
	for _, fn := range fns {
		fn(rec)
	}
}
