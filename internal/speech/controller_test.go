package speech

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testVoices() []VoiceDescriptor {
	return []VoiceDescriptor{
		{Name: "Yuna", Locale: "ko-KR", IsLocal: true},
		{Name: "Samantha", Locale: "en-US", IsLocal: true, IsDefault: true},
		{Name: "Fred", Locale: "en-US", IsLocal: true},
		{Name: "Tingting", Locale: "zh-CN", IsLocal: true},
		{Name: "Kyoko", Locale: "ja-JP", IsLocal: true},
	}
}

func newTestController(t *testing.T, voices []VoiceDescriptor) (*Controller, *MockPlatform) {
	t.Helper()
	platform := NewMockPlatform(voices)
	catalog := NewCatalog(DefaultKeywordTable())
	catalog.Refresh(platform.ListVoices())
	return NewController(platform, catalog, nil, log.New(io.Discard, "", 0)), platform
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestControllerSpeakCompletes(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	done := make(chan struct{})
	err := c.Speak(context.Background(), SpeakRequest{
		Text:       "In the beginning God created the heaven and the earth.",
		Language:   LanguageEnglish,
		OnComplete: func() { close(done) },
	})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateSpeaking {
		t.Fatalf("State = %s, want speaking", snap.State)
	}
	if snap.VoiceName != "Samantha" {
		t.Fatalf("VoiceName = %q, want Samantha", snap.VoiceName)
	}

	if !platform.Finish(snap.UtteranceID) {
		t.Fatalf("Finish(%d) = false", snap.UtteranceID)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnComplete was not called")
	}
	waitFor(t, "idle", func() bool { return c.Snapshot().State == StateIdle })
	if got := c.Snapshot().ActiveText; got != "" {
		t.Fatalf("ActiveText = %q, want empty when idle", got)
	}
}

func TestControllerSecondSpeakSupersedesFirst(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	var firstCalls, secondCalls atomic.Int32
	if err := c.Speak(context.Background(), SpeakRequest{
		Text:       "first",
		Language:   LanguageEnglish,
		OnComplete: func() { firstCalls.Add(1) },
		OnError:    func(error) { firstCalls.Add(1) },
	}); err != nil {
		t.Fatalf("first Speak() error = %v", err)
	}
	if err := c.Speak(context.Background(), SpeakRequest{
		Text:       "second",
		Language:   LanguageKorean,
		OnComplete: func() { secondCalls.Add(1) },
		OnError:    func(error) { secondCalls.Add(1) },
	}); err != nil {
		t.Fatalf("second Speak() error = %v", err)
	}

	if !platform.Cancelled(1) {
		t.Fatalf("first utterance should be cancelled")
	}
	if platform.Finish(1) {
		t.Fatalf("cancelled utterance should not finish")
	}
	if !platform.Finish(2) {
		t.Fatalf("Finish(2) = false")
	}

	waitFor(t, "second completion", func() bool { return secondCalls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := firstCalls.Load(); got != 0 {
		t.Fatalf("first utterance callbacks = %d, want 0", got)
	}
	if got := secondCalls.Load(); got != 1 {
		t.Fatalf("second utterance callbacks = %d, want 1", got)
	}
}

func TestControllerStopWhileIdleIsNoop(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	c.Stop()
	c.Stop()

	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("State = %s, want idle", got)
	}
	if got := len(platform.Spoken()); got != 0 {
		t.Fatalf("spoken = %d, want 0", got)
	}
}

func TestControllerPauseResume(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	if err := c.Speak(context.Background(), SpeakRequest{Text: "태초에", Language: LanguageKorean}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	c.Pause()
	if got := c.Snapshot().State; got != StatePaused {
		t.Fatalf("State after Pause = %s, want paused", got)
	}
	if !platform.Paused(1) {
		t.Fatalf("platform utterance should be paused")
	}

	c.Resume()
	if got := c.Snapshot().State; got != StateSpeaking {
		t.Fatalf("State after Resume = %s, want speaking", got)
	}
	if platform.Paused(1) {
		t.Fatalf("platform utterance should be resumed")
	}
	if got := len(platform.Spoken()); got != 1 {
		t.Fatalf("spoken = %d, want 1 (resume must not re-speak)", got)
	}
}

func TestControllerInvalidTransitionsAreIgnored(t *testing.T) {
	c, _ := newTestController(t, testVoices())

	c.Pause()
	c.Resume()
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("State = %s, want idle", got)
	}

	if err := c.Speak(context.Background(), SpeakRequest{Text: "hello", Language: LanguageEnglish}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	c.Resume()
	if got := c.Snapshot().State; got != StateSpeaking {
		t.Fatalf("State after stray Resume = %s, want speaking", got)
	}
	c.Pause()
	c.Pause()
	if got := c.Snapshot().State; got != StatePaused {
		t.Fatalf("State after double Pause = %s, want paused", got)
	}
}

func TestControllerFollowUpChainsExactlyOnce(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	err := c.Speak(context.Background(), SpeakRequest{
		Text:       "Hello",
		Language:   LanguageEnglish,
		OnComplete: func() { record("first") },
		FollowUp: &FollowUp{
			Text:       "안녕하세요",
			Language:   LanguageKorean,
			OnComplete: func() { record("follow-up") },
		},
	})
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if !c.Snapshot().HasFollowUp {
		t.Fatalf("snapshot should report a queued follow-up")
	}
	if got := len(platform.Spoken()); got != 1 {
		t.Fatalf("spoken before first end = %d, want 1", got)
	}

	platform.Finish(1)
	waitFor(t, "follow-up start", func() bool { return len(platform.Spoken()) == 2 })
	second := platform.Spoken()[1]
	if second.Language != LanguageKorean || second.Voice.Name != "Yuna" {
		t.Fatalf("follow-up = %+v, want Korean via Yuna", second)
	}
	if c.Snapshot().HasFollowUp {
		t.Fatalf("follow-up must not queue another hop")
	}

	platform.Finish(2)
	waitFor(t, "follow-up completion", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	time.Sleep(20 * time.Millisecond)
	if got := len(platform.Spoken()); got != 2 {
		t.Fatalf("spoken = %d, want 2", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first" || order[1] != "follow-up" {
		t.Fatalf("callback order = %v", order)
	}
}

func TestControllerStopClearsFollowUp(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	if err := c.Speak(context.Background(), SpeakRequest{
		Text:     "Hello",
		Language: LanguageEnglish,
		FollowUp: &FollowUp{Text: "안녕", Language: LanguageKorean},
	}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	c.Stop()

	if got := c.Snapshot(); got.State != StateIdle || got.HasFollowUp {
		t.Fatalf("snapshot after Stop = %+v", got)
	}
	if platform.Finish(1) {
		t.Fatalf("stopped utterance should not finish")
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(platform.Spoken()); got != 1 {
		t.Fatalf("spoken = %d, want 1", got)
	}
}

func TestControllerEngineErrorReturnsToIdle(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	errCh := make(chan error, 2)
	if err := c.Speak(context.Background(), SpeakRequest{
		Text:     "Hello",
		Language: LanguageEnglish,
		OnError:  func(err error) { errCh <- err },
		FollowUp: &FollowUp{Text: "안녕", Language: LanguageKorean},
	}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}

	platform.Fail(1, "engine crashed")
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSynthesisEngine) {
			t.Fatalf("OnError err = %v, want ErrSynthesisEngine", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnError was not called")
	}
	waitFor(t, "idle", func() bool { return c.Snapshot().State == StateIdle })
	time.Sleep(20 * time.Millisecond)
	if got := len(platform.Spoken()); got != 1 {
		t.Fatalf("spoken = %d, want 1 (no retry, no follow-up)", got)
	}
}

func TestControllerSynthesizeFailure(t *testing.T) {
	c, platform := newTestController(t, testVoices())
	platform.FailNextSynthesize(errors.New("engine busy"))

	var called atomic.Bool
	err := c.Speak(context.Background(), SpeakRequest{
		Text:     "Hello",
		Language: LanguageEnglish,
		OnError:  func(error) { called.Store(true) },
	})
	if !errors.Is(err, ErrSynthesisEngine) {
		t.Fatalf("Speak() error = %v, want ErrSynthesisEngine", err)
	}
	if !called.Load() {
		t.Fatalf("OnError should be called")
	}
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("State = %s, want idle", got)
	}
}

func TestControllerNoVoiceAvailable(t *testing.T) {
	c, _ := newTestController(t, []VoiceDescriptor{{Name: "Thomas", Locale: "fr-FR"}})

	var called atomic.Bool
	err := c.Speak(context.Background(), SpeakRequest{
		Text:     "Hello",
		Language: LanguageEnglish,
		OnError:  func(error) { called.Store(true) },
	})
	if !errors.Is(err, ErrNoVoiceAvailable) {
		t.Fatalf("Speak() error = %v, want ErrNoVoiceAvailable", err)
	}
	if !called.Load() {
		t.Fatalf("OnError should be called")
	}
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("State = %s, want idle", got)
	}
}

func TestControllerFallsBackToPlatformDefault(t *testing.T) {
	platform := NewMockPlatform([]VoiceDescriptor{
		{Name: "Thomas", Locale: "fr-FR", IsDefault: true},
	})
	// Catalog never refreshed: an empty table must not block playback.
	c := NewController(platform, NewCatalog(DefaultKeywordTable()), nil, log.New(io.Discard, "", 0))

	if err := c.Speak(context.Background(), SpeakRequest{Text: "Hello", Language: LanguageEnglish}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := platform.Spoken()[0].Voice.Name; got != "Thomas" {
		t.Fatalf("voice = %q, want platform default", got)
	}
}

func TestControllerVoiceOverride(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	if err := c.Speak(context.Background(), SpeakRequest{
		Text:     "Hello",
		Language: LanguageEnglish,
		Options:  Options{VoiceName: "fred"},
	}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := platform.Spoken()[0].Voice.Name; got != "Fred" {
		t.Fatalf("voice = %q, want override Fred", got)
	}

	if err := c.Speak(context.Background(), SpeakRequest{
		Text:     "Hello",
		Language: LanguageEnglish,
		Options:  Options{VoiceName: "Missing"},
	}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if got := platform.Spoken()[1].Voice.Name; got != "Samantha" {
		t.Fatalf("voice = %q, want preferred voice when override is missing", got)
	}
}

func TestControllerValidatesInput(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	if err := c.Speak(context.Background(), SpeakRequest{Text: "   ", Language: LanguageEnglish}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("empty text err = %v, want ErrEmptyText", err)
	}
	if err := c.Speak(context.Background(), SpeakRequest{Text: "Bonjour", Language: "fr"}); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("unsupported language err = %v, want ErrUnsupportedLanguage", err)
	}
	if got := len(platform.Spoken()); got != 0 {
		t.Fatalf("spoken = %d, want 0", got)
	}
}

func TestControllerClampsOptions(t *testing.T) {
	c, platform := newTestController(t, testVoices())

	if err := c.Speak(context.Background(), SpeakRequest{
		Text:     "Hello",
		Language: LanguageEnglish,
		Options:  Options{Rate: 5, Pitch: -9, Volume: 3},
	}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	u := platform.Spoken()[0]
	if u.Rate != MaxRate || u.Pitch != MinPitch || u.Volume != 1 {
		t.Fatalf("options = rate %.2f pitch %.2f volume %.2f, want clamped", u.Rate, u.Pitch, u.Volume)
	}

	if err := c.Speak(context.Background(), SpeakRequest{Text: "Hello", Language: LanguageEnglish}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	u = platform.Spoken()[1]
	if u.Rate != DefaultRate || u.Pitch != 0 || u.Volume != DefaultVolume {
		t.Fatalf("defaults = rate %.2f pitch %.2f volume %.2f", u.Rate, u.Pitch, u.Volume)
	}
}

func TestControllerAutoCompletingPlatform(t *testing.T) {
	platform := NewMockPlatform(testVoices())
	platform.PerRune = time.Millisecond
	catalog := NewCatalog(DefaultKeywordTable())
	catalog.Refresh(platform.ListVoices())
	c := NewController(platform, catalog, nil, log.New(io.Discard, "", 0))

	var records []UtteranceRecord
	var mu sync.Mutex
	c.OnUtterance(func(r UtteranceRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, r)
	})

	done := make(chan struct{})
	if err := c.Speak(context.Background(), SpeakRequest{
		Text:       "Jesus wept.",
		Language:   LanguageEnglish,
		OnComplete: func() { close(done) },
	}); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("utterance did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(records) != 2 || records[0].Outcome != OutcomeStarted || records[1].Outcome != OutcomeCompleted {
		t.Fatalf("records = %+v, want started then completed", records)
	}
	if records[1].TextChars != len([]rune("Jesus wept.")) {
		t.Fatalf("TextChars = %d", records[1].TextChars)
	}
}

// gatedPlatform blocks the next ListVoices call once armed, holding a Speak
// between cancelling the old utterance and installing its own.
type gatedPlatform struct {
	*MockPlatform
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPlatform) ListVoices() []VoiceDescriptor {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.MockPlatform.ListVoices()
}

func TestControllerOverlappingSpeaksKeepOneInFlight(t *testing.T) {
	mock := NewMockPlatform(testVoices())
	gated := &gatedPlatform{
		MockPlatform: mock,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	catalog := NewCatalog(DefaultKeywordTable())
	catalog.Refresh(mock.ListVoices())
	c := NewController(gated, catalog, nil, log.New(io.Discard, "", 0))

	var (
		mu        sync.Mutex
		cancelled []uint64
	)
	c.OnUtterance(func(rec UtteranceRecord) {
		if rec.Outcome == OutcomeCancelled {
			mu.Lock()
			cancelled = append(cancelled, rec.ID)
			mu.Unlock()
		}
	})

	gated.armed.Store(true)
	slow := make(chan error, 1)
	go func() {
		slow <- c.Speak(context.Background(), SpeakRequest{Text: "B", Language: LanguageEnglish})
	}()
	<-gated.entered

	if err := c.Speak(context.Background(), SpeakRequest{Text: "A", Language: LanguageEnglish}); err != nil {
		t.Fatalf("Speak(A) error = %v", err)
	}
	close(gated.release)
	if err := <-slow; err != nil {
		t.Fatalf("Speak(B) error = %v", err)
	}

	snap := c.Snapshot()
	if snap.ActiveText != "B" || snap.UtteranceID != 2 {
		t.Fatalf("snapshot = %+v, want B as utterance 2", snap)
	}
	if !mock.Cancelled(1) {
		t.Fatalf("utterance 1 still in flight after B took over")
	}
	if mock.Cancelled(2) {
		t.Fatalf("utterance 2 cancelled, want it playing")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(cancelled) != 1 || cancelled[0] != 1 {
		t.Fatalf("cancelled records = %v, want [1]", cancelled)
	}
}
