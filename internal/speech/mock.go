package speech

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"
)

var errHandleClosed = errors.New("utterance already finished")

// mockHistory bounds how many utterances the mock remembers.
const mockHistory = 1024

// MockPlatform simulates a speech engine. With PerRune > 0 utterances end on
// their own after PerRune per rune (scaled by rate); otherwise they wait for
// Finish or Fail.
type MockPlatform struct {
	PerRune     time.Duration
	MinDuration time.Duration

	mu       sync.Mutex
	voices   []VoiceDescriptor
	changed  chan struct{}
	handles  map[uint64]*mockHandle
	spoken   []Utterance
	failNext error
}

func NewMockPlatform(voices []VoiceDescriptor) *MockPlatform {
	p := &MockPlatform{
		changed: make(chan struct{}, 1),
		handles: make(map[uint64]*mockHandle),
	}
	p.voices = append([]VoiceDescriptor(nil), voices...)
	return p
}

func (p *MockPlatform) ListVoices() []VoiceDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]VoiceDescriptor(nil), p.voices...)
}

func (p *MockPlatform) VoicesChanged() <-chan struct{} { return p.changed }

// SetVoices replaces the voice list and signals a change.
func (p *MockPlatform) SetVoices(voices []VoiceDescriptor) {
	p.mu.Lock()
	p.voices = append([]VoiceDescriptor(nil), voices...)
	p.mu.Unlock()
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

// FailNextSynthesize makes the next Synthesize call return err.
func (p *MockPlatform) FailNextSynthesize(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

func (p *MockPlatform) Synthesize(_ context.Context, u Utterance) (UtteranceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failNext; err != nil {
		p.failNext = nil
		return nil, err
	}
	h := &mockHandle{
		platform: p,
		id:       u.ID,
		events:   make(chan UtteranceEvent, 4),
	}
	h.events <- UtteranceEvent{Type: UtteranceEventStart}
	if p.PerRune > 0 {
		d := time.Duration(float64(p.PerRune) * float64(utf8.RuneCountInString(u.Text)) / rateOrOne(u.Rate))
		if d < p.MinDuration {
			d = p.MinDuration
		}
		h.remaining = d
		h.startTimerLocked()
	}
	p.handles[u.ID] = h
	p.spoken = append(p.spoken, u)
	if len(p.spoken) > mockHistory {
		delete(p.handles, p.spoken[0].ID)
		p.spoken = p.spoken[1:]
	}
	return h, nil
}

// Spoken returns every utterance handed to the platform, in order.
func (p *MockPlatform) Spoken() []Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Utterance(nil), p.spoken...)
}

// Finish ends utterance id normally.
func (p *MockPlatform) Finish(id uint64) bool {
	return p.terminate(id, UtteranceEvent{Type: UtteranceEventEnd})
}

// Fail ends utterance id with an engine error.
func (p *MockPlatform) Fail(id uint64, detail string) bool {
	return p.terminate(id, UtteranceEvent{Type: UtteranceEventError, Detail: detail})
}

// Emit pushes evt for id even if the utterance was cancelled, mimicking
// engines that deliver late callbacks.
func (p *MockPlatform) Emit(id uint64, evt UtteranceEvent) {
	p.mu.Lock()
	h := p.handles[id]
	p.mu.Unlock()
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.events <- evt
	}
}

// Paused reports whether id is currently paused.
func (p *MockPlatform) Paused(id uint64) bool {
	p.mu.Lock()
	h := p.handles[id]
	p.mu.Unlock()
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// Cancelled reports whether id was cancelled.
func (p *MockPlatform) Cancelled(id uint64) bool {
	p.mu.Lock()
	h := p.handles[id]
	p.mu.Unlock()
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (p *MockPlatform) terminate(id uint64, evt UtteranceEvent) bool {
	p.mu.Lock()
	h := p.handles[id]
	p.mu.Unlock()
	if h == nil {
		return false
	}
	return h.terminate(evt)
}

type mockHandle struct {
	platform *MockPlatform
	id       uint64

	mu        sync.Mutex
	events    chan UtteranceEvent
	timer     *time.Timer
	deadline  time.Time
	remaining time.Duration
	paused    bool
	cancelled bool
	closed    bool
}

func (h *mockHandle) Events() <-chan UtteranceEvent { return h.events }

func (h *mockHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHandleClosed
	}
	if h.paused {
		return nil
	}
	h.paused = true
	if h.timer != nil && h.timer.Stop() {
		h.remaining = time.Until(h.deadline)
	}
	return nil
}

func (h *mockHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHandleClosed
	}
	if !h.paused {
		return nil
	}
	h.paused = false
	if h.timer != nil {
		h.startTimerLocked()
	}
	return nil
}

func (h *mockHandle) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.cancelled = true
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
	}
	close(h.events)
	return nil
}

func (h *mockHandle) terminate(evt UtteranceEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
	}
	h.events <- evt
	close(h.events)
	return true
}

func (h *mockHandle) startTimerLocked() {
	if h.remaining < 0 {
		h.remaining = 0
	}
	h.deadline = time.Now().Add(h.remaining)
	h.timer = time.AfterFunc(h.remaining, func() {
		h.terminate(UtteranceEvent{Type: UtteranceEventEnd})
	})
}

func rateOrOne(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return rate
}
