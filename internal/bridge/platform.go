package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/versevoice/internal/observability"
	"github.com/ent0n29/versevoice/internal/protocol"
	"github.com/ent0n29/versevoice/internal/speech"
)

var (
	ErrNotConnected = errors.New("device not connected")
	ErrOutboundFull = errors.New("outbound queue full")
)

const sendTimeout = 2 * time.Second

// Platform is a speech.Platform backed by a remote device. The device
// reports voices and utterance events over a websocket; commands go back
// out through the attached outbound queue.
type Platform struct {
	sessionID string
	metrics   *observability.Metrics

	mu       sync.Mutex
	outbound chan<- any
	voices   []speech.VoiceDescriptor
	handles  map[uint64]*handle
	closed   bool
	changed  chan struct{}
}

func New(sessionID string, metrics *observability.Metrics) *Platform {
	return &Platform{
		sessionID: sessionID,
		metrics:   metrics,
		handles:   make(map[uint64]*handle),
		changed:   make(chan struct{}, 1),
	}
}

// Attach routes commands to outbound until Detach. A reattach replaces the
// previous queue.
func (p *Platform) Attach(outbound chan<- any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = outbound
}

// Detach drops outbound and fails every open utterance; the device can no
// longer report how they ended. It is a no-op when a newer connection has
// attached since, so a replaced socket cannot tear down its successor.
func (p *Platform) Detach(outbound chan<- any) {
	p.mu.Lock()
	if p.outbound != outbound {
		p.mu.Unlock()
		return
	}
	p.detachLocked()
}

// detachLocked is called with p.mu held and releases it.
func (p *Platform) detachLocked() {
	p.outbound = nil
	open := p.takeHandlesLocked()
	p.mu.Unlock()

	for _, h := range open {
		h.terminate(speech.UtteranceEvent{Type: speech.UtteranceEventError, Detail: ErrNotConnected.Error()})
	}
}

// Close detaches and stops change notifications.
func (p *Platform) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.changed)
	p.detachLocked()
}

func (p *Platform) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbound != nil
}

func (p *Platform) ListVoices() []speech.VoiceDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]speech.VoiceDescriptor(nil), p.voices...)
}

func (p *Platform) VoicesChanged() <-chan struct{} { return p.changed }

// HandleVoices replaces the voice list with the device's latest report.
func (p *Platform) HandleVoices(msg protocol.VoicesChanged) {
	voices := make([]speech.VoiceDescriptor, 0, len(msg.Voices))
	for _, v := range msg.Voices {
		voices = append(voices, speech.VoiceDescriptor{
			Name:      strings.TrimSpace(v.Name),
			ID:        strings.TrimSpace(v.ID),
			Locale:    strings.TrimSpace(v.Locale),
			IsLocal:   v.Local,
			IsDefault: v.Default,
		})
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.voices = voices
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
}

// HandleUtteranceEvent routes a device event to its handle. Events for
// unknown or already settled utterances are ignored.
func (p *Platform) HandleUtteranceEvent(msg protocol.UtteranceEvent) bool {
	var evt speech.UtteranceEvent
	switch msg.Event {
	case protocol.EventStart:
		evt.Type = speech.UtteranceEventStart
	case protocol.EventEnd:
		evt.Type = speech.UtteranceEventEnd
	case protocol.EventError:
		evt = speech.UtteranceEvent{Type: speech.UtteranceEventError, Detail: msg.Detail}
	default:
		return false
	}

	p.mu.Lock()
	h := p.handles[msg.UtteranceID]
	if h != nil && evt.Type != speech.UtteranceEventStart {
		delete(p.handles, msg.UtteranceID)
	}
	p.mu.Unlock()
	if h == nil {
		p.metrics.ObserveStaleEvent()
		return false
	}
	if evt.Type == speech.UtteranceEventStart {
		return h.deliver(evt)
	}
	return h.terminate(evt)
}

func (p *Platform) Synthesize(ctx context.Context, u speech.Utterance) (speech.UtteranceHandle, error) {
	h := &handle{
		platform: p,
		id:       u.ID,
		events:   make(chan speech.UtteranceEvent, 4),
	}
	p.mu.Lock()
	if p.outbound == nil {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	p.handles[u.ID] = h
	p.mu.Unlock()

	err := p.send(ctx, protocol.Synthesize{
		Type:        protocol.TypeSynthesize,
		SessionID:   p.sessionID,
		UtteranceID: u.ID,
		Text:        u.Text,
		Language:    string(u.Language),
		VoiceName:   u.Voice.Name,
		VoiceID:     u.Voice.ID,
		Locale:      u.Voice.Locale,
		Rate:        u.Rate,
		Pitch:       u.Pitch,
		Volume:      u.Volume,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.handles, u.ID)
		p.mu.Unlock()
		return nil, err
	}
	return h, nil
}

// Notify queues msg for the device without blocking. It reports whether
// the message was queued.
func (p *Platform) Notify(msg any, msgType protocol.MessageType) bool {
	p.mu.Lock()
	out := p.outbound
	p.mu.Unlock()
	if out == nil {
		return false
	}
	select {
	case out <- msg:
		p.metrics.ObserveOutboundMessage(string(msgType), "queued")
		return true
	default:
		p.metrics.ObserveOutboundMessage(string(msgType), "drop_full")
		return false
	}
}

func (p *Platform) send(ctx context.Context, msg protocol.Synthesize) error {
	p.mu.Lock()
	out := p.outbound
	p.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case out <- msg:
		p.metrics.ObserveOutboundMessage(string(msg.Type), "queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.metrics.ObserveOutboundMessage(string(msg.Type), "drop_full")
		return ErrOutboundFull
	}
}

func (p *Platform) control(id uint64, action string) error {
	ok := p.Notify(protocol.UtteranceControl{
		Type:        protocol.TypeUtteranceControl,
		SessionID:   p.sessionID,
		UtteranceID: id,
		Action:      action,
	}, protocol.TypeUtteranceControl)
	if !ok {
		return fmt.Errorf("%s utterance %d: %w", action, id, ErrOutboundFull)
	}
	return nil
}

func (p *Platform) forget(id uint64) {
	p.mu.Lock()
	delete(p.handles, id)
	p.mu.Unlock()
}

func (p *Platform) takeHandlesLocked() []*handle {
	out := make([]*handle, 0, len(p.handles))
	for id, h := range p.handles {
		out = append(out, h)
		delete(p.handles, id)
	}
	return out
}

type handle struct {
	platform *Platform
	id       uint64

	mu     sync.Mutex
	events chan speech.UtteranceEvent
	closed bool
}

func (h *handle) Events() <-chan speech.UtteranceEvent { return h.events }

func (h *handle) Pause() error {
	if h.isClosed() {
		return nil
	}
	return h.platform.control(h.id, protocol.ActionPause)
}

func (h *handle) Resume() error {
	if h.isClosed() {
		return nil
	}
	return h.platform.control(h.id, protocol.ActionResume)
}

// Cancel asks the device to stop and closes the stream without a terminal
// event.
func (h *handle) Cancel() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.events)
	h.mu.Unlock()

	h.platform.forget(h.id)
	if !h.platform.Connected() {
		return nil
	}
	return h.platform.control(h.id, protocol.ActionCancel)
}

func (h *handle) deliver(evt speech.UtteranceEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	select {
	case h.events <- evt:
		return true
	default:
		return false
	}
}

func (h *handle) terminate(evt speech.UtteranceEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	// Buffer is sized for start + terminal, so this never blocks.
	select {
	case h.events <- evt:
	default:
	}
	close(h.events)
	return true
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
