package main

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/versevoice/internal/protocol"
	"github.com/ent0n29/versevoice/internal/speech"
)

const minSpeakDuration = 50 * time.Millisecond

type jsonWriter interface {
	WriteJSON(v any) error
}

type playing struct {
	timer     *time.Timer
	startedAt time.Time
	remaining time.Duration
	paused    bool
}

// device plays synthesize requests on timers and reports them back as
// utterance events.
type device struct {
	sessionID string
	perRune   time.Duration

	writeMu sync.Mutex
	conn    jsonWriter

	mu      sync.Mutex
	playing map[uint64]*playing
}

func newDevice(conn jsonWriter, sessionID string, perRune time.Duration) *device {
	return &device{
		sessionID: sessionID,
		perRune:   perRune,
		conn:      conn,
		playing:   make(map[uint64]*playing),
	}
}

func (d *device) write(v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteJSON(v)
}

func (d *device) reportVoices(voices []speech.VoiceDescriptor) error {
	out := make([]protocol.Voice, 0, len(voices))
	for _, v := range voices {
		out = append(out, protocol.Voice{
			Name:    v.Name,
			ID:      v.ID,
			Locale:  v.Locale,
			Local:   v.IsLocal,
			Default: v.IsDefault,
		})
	}
	return d.write(protocol.VoicesChanged{
		Type:      protocol.TypeVoicesChanged,
		SessionID: d.sessionID,
		Voices:    out,
	})
}

func (d *device) duration(msg protocol.Synthesize) time.Duration {
	rate := msg.Rate
	if rate <= 0 {
		rate = 1
	}
	dur := time.Duration(float64(d.perRune) * float64(utf8.RuneCountInString(msg.Text)) / rate)
	if dur < minSpeakDuration {
		dur = minSpeakDuration
	}
	return dur
}

func (d *device) synthesize(msg protocol.Synthesize) {
	id := msg.UtteranceID
	_ = d.event(id, protocol.EventStart, "")

	p := &playing{startedAt: time.Now(), remaining: d.duration(msg)}
	d.mu.Lock()
	d.playing[id] = p
	p.timer = time.AfterFunc(p.remaining, func() { d.finish(id) })
	d.mu.Unlock()
}

func (d *device) finish(id uint64) {
	d.mu.Lock()
	p, ok := d.playing[id]
	if !ok || p.paused {
		d.mu.Unlock()
		return
	}
	delete(d.playing, id)
	d.mu.Unlock()
	_ = d.event(id, protocol.EventEnd, "")
}

func (d *device) control(msg protocol.UtteranceControl) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.playing[msg.UtteranceID]
	if !ok {
		return
	}
	switch msg.Action {
	case protocol.ActionPause:
		if p.paused {
			return
		}
		p.timer.Stop()
		p.remaining -= time.Since(p.startedAt)
		if p.remaining < 0 {
			p.remaining = 0
		}
		p.paused = true
	case protocol.ActionResume:
		if !p.paused {
			return
		}
		p.paused = false
		p.startedAt = time.Now()
		id := msg.UtteranceID
		p.timer = time.AfterFunc(p.remaining, func() { d.finish(id) })
	case protocol.ActionCancel:
		// Cancelled utterances end silently.
		p.timer.Stop()
		delete(d.playing, msg.UtteranceID)
	}
}

func (d *device) event(id uint64, event, detail string) error {
	return d.write(protocol.UtteranceEvent{
		Type:        protocol.TypeUtteranceEvent,
		SessionID:   d.sessionID,
		UtteranceID: id,
		Event:       event,
		Detail:      detail,
	})
}

func (d *device) stopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.playing {
		p.timer.Stop()
		delete(d.playing, id)
	}
}

func (d *device) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.playing)
}
