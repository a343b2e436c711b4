package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/versevoice/internal/speech"
)

type Kind string

const (
	KindUtteranceStarted   Kind = "utterance_started"
	KindUtteranceCompleted Kind = "utterance_completed"
	KindUtteranceFailed    Kind = "utterance_failed"
	KindUtteranceCancelled Kind = "utterance_cancelled"
)

var (
	ErrQueueFull = errors.New("event queue full")
	ErrClosed    = errors.New("publisher closed")
)

// Event is one playback lifecycle step, published for external consumers
// such as listening-progress tracking.
type Event struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	ListenerID  string          `json:"listener_id"`
	UtteranceID uint64          `json:"utterance_id"`
	Kind        Kind            `json:"kind"`
	Language    speech.Language `json:"language"`
	VoiceName   string          `json:"voice_name,omitempty"`
	TextChars   int             `json:"text_chars"`
	Detail      string          `json:"detail,omitempty"`
	At          time.Time       `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// FromRecord converts a controller record into an event.
func FromRecord(sessionID, listenerID string, rec speech.UtteranceRecord) Event {
	return Event{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ListenerID:  listenerID,
		UtteranceID: rec.ID,
		Kind:        kindOf(rec.Outcome),
		Language:    rec.Language,
		VoiceName:   rec.VoiceName,
		TextChars:   rec.TextChars,
		Detail:      rec.Detail,
		At:          time.Now().UTC(),
	}
}

func kindOf(o speech.UtteranceOutcome) Kind {
	switch o {
	case speech.OutcomeStarted:
		return KindUtteranceStarted
	case speech.OutcomeCompleted:
		return KindUtteranceCompleted
	case speech.OutcomeFailed:
		return KindUtteranceFailed
	default:
		return KindUtteranceCancelled
	}
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
