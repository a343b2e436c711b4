package speech

import "context"

type UtteranceEventType string

const (
	UtteranceEventStart UtteranceEventType = "start"
	UtteranceEventEnd   UtteranceEventType = "end"
	UtteranceEventError UtteranceEventType = "error"
)

type UtteranceEvent struct {
	Type   UtteranceEventType
	Detail string
}

// Utterance is one synthesis request handed to the platform.
type Utterance struct {
	ID       uint64
	Text     string
	Language Language
	Voice    VoiceDescriptor
	Rate     float64
	Pitch    float64
	Volume   float64
}

// UtteranceHandle controls one in-flight utterance. Events delivers at most
// one terminal event (end or error) and is closed afterwards. A cancelled
// handle may close Events without a terminal event.
type UtteranceHandle interface {
	Events() <-chan UtteranceEvent
	Pause() error
	Resume() error
	Cancel() error
}

// Platform is the speech engine the controller drives.
type Platform interface {
	ListVoices() []VoiceDescriptor
	// VoicesChanged fires whenever the enumerable voice set changes.
	VoicesChanged() <-chan struct{}
	Synthesize(ctx context.Context, u Utterance) (UtteranceHandle, error)
}
