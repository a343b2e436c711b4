package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// device -> service
	TypeVoicesChanged   MessageType = "voices_changed"
	TypeUtteranceEvent  MessageType = "utterance_event"
	TypePlaybackControl MessageType = "playback_control"

	// service -> device
	TypeSynthesize       MessageType = "synthesize"
	TypeUtteranceControl MessageType = "utterance_control"
	TypeSessionState     MessageType = "session_state"
	TypeVoiceTable       MessageType = "voice_table"
	TypeErrorEvent       MessageType = "error_event"
)

const (
	EventStart = "start"
	EventEnd   = "end"
	EventError = "error"
)

const (
	ActionSpeak  = "speak"
	ActionVerse  = "verse"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
	ActionCancel = "cancel"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Voice struct {
	Name    string `json:"name"`
	ID      string `json:"id,omitempty"`
	Locale  string `json:"locale"`
	Local   bool   `json:"local"`
	Default bool   `json:"default"`
}

type VoicesChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Voices    []Voice     `json:"voices"`
}

type UtteranceEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID uint64      `json:"utterance_id"`
	Event       string      `json:"event"`
	Detail      string      `json:"detail,omitempty"`
}

type PlaybackControl struct {
	Type                MessageType `json:"type"`
	SessionID           string      `json:"session_id"`
	Action              string      `json:"action"`
	Text                string      `json:"text,omitempty"`
	Language            string      `json:"language,omitempty"`
	Translation         string      `json:"translation,omitempty"`
	TranslationLanguage string      `json:"translation_language,omitempty"`
	Cross               bool        `json:"cross,omitempty"`
	Rate                float64     `json:"rate,omitempty"`
	Pitch               *float64    `json:"pitch,omitempty"`
	Volume              float64     `json:"volume,omitempty"`
	VoiceName           string      `json:"voice_name,omitempty"`
}

type Synthesize struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID uint64      `json:"utterance_id"`
	Text        string      `json:"text"`
	Language    string      `json:"language"`
	VoiceName   string      `json:"voice_name"`
	VoiceID     string      `json:"voice_id,omitempty"`
	Locale      string      `json:"locale"`
	Rate        float64     `json:"rate"`
	Pitch       float64     `json:"pitch"`
	Volume      float64     `json:"volume"`
}

type UtteranceControl struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	UtteranceID uint64      `json:"utterance_id"`
	Action      string      `json:"action"`
}

type SessionState struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	State       string      `json:"state"`
	ActiveText  string      `json:"active_text,omitempty"`
	Language    string      `json:"language,omitempty"`
	VoiceName   string      `json:"voice_name,omitempty"`
	UtteranceID uint64      `json:"utterance_id,omitempty"`
	HasFollowUp bool        `json:"has_follow_up"`
}

type VoiceTableEntry struct {
	Language     string `json:"language"`
	VoiceName    string `json:"voice_name"`
	VoiceID      string `json:"voice_id,omitempty"`
	Locale       string `json:"locale"`
	QualityScore int    `json:"quality_score"`
	Preferred    bool   `json:"preferred_engine"`
}

type VoiceTable struct {
	Type       MessageType       `json:"type"`
	SessionID  string            `json:"session_id"`
	Generation uint64            `json:"generation"`
	Entries    []VoiceTableEntry `json:"entries"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeVoicesChanged:
		var msg VoicesChanged
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid voices_changed")
		}
		for i, v := range msg.Voices {
			if strings.TrimSpace(v.Name) == "" && strings.TrimSpace(v.ID) == "" {
				return nil, fmt.Errorf("invalid voices_changed: voice %d has no name or id", i)
			}
		}
		return msg, nil
	case TypeUtteranceEvent:
		var msg UtteranceEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.UtteranceID == 0 {
			return nil, errors.New("invalid utterance_event")
		}
		switch msg.Event {
		case EventStart, EventEnd, EventError:
		default:
			return nil, fmt.Errorf("invalid utterance_event: unknown event %q", msg.Event)
		}
		return msg, nil
	case TypePlaybackControl:
		var msg PlaybackControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid playback_control")
		}
		switch msg.Action {
		case ActionSpeak, ActionVerse:
			if strings.TrimSpace(msg.Text) == "" {
				return nil, fmt.Errorf("invalid playback_control: %s requires text", msg.Action)
			}
		case ActionPause, ActionResume, ActionStop:
		default:
			return nil, fmt.Errorf("invalid playback_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
