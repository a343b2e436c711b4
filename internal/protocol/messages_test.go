package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageVoicesChanged(t *testing.T) {
	raw := []byte(`{"type":"voices_changed","session_id":"s1","voices":[{"name":"Yuna","locale":"ko-KR","local":true},{"name":"Google 한국의","locale":"ko-KR","default":true}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	voices, ok := msg.(VoicesChanged)
	if !ok {
		t.Fatalf("message type = %T, want VoicesChanged", msg)
	}
	if len(voices.Voices) != 2 || !voices.Voices[0].Local || !voices.Voices[1].Default {
		t.Fatalf("unexpected voices: %+v", voices.Voices)
	}
}

func TestParseClientMessageEmptyVoiceListIsValid(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"voices_changed","session_id":"s1","voices":[]}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if got := len(msg.(VoicesChanged).Voices); got != 0 {
		t.Fatalf("voices = %d, want 0", got)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageUtteranceEvent(t *testing.T) {
	raw := []byte(`{"type":"utterance_event","session_id":"s1","utterance_id":7,"event":"error","detail":"synthesis-failed"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	evt, ok := msg.(UtteranceEvent)
	if !ok {
		t.Fatalf("message type = %T, want UtteranceEvent", msg)
	}
	if evt.UtteranceID != 7 || evt.Event != EventError || evt.Detail != "synthesis-failed" {
		t.Fatalf("unexpected utterance event: %+v", evt)
	}
}

func TestParseClientMessagePlaybackControl(t *testing.T) {
	raw := []byte(`{"type":"playback_control","session_id":"s1","action":"verse","text":"태초에","language":"ko","translation":"In the beginning","cross":true,"rate":1.25}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(PlaybackControl)
	if !ok {
		t.Fatalf("message type = %T, want PlaybackControl", msg)
	}
	if control.Action != ActionVerse || !control.Cross || control.Rate != 1.25 {
		t.Fatalf("unexpected playback control: %+v", control)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"voice without name":  `{"type":"voices_changed","session_id":"s1","voices":[{"locale":"ko-KR"}]}`,
		"missing session":     `{"type":"voices_changed","voices":[]}`,
		"zero utterance id":   `{"type":"utterance_event","session_id":"s1","utterance_id":0,"event":"end"}`,
		"unknown event":       `{"type":"utterance_event","session_id":"s1","utterance_id":3,"event":"boundary"}`,
		"speak without text":  `{"type":"playback_control","session_id":"s1","action":"speak","text":"  "}`,
		"unknown action":      `{"type":"playback_control","session_id":"s1","action":"rewind"}`,
		"malformed json":      `{"type":`,
		"missing action":      `{"type":"playback_control","session_id":"s1"}`,
	}
	for name, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func BenchmarkParseClientMessageUtteranceEvent(b *testing.B) {
	raw := []byte(`{"type":"utterance_event","session_id":"s1","utterance_id":42,"event":"end"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(UtteranceEvent); !ok {
			b.Fatalf("message type = %T, want UtteranceEvent", msg)
		}
	}
}
