package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/versevoice/internal/bridge"
	"github.com/ent0n29/versevoice/internal/protocol"
	"github.com/ent0n29/versevoice/internal/session"
	"github.com/ent0n29/versevoice/internal/speech"
)

var (
	errDeviceNotConnected = errors.New("device not connected")
	errInvalidControl     = errors.New("invalid playback control")
)

type playbackRequest struct {
	Text                string   `json:"text"`
	Language            string   `json:"language"`
	Translation         string   `json:"translation"`
	TranslationLanguage string   `json:"translation_language"`
	Cross               bool     `json:"cross"`
	Rate                float64  `json:"rate"`
	Pitch               *float64 `json:"pitch"`
	Volume              float64  `json:"volume"`
	VoiceName           string   `json:"voice_name"`
}

type playbackResponse struct {
	SessionID string                 `json:"session_id"`
	Action    string                 `json:"action"`
	Playback  speech.SessionSnapshot `json:"playback"`
}

func (s *Server) handlePlayback(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rt, err := s.sessions.Runtime(id)
		if err != nil {
			status := http.StatusNotFound
			if errors.Is(err, session.ErrEnded) {
				status = http.StatusGone
			}
			respondError(w, status, "session_not_found", err.Error())
			return
		}

		var req playbackRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		_ = s.sessions.Touch(id)

		ctrl := protocol.PlaybackControl{
			Type:                protocol.TypePlaybackControl,
			SessionID:           id,
			Action:              action,
			Text:                req.Text,
			Language:            req.Language,
			Translation:         req.Translation,
			TranslationLanguage: req.TranslationLanguage,
			Cross:               req.Cross,
			Rate:                req.Rate,
			Pitch:               req.Pitch,
			Volume:              req.Volume,
			VoiceName:           req.VoiceName,
		}
		if err := s.applyControl(r.Context(), rt, ctrl); err != nil {
			code, status := classifyPlaybackError(err)
			respondError(w, status, code, err.Error())
			return
		}

		status := http.StatusOK
		if action == protocol.ActionSpeak || action == protocol.ActionVerse {
			status = http.StatusAccepted
		}
		respondJSON(w, status, playbackResponse{
			SessionID: id,
			Action:    action,
			Playback:  rt.Orchestrator.Snapshot(),
		})
	}
}

// applyControl runs one playback command. REST and websocket controls share
// it.
func (s *Server) applyControl(ctx context.Context, rt *session.Runtime, ctrl protocol.PlaybackControl) error {
	o := rt.Orchestrator
	switch ctrl.Action {
	case protocol.ActionPause:
		o.Pause()
		return nil
	case protocol.ActionResume:
		o.Resume()
		return nil
	case protocol.ActionStop:
		o.Stop()
		return nil
	case protocol.ActionSpeak, protocol.ActionVerse:
	default:
		return fmt.Errorf("%w: unknown action %q", errInvalidControl, ctrl.Action)
	}

	if rt.Device != nil && !rt.Device.Connected() {
		return errDeviceNotConnected
	}
	lang, err := parseOptionalLanguage(ctrl.Language)
	if err != nil {
		return err
	}
	opts := speech.Options{
		Rate:      ctrl.Rate,
		Volume:    ctrl.Volume,
		VoiceName: strings.TrimSpace(ctrl.VoiceName),
	}
	if ctrl.Pitch != nil {
		opts = opts.WithPitch(*ctrl.Pitch)
	}

	if ctrl.Action == protocol.ActionSpeak {
		return o.Speak(ctx, speech.SpeakRequest{
			Text:     ctrl.Text,
			Language: lang,
			Options:  opts,
		})
	}

	translationLang, err := parseOptionalLanguage(ctrl.TranslationLanguage)
	if err != nil {
		return err
	}
	return o.SpeakVerse(ctx, speech.VerseRequest{
		Text:                ctrl.Text,
		Language:            lang,
		Translation:         ctrl.Translation,
		TranslationLanguage: translationLang,
		Cross:               ctrl.Cross,
		Options:             opts,
	})
}

func parseOptionalLanguage(raw string) (speech.Language, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	lang, err := speech.ParseLanguage(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", speech.ErrUnsupportedLanguage, raw)
	}
	return lang, nil
}

func classifyPlaybackError(err error) (string, int) {
	switch {
	case errors.Is(err, speech.ErrEmptyText):
		return "empty_text", http.StatusBadRequest
	case errors.Is(err, speech.ErrUnsupportedLanguage):
		return "unsupported_language", http.StatusBadRequest
	case errors.Is(err, errInvalidControl):
		return "invalid_request", http.StatusBadRequest
	case errors.Is(err, speech.ErrNoVoiceAvailable):
		return "no_voice_available", http.StatusUnprocessableEntity
	case errors.Is(err, errDeviceNotConnected), errors.Is(err, bridge.ErrNotConnected):
		return "device_not_connected", http.StatusConflict
	case errors.Is(err, speech.ErrSynthesisEngine):
		return "synthesis_failed", http.StatusBadGateway
	default:
		return "internal_error", http.StatusInternalServerError
	}
}
