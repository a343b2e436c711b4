package httpapi

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ent0n29/versevoice/internal/catalog"
	"github.com/ent0n29/versevoice/internal/speech"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	VoicePlatform  string        `json:"voice_platform"`
	SettingsStore  string        `json:"settings_store"`
	EventBroker    string        `json:"event_broker"`
	ActiveSessions int           `json:"active_sessions"`
	Checks         []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	platform := strings.ToLower(strings.TrimSpace(s.cfg.VoicePlatform))
	if platform == "" {
		platform = "device"
	}
	broker := "noop"
	if strings.TrimSpace(s.cfg.NATSURL) != "" {
		broker = "nats"
	}

	checks := make([]statusCheck, 0, 6)
	checks = append(checks, statusCheck{
		ID:     "voice_platform",
		Status: "ok",
		Label:  "Voice platform",
		Detail: platform,
	})
	switch platform {
	case "catalog":
		checks = append(checks, s.catalogCheck())
	case "mock":
		checks = append(checks, statusCheck{
			ID:     "mock_voice",
			Status: "warn",
			Label:  "Voice platform is mock",
			Detail: "Utterances are timed, no audio is rendered.",
			Fix:    "Set VOICE_PLATFORM=device and connect a device over /v1/playback/ws.",
		})
	case "device":
	default:
		checks = append(checks, statusCheck{
			ID:     "voice_platform_unknown",
			Status: "error",
			Label:  "Voice platform",
			Detail: "unknown platform; expected device|catalog|mock",
		})
	}
	checks = append(checks, s.keywordsCheck())

	switch mode := s.settingsMode(); mode {
	case "postgres":
		checks = append(checks, statusCheck{
			ID:     "settings_store",
			Status: "ok",
			Label:  "Listener settings",
			Detail: "postgres",
		})
	default:
		checks = append(checks, statusCheck{
			ID:     "settings_store",
			Status: "warn",
			Label:  "Listener settings",
			Detail: mode,
			Fix:    "Set DATABASE_URL to persist listener settings across restarts.",
		})
	}

	if broker == "nats" {
		checks = append(checks, statusCheck{
			ID:     "event_broker",
			Status: "ok",
			Label:  "Playback events",
			Detail: fmt.Sprintf("nats (%s.*)", s.cfg.NATSSubjectPrefix),
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "event_broker",
			Status: "warn",
			Label:  "Playback events",
			Detail: "not published",
			Fix:    "Set NATS_URL to publish utterance events.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		VoicePlatform:  platform,
		SettingsStore:  s.settingsMode(),
		EventBroker:    broker,
		ActiveSessions: s.sessions.ActiveCount(),
		Checks:         checks,
	})
}

func (s *Server) catalogCheck() statusCheck {
	path := strings.TrimSpace(s.cfg.VoiceCatalogPath)
	voices, err := catalog.Load(path)
	if err != nil {
		return statusCheck{
			ID:     "voice_catalog",
			Status: "error",
			Label:  "Voice catalog",
			Detail: err.Error(),
			Fix:    "Point VOICE_CATALOG_PATH at a readable YAML voice list.",
		}
	}
	table := speech.Rescan(voices)
	if table.Len() < len(speech.SupportedLanguages()) {
		return statusCheck{
			ID:     "voice_catalog",
			Status: "warn",
			Label:  "Voice catalog",
			Detail: fmt.Sprintf("%s: %d voices, %d of %d languages covered", path, len(voices), table.Len(), len(speech.SupportedLanguages())),
		}
	}
	return statusCheck{
		ID:     "voice_catalog",
		Status: "ok",
		Label:  "Voice catalog",
		Detail: fmt.Sprintf("%s: %d voices", path, len(voices)),
	}
}

func (s *Server) keywordsCheck() statusCheck {
	path := strings.TrimSpace(s.cfg.KeywordsPath)
	if path == "" {
		return statusCheck{
			ID:     "keywords",
			Status: "ok",
			Label:  "Quality keywords",
			Detail: "built-in " + speech.DefaultKeywordTable().Version,
		}
	}
	if _, err := os.Stat(path); err != nil {
		return statusCheck{
			ID:     "keywords",
			Status: "error",
			Label:  "Quality keywords",
			Detail: err.Error(),
			Fix:    "Fix KEYWORDS_PATH or unset it to use the built-in table.",
		}
	}
	kt, err := speech.LoadKeywordTable(path)
	if err != nil {
		return statusCheck{
			ID:     "keywords",
			Status: "error",
			Label:  "Quality keywords",
			Detail: err.Error(),
		}
	}
	return statusCheck{
		ID:     "keywords",
		Status: "ok",
		Label:  "Quality keywords",
		Detail: fmt.Sprintf("%s (%s)", path, kt.Version),
	}
}
