package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/versevoice/internal/settings"
)

type settingsResponse struct {
	Settings settings.Settings `json:"settings"`
	Saved    bool              `json:"saved"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	listener := strings.TrimSpace(chi.URLParam(r, "listener"))
	st, err := s.loadSettings(r, listener)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "settings_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settingsResponse{Settings: st, Saved: st.Stored()})
}

// handlePutSettings applies the body over the current settings, so clients
// may send only the fields they change.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	listener := strings.TrimSpace(chi.URLParam(r, "listener"))
	st, err := s.loadSettings(r, listener)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "settings_unavailable", err.Error())
		return
	}
	if err := decodeJSON(r, &st); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// The path names the listener.
	st.ListenerID = listener

	saved, err := s.settings.Put(r.Context(), st)
	if err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			respondError(w, http.StatusBadRequest, "invalid_settings", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "settings_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settingsResponse{Settings: saved, Saved: true})
}

func (s *Server) loadSettings(r *http.Request, listener string) (settings.Settings, error) {
	if s.settings == nil {
		return settings.FromPreferences(listener, s.defaults), nil
	}
	st, err := s.settings.Get(r.Context(), listener)
	if err != nil {
		return settings.Settings{}, err
	}
	if !st.Stored() {
		return settings.FromPreferences(listener, s.defaults), nil
	}
	return st, nil
}
