package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/versevoice/internal/session"
	"github.com/ent0n29/versevoice/internal/speech"
)

type voiceTableEntry struct {
	Language          speech.Language        `json:"language"`
	Voice             speech.VoiceDescriptor `json:"voice"`
	QualityScore      int                    `json:"quality_score"`
	IsPreferredEngine bool                   `json:"preferred_engine"`
}

type voiceTableResponse struct {
	SessionID      string            `json:"session_id"`
	Generation     uint64            `json:"generation"`
	KeywordVersion string            `json:"keyword_version"`
	VoiceCount     int               `json:"voice_count"`
	Entries        []voiceTableEntry `json:"entries"`
	Missing        []speech.Language `json:"missing"`
}

func (s *Server) handleVoiceTable(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromQuery(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, buildVoiceTable(r.URL.Query().Get("session_id"), rt.Orchestrator.Catalog()))
}

// handleVoiceRescan forces a rescan, e.g. after installing a voice pack.
func (s *Server) handleVoiceRescan(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeFromQuery(w, r)
	if !ok {
		return
	}
	rt.Orchestrator.Refresh()
	respondJSON(w, http.StatusOK, buildVoiceTable(r.URL.Query().Get("session_id"), rt.Orchestrator.Catalog()))
}

func (s *Server) runtimeFromQuery(w http.ResponseWriter, r *http.Request) (*session.Runtime, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return nil, false
	}
	rt, err := s.sessions.Runtime(id)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, session.ErrEnded) {
			status = http.StatusGone
		}
		respondError(w, status, "session_not_found", err.Error())
		return nil, false
	}
	return rt, true
}

func buildVoiceTable(sessionID string, catalog *speech.Catalog) voiceTableResponse {
	table := catalog.Table()
	resp := voiceTableResponse{
		SessionID:      sessionID,
		Generation:     catalog.Generation(),
		KeywordVersion: catalog.KeywordVersion(),
		VoiceCount:     len(catalog.Voices()),
		Entries:        make([]voiceTableEntry, 0, table.Len()),
		Missing:        []speech.Language{},
	}
	for _, lang := range speech.SupportedLanguages() {
		sv, ok := table.Get(lang)
		if !ok {
			resp.Missing = append(resp.Missing, lang)
			continue
		}
		resp.Entries = append(resp.Entries, voiceTableEntry{
			Language:          lang,
			Voice:             sv.Voice,
			QualityScore:      sv.QualityScore,
			IsPreferredEngine: sv.IsPreferredEngine,
		})
	}
	return resp
}
