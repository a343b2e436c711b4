package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/versevoice/internal/bridge"
	"github.com/ent0n29/versevoice/internal/config"
	"github.com/ent0n29/versevoice/internal/observability"
	"github.com/ent0n29/versevoice/internal/protocol"
	"github.com/ent0n29/versevoice/internal/session"
	"github.com/ent0n29/versevoice/internal/settings"
	"github.com/ent0n29/versevoice/internal/speech"
)

type Deps struct {
	Sessions *session.Manager
	Settings settings.Store
	// Defaults apply to listeners without saved settings.
	Defaults speech.ListenerPreferences
	Metrics  *observability.Metrics
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	settings settings.Store
	defaults speech.ListenerPreferences
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		settings: deps.Settings,
		defaults: deps.Defaults,
		metrics:  deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Native apps often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/voices/table", s.handleVoiceTable)
	r.Post("/v1/voices/rescan", s.handleVoiceRescan)

	r.Post("/v1/playback/session", s.handleCreateSession)
	r.Get("/v1/playback/ws", s.handleSessionWS)
	r.Route("/v1/playback/session/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Post("/end", s.handleEndSession)
		r.Post("/speak", s.handlePlayback(protocol.ActionSpeak))
		r.Post("/verse", s.handlePlayback(protocol.ActionVerse))
		r.Post("/pause", s.handlePlayback(protocol.ActionPause))
		r.Post("/resume", s.handlePlayback(protocol.ActionResume))
		r.Post("/stop", s.handlePlayback(protocol.ActionStop))
	})

	r.Get("/v1/settings/{listener}", s.handleGetSettings)
	r.Put("/v1/settings/{listener}", s.handlePutSettings)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
		"settings_store":  s.settingsMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"voice_platform": s.cfg.VoicePlatform,
		"settings_store": s.settingsMode(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.ListenerID = strings.TrimSpace(req.ListenerID)
	if req.ListenerID == "" {
		req.ListenerID = "anonymous"
	}
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if req.Platform == "" {
		req.Platform = s.cfg.VoicePlatform
	}
	switch req.Platform {
	case "device", "catalog", "mock":
	default:
		respondError(w, http.StatusBadRequest, "invalid_platform", "platform must be device, catalog or mock")
		return
	}

	sess, err := s.sessions.Create(req.ListenerID, req.Platform)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "platform_unavailable", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	resp := session.CreateResponse{
		SessionID:       sess.ID,
		ListenerID:      sess.ListenerID,
		Platform:        sess.Platform,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	}
	if sess.Platform == "device" {
		resp.WebSocketPath = "/v1/playback/ws?session_id=" + url.QueryEscape(sess.ID)
	}
	respondJSON(w, http.StatusCreated, resp)
}

type sessionResponse struct {
	Session         *session.Session       `json:"session"`
	Playback        speech.SessionSnapshot `json:"playback"`
	VoiceGeneration uint64                 `json:"voice_generation"`
	DeviceConnected *bool                  `json:"device_connected,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	resp := sessionResponse{Session: sess}
	if rt, err := s.sessions.Runtime(id); err == nil {
		resp.Playback = rt.Orchestrator.Snapshot()
		resp.VoiceGeneration = rt.Orchestrator.Catalog().Generation()
		if rt.Device != nil {
			connected := rt.Device.Connected()
			resp.DeviceConnected = &connected
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	rt, err := s.sessions.Runtime(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if rt.Device == nil {
		respondError(w, http.StatusConflict, "not_a_device_session", "session platform does not accept a device connection")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	device := rt.Device
	device.Attach(outbound)
	defer device.Detach(outbound)

	// Let the device render the current state right away.
	device.Notify(bridge.SessionStateMessage(sessionID, rt.Orchestrator.Snapshot()), protocol.TypeSessionState)
	catalog := rt.Orchestrator.Catalog()
	device.Notify(bridge.VoiceTableMessage(sessionID, catalog.Table(), catalog.Generation()), protocol.TypeVoiceTable)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveOutboundMessage("write_json", "error")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		_ = s.sessions.Touch(sessionID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			device.Notify(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}, protocol.TypeErrorEvent)
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.VoicesChanged:
			device.HandleVoices(msg)
		case protocol.UtteranceEvent:
			device.HandleUtteranceEvent(msg)
		case protocol.PlaybackControl:
			if err := s.applyControl(ctx, rt, msg); err != nil {
				code, _ := classifyPlaybackError(err)
				device.Notify(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      code,
					Source:    "playback",
					Retryable: errors.Is(err, speech.ErrSynthesisEngine),
					Detail:    err.Error(),
				}, protocol.TypeErrorEvent)
			}
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) settingsMode() string {
	if s.settings == nil {
		return "disabled"
	}
	return settings.Mode(s.settings)
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.VoicesChanged:
		return m.Type, true
	case protocol.UtteranceEvent:
		return m.Type, true
	case protocol.PlaybackControl:
		return m.Type, true
	case protocol.Synthesize:
		return m.Type, true
	case protocol.UtteranceControl:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.VoiceTable:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
