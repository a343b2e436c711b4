package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/versevoice/internal/bridge"
	"github.com/ent0n29/versevoice/internal/config"
	"github.com/ent0n29/versevoice/internal/observability"
	"github.com/ent0n29/versevoice/internal/session"
	"github.com/ent0n29/versevoice/internal/settings"
	"github.com/ent0n29/versevoice/internal/speech"
)

var namespaceSeq atomic.Int64

func testVoices() []speech.VoiceDescriptor {
	return []speech.VoiceDescriptor{
		{Name: "Yuna", Locale: "ko-KR", IsLocal: true},
		{Name: "Samantha", Locale: "en-US", IsLocal: true},
		{Name: "Tingting", Locale: "zh-CN", IsLocal: true},
	}
}

type testEnv struct {
	ts       *httptest.Server
	sessions *session.Manager
	store    settings.Store
}

// newTestServer wires sessions over manual mock platforms: utterances stay
// in progress until the test ends them.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		VoicePlatform:            "mock",
		NATSSubjectPrefix:        "versevoice.playback",
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), namespaceSeq.Add(1)))
	store := settings.NewInMemoryStore()
	defaults := speech.ListenerPreferences{
		DefaultLanguage:   speech.LanguageKorean,
		SecondaryLanguage: speech.LanguageEnglish,
		Rate:              1,
		Volume:            1,
	}

	factory := func(s session.Session) (*session.Runtime, error) {
		var (
			platform speech.Platform
			device   *bridge.Platform
		)
		switch s.Platform {
		case "device":
			device = bridge.New(s.ID, metrics)
			platform = device
		case "catalog":
			return nil, fmt.Errorf("catalog unavailable")
		default:
			platform = speech.NewMockPlatform(testVoices())
		}
		orch := speech.NewOrchestrator(speech.OrchestratorConfig{
			ListenerID:  s.ListenerID,
			Platform:    platform,
			Preferences: settings.Source{Store: store, Fallback: defaults},
			Defaults:    defaults,
			Metrics:     metrics,
		})
		rt := &session.Runtime{Orchestrator: orch, Device: device}
		if device != nil {
			rt.Close = device.Close
		}
		return rt, nil
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout, factory)
	srv := New(cfg, Deps{
		Sessions: sessions,
		Settings: store,
		Defaults: defaults,
		Metrics:  metrics,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		sessions.Close()
	})
	return &testEnv{ts: ts, sessions: sessions, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer res.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func (e *testEnv) createSession(t *testing.T, platform string) string {
	t.Helper()
	res, body := e.do(t, http.MethodPost, "/v1/playback/session", map[string]string{
		"listener_id": "listener-1",
		"platform":    platform,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d (%v)", res.StatusCode, http.StatusCreated, body)
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id in create response: %+v", body)
	}
	return id
}

func TestCreateSpeakAndEndSession(t *testing.T) {
	env := newTestServer(t)
	id := env.createSession(t, "mock")

	res, body := env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/speak", map[string]string{
		"text": "안녕하세요",
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("speak status = %d, want %d (%v)", res.StatusCode, http.StatusAccepted, body)
	}
	playback, _ := body["playback"].(map[string]any)
	if playback["state"] != "speaking" || playback["voice_name"] != "Yuna" {
		t.Fatalf("playback = %+v, want speaking with Yuna", playback)
	}

	res, body = env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/pause", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d", res.StatusCode)
	}
	if playback, _ := body["playback"].(map[string]any); playback["state"] != "paused" {
		t.Fatalf("after pause playback = %+v", playback)
	}

	res, body = env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/stop", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", res.StatusCode)
	}
	if playback, _ := body["playback"].(map[string]any); playback["state"] != "idle" {
		t.Fatalf("after stop playback = %+v", playback)
	}

	res, _ = env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/end", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res, body = env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/speak", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusGone {
		t.Fatalf("speak after end status = %d, want %d (%v)", res.StatusCode, http.StatusGone, body)
	}
}

func TestSpeakErrors(t *testing.T) {
	env := newTestServer(t)
	id := env.createSession(t, "mock")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"empty text", map[string]string{"text": "   "}, http.StatusBadRequest, "empty_text"},
		{"unsupported language", map[string]string{"text": "bonjour", "language": "fr"}, http.StatusBadRequest, "unsupported_language"},
		{"no voice for language", map[string]string{"text": "こんにちは", "language": "ja"}, http.StatusUnprocessableEntity, "no_voice_available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/speak", tt.body)
			if res.StatusCode != tt.status || body["code"] != tt.code {
				t.Fatalf("status = %d code = %v, want %d %s", res.StatusCode, body["code"], tt.status, tt.code)
			}
		})
	}
}

func TestDeviceSessionRequiresConnection(t *testing.T) {
	env := newTestServer(t)

	res, body := env.do(t, http.MethodPost, "/v1/playback/session", map[string]string{"platform": "device"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", res.StatusCode)
	}
	id, _ := body["session_id"].(string)
	if body["ws_path"] != "/v1/playback/ws?session_id="+id {
		t.Fatalf("ws_path = %v", body["ws_path"])
	}

	res, body = env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/speak", map[string]string{"text": "hello"})
	if res.StatusCode != http.StatusConflict || body["code"] != "device_not_connected" {
		t.Fatalf("speak status = %d code = %v, want 409 device_not_connected", res.StatusCode, body["code"])
	}
}

func TestCreateSessionRejectsUnknownPlatform(t *testing.T) {
	env := newTestServer(t)
	res, body := env.do(t, http.MethodPost, "/v1/playback/session", map[string]string{"platform": "cloud"})
	if res.StatusCode != http.StatusBadRequest || body["code"] != "invalid_platform" {
		t.Fatalf("status = %d code = %v, want 400 invalid_platform", res.StatusCode, body["code"])
	}

	res, body = env.do(t, http.MethodPost, "/v1/playback/session", map[string]string{"platform": "catalog"})
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("catalog status = %d, want 503 (%v)", res.StatusCode, body)
	}
}

func TestUnknownSession(t *testing.T) {
	env := newTestServer(t)
	for _, path := range []string{"/v1/playback/session/missing", "/v1/voices/table?session_id=missing"} {
		res, _ := env.do(t, http.MethodGet, path, nil)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s status = %d, want 404", path, res.StatusCode)
		}
	}
	res, _ := env.do(t, http.MethodPost, "/v1/playback/session/missing/speak", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("speak status = %d, want 404", res.StatusCode)
	}
}

func TestVoiceTableAndRescan(t *testing.T) {
	env := newTestServer(t)
	id := env.createSession(t, "mock")

	res, body := env.do(t, http.MethodGet, "/v1/voices/table?session_id="+id, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("table status = %d", res.StatusCode)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (%v)", len(entries), body)
	}
	missing, _ := body["missing"].([]any)
	if len(missing) != 1 || missing[0] != "ja" {
		t.Fatalf("missing = %v, want [ja]", missing)
	}
	before, _ := body["generation"].(float64)

	res, body = env.do(t, http.MethodPost, "/v1/voices/rescan?session_id="+id, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rescan status = %d", res.StatusCode)
	}
	if after, _ := body["generation"].(float64); after <= before {
		t.Fatalf("generation = %v, want > %v", after, before)
	}

	res, _ = env.do(t, http.MethodGet, "/v1/voices/table", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing session_id status = %d, want 400", res.StatusCode)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestServer(t)

	res, body := env.do(t, http.MethodGet, "/v1/settings/listener-1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", res.StatusCode)
	}
	if body["saved"] != false {
		t.Fatalf("saved = %v, want false", body["saved"])
	}
	st, _ := body["settings"].(map[string]any)
	if st["default_language"] != "ko" {
		t.Fatalf("settings = %+v, want configured defaults", st)
	}

	res, body = env.do(t, http.MethodPut, "/v1/settings/listener-1", map[string]any{
		"display_mode":       "cross",
		"secondary_language": "en",
		"rate":               1.5,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d (%v)", res.StatusCode, body)
	}

	got, err := env.store.Get(t.Context(), "listener-1")
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if got.DisplayMode != settings.DisplayCross || got.Rate != 1.5 || got.DefaultLanguage != speech.LanguageKorean {
		t.Fatalf("stored = %+v", got)
	}

	res, body = env.do(t, http.MethodPut, "/v1/settings/listener-1", map[string]any{"rate": 9})
	if res.StatusCode != http.StatusBadRequest || body["code"] != "invalid_settings" {
		t.Fatalf("invalid put status = %d code = %v", res.StatusCode, body["code"])
	}
}

func TestSavedSettingsDriveSpeak(t *testing.T) {
	env := newTestServer(t)
	res, _ := env.do(t, http.MethodPut, "/v1/settings/listener-1", map[string]any{
		"default_language": "en",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", res.StatusCode)
	}
	id := env.createSession(t, "mock")

	res, body := env.do(t, http.MethodPost, "/v1/playback/session/"+id+"/speak", map[string]string{"text": "hello"})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("speak status = %d (%v)", res.StatusCode, body)
	}
	if playback, _ := body["playback"].(map[string]any); playback["language"] != "en" || playback["voice_name"] != "Samantha" {
		t.Fatalf("playback = %+v, want en/Samantha", playback)
	}
}

func TestStatusReportsChecks(t *testing.T) {
	env := newTestServer(t)
	res, body := env.do(t, http.MethodGet, "/v1/status", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if body["voice_platform"] != "mock" || body["event_broker"] != "noop" || body["settings_store"] != "in-memory" {
		t.Fatalf("status body = %+v", body)
	}
	checks, _ := body["checks"].([]any)
	if len(checks) < 4 {
		t.Fatalf("checks = %v", checks)
	}
}
