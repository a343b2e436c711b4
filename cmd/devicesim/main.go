package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/versevoice/internal/catalog"
	"github.com/ent0n29/versevoice/internal/protocol"
)

type options struct {
	baseURL      string
	listenerID   string
	voicesPath   string
	language     string
	rounds       int
	perRune      time.Duration
	startDelay   time.Duration
	interSpeak   time.Duration
	speakTimeout time.Duration
	texts        []string
	verbose      bool
}

type createSessionRequest struct {
	ListenerID string `json:"listener_id,omitempty"`
	Platform   string `json:"platform"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type        string `json:"type"`
	State       string `json:"state,omitempty"`
	UtteranceID uint64 `json:"utterance_id,omitempty"`
	Generation  uint64 `json:"generation,omitempty"`
	Code        string `json:"code,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

var defaultTexts = []string{
	"태초에 하나님이 천지를 창조하시니라",
	"In the beginning God created the heaven and the earth.",
	"起初，神创造天地。",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "devicesim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "devicesim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var perRuneMS, startDelayMS, interSpeakMS, speakTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "versevoice base URL")
	flag.StringVar(&cfg.listenerID, "listener-id", "device-sim", "listener_id used for the simulated session")
	flag.StringVar(&cfg.voicesPath, "voices", "configs/voices.yaml", "YAML voice catalog reported as the device's voices")
	flag.StringVar(&cfg.language, "language", "", "language for every speak request (empty uses listener settings)")
	flag.IntVar(&cfg.rounds, "rounds", 6, "number of speak requests")
	flag.IntVar(&perRuneMS, "per-rune-ms", 20, "simulated speaking time per rune in milliseconds")
	flag.IntVar(&startDelayMS, "start-delay-ms", 300, "delay before the first speak request in milliseconds")
	flag.IntVar(&interSpeakMS, "inter-speak-ms", 100, "delay between speak requests in milliseconds")
	flag.IntVar(&speakTimeoutMS, "speak-timeout-ms", 15000, "timeout waiting for an utterance to finish in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "texts separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.rounds <= 0 {
		return options{}, fmt.Errorf("rounds must be > 0")
	}
	if perRuneMS < 1 || perRuneMS > 1000 {
		return options{}, fmt.Errorf("per-rune-ms must be in [1,1000]")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interSpeakMS < 0 {
		interSpeakMS = 0
	}
	if speakTimeoutMS < 1000 {
		speakTimeoutMS = 1000
	}
	cfg.perRune = time.Duration(perRuneMS) * time.Millisecond
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interSpeak = time.Duration(interSpeakMS) * time.Millisecond
	cfg.speakTimeout = time.Duration(speakTimeoutMS) * time.Millisecond

	texts, err := splitTexts(textsRaw)
	if err != nil {
		return options{}, err
	}
	cfg.texts = texts
	return cfg, nil
}

func splitTexts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultTexts...), nil
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("texts produced no non-empty utterances")
	}
	return out, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	voices, err := catalog.Load(cfg.voicesPath)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	dev := newDevice(conn, sessionID, cfg.perRune)
	defer dev.stopAll()

	if cfg.verbose {
		fmt.Printf("devicesim: session=%s voices=%d rounds=%d per_rune=%s\n", sessionID, len(voices), cfg.rounds, cfg.perRune)
	}
	if err := dev.reportVoices(voices); err != nil {
		return fmt.Errorf("report voices: %w", err)
	}

	idleCh := make(chan struct{}, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, dev, idleCh, readErrCh, cfg.verbose)

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	latencies := make([]time.Duration, 0, cfg.rounds)
	for i := 0; i < cfg.rounds; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}
		drain(idleCh)

		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("devicesim: speak %d/%d text=%q\n", i+1, cfg.rounds, text)
		}
		start := time.Now()
		if err := dev.write(protocol.PlaybackControl{
			Type:      protocol.TypePlaybackControl,
			SessionID: sessionID,
			Action:    protocol.ActionSpeak,
			Text:      text,
			Language:  cfg.language,
		}); err != nil {
			return fmt.Errorf("speak %d: %w", i+1, err)
		}
		if err := awaitIdle(idleCh, readErrCh, cfg.speakTimeout); err != nil {
			return fmt.Errorf("speak %d await idle: %w", i+1, err)
		}
		latencies = append(latencies, time.Since(start))
		if cfg.interSpeak > 0 && i < cfg.rounds-1 {
			time.Sleep(cfg.interSpeak)
		}
	}

	if cfg.verbose {
		fmt.Println(summarize(latencies))
	}
	return nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{ListenerID: cfg.listenerID, Platform: "device"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/playback/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/playback/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/playback/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop feeds server messages to the simulated device and reports each
// return to idle after speaking.
func readLoop(conn *websocket.Conn, dev *device, idleCh chan<- struct{}, readErrCh chan<- error, verbose bool) {
	speaking := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch protocol.MessageType(env.Type) {
		case protocol.TypeSynthesize:
			var msg protocol.Synthesize
			if err := json.Unmarshal(data, &msg); err == nil {
				dev.synthesize(msg)
			}
		case protocol.TypeUtteranceControl:
			var msg protocol.UtteranceControl
			if err := json.Unmarshal(data, &msg); err == nil {
				dev.control(msg)
			}
		case protocol.TypeSessionState:
			if env.State != "idle" {
				speaking = true
				continue
			}
			if speaking {
				speaking = false
				select {
				case idleCh <- struct{}{}:
				default:
				}
			}
		case protocol.TypeVoiceTable:
			if verbose {
				fmt.Printf("devicesim: voice_table generation=%d\n", env.Generation)
			}
		case protocol.TypeErrorEvent:
			if verbose {
				fmt.Fprintf(os.Stderr, "devicesim: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

func awaitIdle(idleCh <-chan struct{}, readErrCh <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idleCh:
		return nil
	case err := <-readErrCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func summarize(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return "devicesim: no utterances completed"
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	p95 := sorted[(len(sorted)*95+99)/100-1]
	return fmt.Sprintf("devicesim: utterances=%d min=%s avg=%s p95=%s max=%s",
		len(sorted),
		sorted[0].Round(time.Millisecond),
		(total / time.Duration(len(sorted))).Round(time.Millisecond),
		p95.Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
	)
}
