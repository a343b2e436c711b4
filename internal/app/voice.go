package app

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/versevoice/internal/bridge"
	"github.com/ent0n29/versevoice/internal/catalog"
	"github.com/ent0n29/versevoice/internal/config"
	"github.com/ent0n29/versevoice/internal/observability"
	"github.com/ent0n29/versevoice/internal/speech"
)

const (
	PlatformDevice  = "device"
	PlatformCatalog = "catalog"
	PlatformMock    = "mock"
)

type platformSetup struct {
	platform speech.Platform
	device   *bridge.Platform
	detail   string
	cleanup  func()
}

// mockVoices stand in for a device's voice list when no catalog is used.
func mockVoices() []speech.VoiceDescriptor {
	return []speech.VoiceDescriptor{
		{Name: "Yuna", Locale: "ko-KR", IsLocal: true},
		{Name: "Google 한국의", Locale: "ko-KR", IsDefault: true},
		{Name: "Samantha", Locale: "en-US", IsLocal: true},
		{Name: "Tingting", Locale: "zh-CN", IsLocal: true},
		{Name: "Kyoko", Locale: "ja-JP", IsLocal: true},
	}
}

// normalizePlatform maps an empty request to the configured default.
func normalizePlatform(requested, fallback string) string {
	mode := strings.ToLower(strings.TrimSpace(requested))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(fallback))
	}
	if mode == "" {
		mode = PlatformDevice
	}
	return mode
}

func resolvePlatform(cfg config.Config, mode, sessionID string, metrics *observability.Metrics) (platformSetup, error) {
	switch mode {
	case PlatformDevice:
		p := bridge.New(sessionID, metrics)
		return platformSetup{
			platform: p,
			device:   p,
			detail:   "device (websocket)",
			cleanup:  p.Close,
		}, nil
	case PlatformCatalog:
		p, err := catalog.Open(cfg.VoiceCatalogPath, cfg.CatalogPerRune, log.Default())
		if err != nil {
			return platformSetup{}, fmt.Errorf("voice catalog init failed: %w", err)
		}
		done := make(chan struct{})
		go func() {
			if err := p.WatchAndReload(done); err != nil {
				log.Printf("voice catalog watch stopped for session %s: %v", sessionID, err)
			}
		}()
		return platformSetup{
			platform: p,
			detail:   fmt.Sprintf("catalog (%s)", cfg.VoiceCatalogPath),
			cleanup:  func() { close(done) },
		}, nil
	case PlatformMock:
		p := speech.NewMockPlatform(mockVoices())
		p.PerRune = 40 * time.Millisecond
		p.MinDuration = 50 * time.Millisecond
		return platformSetup{
			platform: p,
			detail:   "mock",
		}, nil
	default:
		return platformSetup{}, fmt.Errorf("invalid platform: %q (expected device|catalog|mock)", mode)
	}
}
