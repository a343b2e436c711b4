package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/versevoice/internal/bridge"
	"github.com/ent0n29/versevoice/internal/config"
	"github.com/ent0n29/versevoice/internal/events"
	"github.com/ent0n29/versevoice/internal/httpapi"
	"github.com/ent0n29/versevoice/internal/observability"
	"github.com/ent0n29/versevoice/internal/protocol"
	"github.com/ent0n29/versevoice/internal/session"
	"github.com/ent0n29/versevoice/internal/settings"
	"github.com/ent0n29/versevoice/internal/speech"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Settings settings.Store
	Events   events.Publisher
	Metrics  *observability.Metrics
	Keywords speech.KeywordTable

	// Cleanup should be called on shutdown to release external resources (DB, broker, sessions).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	defaults, err := listenerDefaults(cfg)
	if err != nil {
		return nil, err
	}

	keywords := speech.DefaultKeywordTable()
	if cfg.KeywordsPath != "" {
		keywords, err = speech.LoadKeywordTable(cfg.KeywordsPath)
		if err != nil {
			return nil, fmt.Errorf("keyword table init failed: %w", err)
		}
	}

	store, err := settings.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("settings store init failed: %w", err)
	}

	broker, err := events.NewPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("event publisher init failed: %w", err)
	}
	publisher := events.NewAsync(broker, cfg.EventQueueSize, metrics, log.Default())

	factory := newRuntimeFactory(cfg, keywords, defaults, store, publisher, metrics)
	sessions := session.NewManager(cfg.SessionInactivityTimeout, factory)
	sessions.SetExpireHook(func(s *session.Session) {
		log.Printf("session %s expired after inactivity", s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Settings: store,
		Defaults: defaults,
		Metrics:  metrics,
	})

	cleanup := func() error {
		sessions.Close()
		var errs []string
		if err := publisher.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Settings: store,
		Events:   publisher,
		Metrics:  metrics,
		Keywords: keywords,
		Cleanup:  cleanup,
	}, nil
}

func listenerDefaults(cfg config.Config) (speech.ListenerPreferences, error) {
	primary, err := speech.ParseLanguage(cfg.DefaultLanguage)
	if err != nil {
		return speech.ListenerPreferences{}, fmt.Errorf("DEFAULT_LANGUAGE: %w", err)
	}
	secondary, err := speech.ParseLanguage(cfg.SecondaryLanguage)
	if err != nil {
		return speech.ListenerPreferences{}, fmt.Errorf("SECONDARY_LANGUAGE: %w", err)
	}
	cross := cfg.DisplayMode == string(settings.DisplayCross)
	if cross && primary == secondary {
		return speech.ListenerPreferences{}, fmt.Errorf("DISPLAY_MODE=cross needs DEFAULT_LANGUAGE and SECONDARY_LANGUAGE to differ")
	}
	return speech.ListenerPreferences{
		DefaultLanguage:   primary,
		SecondaryLanguage: secondary,
		CrossMode:         cross,
		Rate:              cfg.PlaybackRate,
		Pitch:             cfg.PlaybackPitch,
		Volume:            cfg.PlaybackVolume,
	}, nil
}

// newRuntimeFactory builds one orchestrator per session and wires its
// lifecycle to the event publisher and, for devices, to the websocket.
func newRuntimeFactory(
	cfg config.Config,
	keywords speech.KeywordTable,
	defaults speech.ListenerPreferences,
	store settings.Store,
	publisher events.Publisher,
	metrics *observability.Metrics,
) session.Factory {
	return func(s session.Session) (*session.Runtime, error) {
		mode := normalizePlatform(s.Platform, cfg.VoicePlatform)
		setup, err := resolvePlatform(cfg, mode, s.ID, metrics)
		if err != nil {
			return nil, err
		}
		log.Printf("session %s: platform %s", s.ID, setup.detail)

		orch := speech.NewOrchestrator(speech.OrchestratorConfig{
			ListenerID:  s.ListenerID,
			Platform:    setup.platform,
			Keywords:    keywords,
			Preferences: settings.Source{Store: store, Fallback: defaults},
			Defaults:    defaults,
			Metrics:     metrics,
			Logger:      log.Default(),
		})

		orch.Controller().OnUtterance(func(rec speech.UtteranceRecord) {
			if err := publisher.Publish(context.Background(), events.FromRecord(s.ID, s.ListenerID, rec)); err != nil {
				log.Printf("session %s: drop %s event: %v", s.ID, rec.Outcome, err)
			}
		})

		if dev := setup.device; dev != nil {
			orch.Controller().OnStateChange(func(snap speech.SessionSnapshot) {
				dev.Notify(bridge.SessionStateMessage(s.ID, snap), protocol.TypeSessionState)
			})
			orch.Catalog().Subscribe(func(table speech.PreferredVoiceTable, gen uint64) {
				dev.Notify(bridge.VoiceTableMessage(s.ID, table, gen), protocol.TypeVoiceTable)
			})
		}

		return &session.Runtime{
			Orchestrator: orch,
			Device:       setup.device,
			Close:        setup.cleanup,
		}, nil
	}
}
