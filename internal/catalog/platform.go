package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/versevoice/internal/speech"
)

const minUtteranceDuration = 50 * time.Millisecond

// File is the on-disk voice catalog.
type File struct {
	Voices []speech.VoiceDescriptor `yaml:"voices"`
}

// Platform serves voices from a YAML catalog and simulates synthesis with
// timers, so playback can run without a device attached.
type Platform struct {
	path   string
	logger *log.Logger
	engine *speech.MockPlatform

	mu      sync.RWMutex
	voices  []speech.VoiceDescriptor
	changed chan struct{}
}

// Open loads path once. perRune sets the simulated speaking time per rune
// at rate 1.
func Open(path string, perRune time.Duration, logger *log.Logger) (*Platform, error) {
	if logger == nil {
		logger = log.Default()
	}
	if perRune <= 0 {
		perRune = 60 * time.Millisecond
	}
	engine := speech.NewMockPlatform(nil)
	engine.PerRune = perRune
	engine.MinDuration = minUtteranceDuration

	p := &Platform{
		path:    path,
		logger:  logger,
		engine:  engine,
		changed: make(chan struct{}, 1),
	}
	voices, err := Load(path)
	if err != nil {
		return nil, err
	}
	p.voices = voices
	return p, nil
}

// Load reads and validates a catalog file.
func Load(path string) ([]speech.VoiceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice catalog %q: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse voice catalog %q: %w", path, err)
	}
	out := make([]speech.VoiceDescriptor, 0, len(f.Voices))
	for i, v := range f.Voices {
		v.Name = strings.TrimSpace(v.Name)
		v.ID = strings.TrimSpace(v.ID)
		v.Locale = strings.TrimSpace(v.Locale)
		if v.Name == "" && v.ID == "" {
			return nil, fmt.Errorf("voice catalog %q: voice %d has no name or id", path, i)
		}
		if v.Name == "" {
			v.Name = v.ID
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *Platform) ListVoices() []speech.VoiceDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]speech.VoiceDescriptor(nil), p.voices...)
}

func (p *Platform) VoicesChanged() <-chan struct{} { return p.changed }

func (p *Platform) Synthesize(ctx context.Context, u speech.Utterance) (speech.UtteranceHandle, error) {
	return p.engine.Synthesize(ctx, u)
}

// Reload rereads the catalog. A broken file keeps the last good list.
func (p *Platform) Reload() error {
	voices, err := Load(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.voices = voices
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
	return nil
}

// WatchAndReload watches the catalog's directory and reloads on changes to
// the catalog file. This blocks until done is closed.
func (p *Platform) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}
	target := filepath.Clean(p.path)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if err := p.Reload(); err != nil {
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					p.logger.Printf("voice catalog reload failed, keeping %d voices: %v", len(p.ListVoices()), err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
