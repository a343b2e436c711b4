package catalog

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/versevoice/internal/speech"
)

const sampleCatalog = `voices:
  - name: Yuna
    locale: ko-KR
    local: true
  - name: Google 한국의
    locale: ko-KR
    default: true
  - name: Samantha
    locale: en-US
    local: true
`

func writeCatalog(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "voices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), sampleCatalog)

	voices, err := Load(path)
	require.NoError(t, err)
	require.Len(t, voices, 3)
	require.Equal(t, "Yuna", voices[0].Name)
	require.True(t, voices[0].IsLocal)
	require.True(t, voices[1].IsDefault)
}

func TestLoadCatalogRejectsNamelessVoice(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), "voices:\n  - locale: en-US\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadCatalogFallsBackToID(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), "voices:\n  - id: com.apple.voice.kyoko\n    locale: ja-JP\n")

	voices, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "com.apple.voice.kyoko", voices[0].Name)
}

func TestPlatformPicksPreferredKoreanVoice(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), sampleCatalog)
	p, err := Open(path, time.Millisecond, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	table := speech.Rescan(p.ListVoices())
	ko, ok := table.Get(speech.LanguageKorean)
	require.True(t, ok)
	require.Equal(t, "Yuna", ko.Voice.Name)
	require.Equal(t, 100, ko.QualityScore)
}

func TestPlatformSimulatesSynthesis(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), sampleCatalog)
	p, err := Open(path, time.Millisecond, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	h, err := p.Synthesize(context.Background(), speech.Utterance{ID: 1, Text: "Jesus wept.", Rate: 1})
	require.NoError(t, err)

	var got []speech.UtteranceEventType
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case evt, ok := <-h.Events():
			if !ok {
				done = true
				break
			}
			got = append(got, evt.Type)
		case <-timeout:
			t.Fatalf("utterance did not finish")
		}
	}
	require.Equal(t, []speech.UtteranceEventType{speech.UtteranceEventStart, speech.UtteranceEventEnd}, got)
}

func TestPlatformReloadKeepsLastGoodList(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)
	p, err := Open(path, time.Millisecond, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	writeCatalog(t, dir, "voices: [")
	require.Error(t, p.Reload())
	require.Len(t, p.ListVoices(), 3)
}

func TestWatchAndReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sampleCatalog)
	p, err := Open(path, time.Millisecond, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	done := make(chan struct{})
	watchErr := make(chan error, 1)
	go func() { watchErr <- p.WatchAndReload(done) }()
	defer func() {
		close(done)
		require.NoError(t, <-watchErr)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeCatalog(t, dir, sampleCatalog+"  - name: Kyoko\n    locale: ja-JP\n    local: true\n")

	select {
	case <-p.VoicesChanged():
	case <-time.After(3 * time.Second):
		t.Fatalf("catalog change was not detected")
	}
	require.Eventually(t, func() bool { return len(p.ListVoices()) == 4 }, 2*time.Second, 10*time.Millisecond)
}
