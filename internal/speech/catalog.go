package speech

import (
	"context"
	"sync"
	"sync/atomic"
)

// Catalog holds the current preferred-voice snapshot. Every rescan replaces
// the snapshot wholesale; readers never observe a partial table.
type Catalog struct {
	keywords   KeywordTable
	table      atomic.Pointer[PreferredVoiceTable]
	voices     atomic.Pointer[[]VoiceDescriptor]
	generation atomic.Uint64

	// scanMu orders whole rescans, from listing voices to notifying
	// listeners, so a slow scan never overwrites a newer one.
	scanMu sync.Mutex

	mu        sync.Mutex
	listeners []func(PreferredVoiceTable, uint64)
}

func NewCatalog(keywords KeywordTable) *Catalog {
	c := &Catalog{keywords: keywords.normalized()}
	empty := PreferredVoiceTable{entries: map[Language]ScoredVoice{}}
	c.table.Store(&empty)
	none := []VoiceDescriptor{}
	c.voices.Store(&none)
	return c
}

func (c *Catalog) Table() PreferredVoiceTable {
	return *c.table.Load()
}

// Voices returns the voice list used by the latest rescan.
func (c *Catalog) Voices() []VoiceDescriptor {
	src := *c.voices.Load()
	out := make([]VoiceDescriptor, len(src))
	copy(out, src)
	return out
}

func (c *Catalog) Generation() uint64 {
	return c.generation.Load()
}

func (c *Catalog) KeywordVersion() string {
	return c.keywords.Version
}

// Subscribe registers fn to run after every swap.
func (c *Catalog) Subscribe(fn func(PreferredVoiceTable, uint64)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Refresh rescans voices and swaps in the new table.
func (c *Catalog) Refresh(voices []VoiceDescriptor) PreferredVoiceTable {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.refreshLocked(voices)
}

// RefreshFrom lists p's voices and rescans them as one step.
func (c *Catalog) RefreshFrom(p Platform) PreferredVoiceTable {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.refreshLocked(p.ListVoices())
}

func (c *Catalog) refreshLocked(voices []VoiceDescriptor) PreferredVoiceTable {
	snapshot := make([]VoiceDescriptor, len(voices))
	copy(snapshot, voices)
	table := c.keywords.Rescan(snapshot)

	c.mu.Lock()
	c.voices.Store(&snapshot)
	c.table.Store(&table)
	gen := c.generation.Add(1)
	listeners := make([]func(PreferredVoiceTable, uint64), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(table, gen)
	}
	return table
}

// Watch scans once, then rescans on every platform notification until ctx
// is done. An empty first scan is not sticky: the next notification
// replaces it.
func (c *Catalog) Watch(ctx context.Context, p Platform) {
	c.RefreshFrom(p)
	changed := p.VoicesChanged()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changed:
			if !ok {
				return
			}
			c.RefreshFrom(p)
		}
	}
}
