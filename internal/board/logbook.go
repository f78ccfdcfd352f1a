package board

import (
	"sort"
	"sync"

	"dmxsync/internal/device"
)

// Logbook accumulates device log entries by sequence number. The device only
// keeps its last 30 lines, so entries are never dropped here.
type Logbook struct {
	mu      sync.Mutex
	entries map[uint32]device.LogEntry
}

func NewLogbook() *Logbook {
	return &Logbook{entries: map[uint32]device.LogEntry{}}
}

// Add merges entries and returns how many were new.
func (b *Logbook) Add(entries []device.LogEntry) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, e := range entries {
		if _, ok := b.entries[e.Count]; !ok {
			added++
		}
		b.entries[e.Count] = e
	}
	return added
}

// Entries returns every entry, latest first.
func (b *Logbook) Entries() []device.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]device.LogEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func (b *Logbook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
