package session

import (
	"strings"
	"sync"
)

// Cache holds the live character snapshots for one party. A snapshot is
// present iff at least one socket is bound to that character; multiple
// sockets for the same character share one entry via refcount.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	snap *Snapshot
	refs int
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Install adds a snapshot, or bumps the refcount when the character is
// already cached. The existing snapshot wins on re-connect so in-session
// mutations survive a second socket joining.
func (c *Cache) Install(snap *Snapshot) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[snap.ID]; ok {
		e.refs++
		return e.snap
	}
	c.entries[snap.ID] = &entry{snap: snap, refs: 1}
	return snap
}

// Release drops one socket's hold on a character. Returns true when the
// snapshot was evicted.
func (c *Cache) Release(characterID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[characterID]
	if !ok {
		return false
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, characterID)
		return true
	}
	return false
}

// Get returns the snapshot for a character id, or nil.
func (c *Cache) Get(characterID string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[characterID]; ok {
		return e.snap
	}
	return nil
}

// NormalizeName lowercases and treats underscores as spaces, so
// "@First_Last" addresses "First Last".
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", " "))
}

// ByName finds a cached snapshot by normalized display name.
func (c *Cache) ByName(name string) *Snapshot {
	want := NormalizeName(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if NormalizeName(e.snap.Name) == want {
			return e.snap
		}
	}
	return nil
}

// All returns the cached snapshots in no particular order.
func (c *Cache) All() []*Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Snapshot, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.snap)
	}
	return out
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
