package promptcache

import (
	"sync"

	"github.com/fabfab/ragsentry/internal/domain"
)

const stripeCount = 64

// Cache tracks, per (session, role) pair, whether the role's full system
// prompt has already been sent once this session. After the first call it
// hands back the short reference prompt instead, cutting the tokens spent
// re-describing a role on every turn. Access is striped by session id so
// turns on unrelated sessions usually take different stripe mutexes (two ids
// can hash to the same stripe), matching the teacher's per-conversation
// file-lock striping in internal/storage; the entries map itself is guarded
// by one shared RWMutex held only for each lookup or insert.
type Cache struct {
	stripes [stripeCount]sync.Mutex
	entries map[string]*domain.PromptCacheEntry
	mu      sync.RWMutex
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*domain.PromptCacheEntry)}
}

func stripeFor(sid string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(sid); i++ {
		h ^= uint32(sid[i])
		h *= 16777619
	}
	return int(h % stripeCount)
}

func key(sid, role string) string {
	return sid + "\x00" + role
}

// SystemPrompt returns the system prompt to send for this turn: the role's
// full prompt the first time a (session, role) pair is seen, the shorter
// reference prompt on every call after. When dynamicContext is true (RAG
// context or web-search results are present this turn) the cache is bypassed
// entirely and the full prompt is always returned, per spec.md §4.5 — an
// agent must never be asked to recall instructions for content it has not
// been shown yet.
func (c *Cache) SystemPrompt(sid, role string, dynamicContext bool) string {
	desc := Lookup(role)
	if dynamicContext {
		return desc.FullPrompt
	}

	idx := stripeFor(sid)
	c.stripes[idx].Lock()
	defer c.stripes[idx].Unlock()

	k := key(sid, role)

	c.mu.RLock()
	entry, seen := c.entries[k]
	c.mu.RUnlock()

	if seen && entry.FirstFullSent {
		return desc.ReferencePrompt
	}

	c.mu.Lock()
	c.entries[k] = &domain.PromptCacheEntry{
		SessionID:      sid,
		AgentRole:      role,
		FirstFullSent:  true,
		FullPromptText: desc.FullPrompt,
		RefPromptText:  desc.ReferencePrompt,
	}
	c.mu.Unlock()

	return desc.FullPrompt
}

// EvictSession drops every cached entry for a session. Nothing in this
// module calls it: deleting a session through DELETE /sessions/{sid} leaves
// that session's entries in the cache.
func (c *Cache) EvictSession(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := sid + "\x00"
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}
