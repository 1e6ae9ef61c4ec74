package playback

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

const DefaultCacheSize = 32

// AudioCache is a bounded cache of synthesized clips. The key is
// sha256(voice + ":" + text) so a voice change causes misses until the
// voice is switched back. Insertion order is tracked and the oldest entry
// is evicted when the cache is full.
type AudioCache struct {
	mu      sync.Mutex
	max     int
	entries map[string][]byte
	order   []string
	hits    int64
	misses  int64
}

func NewAudioCache(max int) *AudioCache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &AudioCache{
		max:     max,
		entries: make(map[string][]byte, max),
	}
}

func cacheKey(voice, text string) string {
	sum := sha256.Sum256([]byte(voice + ":" + text))
	return hex.EncodeToString(sum[:])
}

func (c *AudioCache) Get(voice, text string) ([]byte, bool) {
	key := cacheKey(voice, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

func (c *AudioCache) Put(voice, text string, audio []byte) {
	if len(audio) == 0 {
		return
	}
	key := cacheKey(voice, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	for len(c.entries) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	cp := make([]byte, len(audio))
	copy(cp, audio)
	c.entries[key] = cp
	c.order = append(c.order, key)
}

func (c *AudioCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
