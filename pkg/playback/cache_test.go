package playback

import (
	"fmt"
	"testing"
)

func TestCacheEvictsOldestFirst(t *testing.T) {
	c := NewAudioCache(3)
	for i := 0; i < 4; i++ {
		c.Put("nova", fmt.Sprintf("sentence %d", i), []byte{byte(i)})
	}
	if _, ok := c.Get("nova", "sentence 0"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	for i := 1; i < 4; i++ {
		if _, ok := c.Get("nova", fmt.Sprintf("sentence %d", i)); !ok {
			t.Fatalf("entry %d should survive", i)
		}
	}
}

func TestCacheKeyIncludesVoice(t *testing.T) {
	c := NewAudioCache(8)
	c.Put("nova", "the same words", []byte{1})
	if _, ok := c.Get("echo", "the same words"); ok {
		t.Fatal("different voice must miss")
	}
	if _, ok := c.Get("nova", "the same words"); !ok {
		t.Fatal("same voice must hit")
	}
}

func TestCacheCopiesData(t *testing.T) {
	c := NewAudioCache(8)
	src := []byte{1, 2, 3}
	c.Put("nova", "mutate me", src)
	src[0] = 9
	got, _ := c.Get("nova", "mutate me")
	if got[0] != 1 {
		t.Fatal("cache must hold its own copy")
	}
}
