package llmclient

import (
	"strings"
	"testing"
)

func feed(seg *Segmenter, text string) []string {
	var out []string
	// Feed in small chunks to mimic token streaming.
	for len(text) > 0 {
		n := 5
		if n > len(text) {
			n = len(text)
		}
		out = append(out, seg.Push(text[:n])...)
		text = text[n:]
	}
	return out
}

func TestShortFragmentsHeld(t *testing.T) {
	seg := NewSegmenter(24, 360)
	got := feed(seg, "Sure. Bring the water to a rolling boil. ")
	if len(got) != 1 {
		t.Fatalf("expected one sentence, got %v", got)
	}
	if got[0] != "Sure. Bring the water to a rolling boil." {
		t.Fatalf("fragment not joined: %q", got[0])
	}
}

func TestAbbreviationsDoNotSplit(t *testing.T) {
	seg := NewSegmenter(10, 360)
	got := feed(seg, "Use a pinch of herbs, e.g. thyme or oregano, for flavor. ")
	if len(got) != 1 {
		t.Fatalf("expected one sentence, got %v", got)
	}
	if strings.HasSuffix(got[0], "e.g.") {
		t.Fatalf("split at abbreviation: %q", got[0])
	}
}

func TestTemperatureSplits(t *testing.T) {
	seg := NewSegmenter(10, 360)
	got := feed(seg, "Preheat the oven to 350°F. Then grease the pan. ")
	if len(got) != 2 {
		t.Fatalf("expected two sentences, got %v", got)
	}
	if got[0] != "Preheat the oven to 350°F." {
		t.Fatalf("unexpected first sentence %q", got[0])
	}
}

func TestForceSplitAtWordBoundary(t *testing.T) {
	seg := NewSegmenter(24, 60)
	long := strings.Repeat("stir the sauce gently ", 8)
	got := feed(seg, long)
	if len(got) == 0 {
		t.Fatal("expected forced splits")
	}
	for _, s := range got {
		if strings.Contains(s, "  ") {
			t.Fatalf("double space in %q", s)
		}
		for _, w := range strings.Fields(s) {
			if w != "stir" && w != "the" && w != "sauce" && w != "gently" {
				t.Fatalf("word split mid-token: %q in %q", w, s)
			}
		}
	}
}

func TestFlushDrainsRemainder(t *testing.T) {
	seg := NewSegmenter(24, 360)
	seg.Push("And simmer until thick")
	if rest := seg.Flush(); rest != "And simmer until thick" {
		t.Fatalf("unexpected flush %q", rest)
	}
	if rest := seg.Flush(); rest != "" {
		t.Fatalf("second flush should be empty, got %q", rest)
	}
}

func TestNumberedListHeld(t *testing.T) {
	seg := NewSegmenter(10, 360)
	got := feed(seg, "Step 1. Dice the onions finely. ")
	if len(got) != 1 {
		t.Fatalf("expected one sentence, got %v", got)
	}
}
