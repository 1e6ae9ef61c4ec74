package llmclient

import (
	"strings"
	"unicode"
)

const (
	DefaultMinSentenceLen = 24
	DefaultMaxBufferLen   = 360
)

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]struct{}{
	"e.g": {}, "i.e": {}, "etc": {}, "vs": {}, "approx": {},
	"mr": {}, "mrs": {}, "dr": {}, "tbsp": {}, "tsp": {}, "oz": {}, "lb": {},
	"no": {}, "min": {}, "sec": {}, "hr": {},
}

// Segmenter accumulates streamed tokens and cuts them into speakable
// sentences. Short sentences are held and joined with the next clause so
// playback is not audibly choppy.
type Segmenter struct {
	minLen int
	maxLen int
	buf    strings.Builder
}

func NewSegmenter(minLen, maxLen int) *Segmenter {
	if minLen <= 0 {
		minLen = DefaultMinSentenceLen
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxBufferLen
	}
	return &Segmenter{minLen: minLen, maxLen: maxLen}
}

// Push adds a token and returns any sentences ready to speak.
func (s *Segmenter) Push(token string) []string {
	s.buf.WriteString(token)
	var out []string
	for {
		sentence := s.cut()
		if sentence == "" {
			break
		}
		out = append(out, sentence)
	}
	return out
}

// Flush drains whatever is buffered as a final sentence.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// cut removes and returns one complete sentence from the front of the
// buffer, or "" when nothing is ready yet.
func (s *Segmenter) cut() string {
	text := s.buf.String()
	runes := []rune(text)

	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		// The boundary must be followed by space or end of buffer;
		// "350." inside "350.5" or a trailing token fragment is not one.
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if i+1 == len(runes) {
			// Might still be mid-token ("e.g." arriving before " then").
			// Wait for more input unless the buffer is final via Flush.
			continue
		}
		candidate := strings.TrimSpace(string(runes[:i+1]))
		if r == '.' && endsWithAbbreviation(candidate) {
			continue
		}
		if len([]rune(candidate)) < s.minLen {
			// Held: too short to speak on its own.
			continue
		}
		s.buf.Reset()
		s.buf.WriteString(string(runes[i+1:]))
		return candidate
	}

	if len(runes) > s.maxLen {
		cutAt := wordBoundaryBefore(runes, s.maxLen)
		head := strings.TrimSpace(string(runes[:cutAt]))
		s.buf.Reset()
		s.buf.WriteString(string(runes[cutAt:]))
		if head != "" {
			return head
		}
	}
	return ""
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// endsWithAbbreviation reports whether the candidate's trailing period
// belongs to an abbreviation or a bare number ("1.").
func endsWithAbbreviation(candidate string) bool {
	trimmed := strings.TrimSuffix(candidate, ".")
	idx := strings.LastIndexFunc(trimmed, unicode.IsSpace)
	last := strings.ToLower(trimmed[idx+1:])
	if last == "" {
		return true
	}
	if _, ok := abbreviations[last]; ok {
		return true
	}
	allDigits := true
	for _, r := range last {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	return allDigits
}

// wordBoundaryBefore finds the nearest space at or before limit. When the
// text has no space the hard limit wins.
func wordBoundaryBefore(runes []rune, limit int) int {
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return limit
}
