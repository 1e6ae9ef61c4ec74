package timers

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration extraction from step text. Patterns are tried in order; the
// first match wins.
var (
	rangeMinutesRe = regexp.MustCompile(`(?i)\b(\d+)\s*(?:-|–|\bto\b)\s*(\d+)\s*min(?:ute)?s?\b`)
	combinedRe     = regexp.MustCompile(`(?i)\b(\d+)\s*hours?\s+(?:and\s+)?(\d+)\s*min(?:ute)?s?\b`)
	forMinutesRe   = regexp.MustCompile(`(?i)\b(\d+)\s*min(?:ute)?s?\b`)
	hoursRe        = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*hours?\b`)
	secondsRe      = regexp.MustCompile(`(?i)\b(\d+)\s*sec(?:ond)?s?\b`)
)

// checkHintVerbs mark steps that likely need a completion check rather
// than a hard stop.
var checkHintVerbs = []string{
	"boil", "bake", "simmer", "rest", "fry", "roast", "steep", "braise", "proof", "marinate",
}

// Extraction is what the step text told us about timing.
type Extraction struct {
	Duration time.Duration
	// CheckHint is set when the step uses a verb whose timing is a doneness
	// check, not an exact countdown.
	CheckHint bool
	// Label is a short spoken description of what the timer is for.
	Label string
}

// ExtractDuration pulls a cooking duration out of free-form step text.
// Ranges resolve to their midpoint. Returns false when the text names no
// usable duration.
func ExtractDuration(text string) (Extraction, bool) {
	ext := Extraction{CheckHint: hasCheckHint(text), Label: timerLabel(text)}

	if m := combinedRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		ext.Duration = time.Duration(h)*time.Hour + time.Duration(min)*time.Minute
		return ext, true
	}
	if m := rangeMinutesRe.FindStringSubmatch(text); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		ext.Duration = time.Duration((lo+hi)*30) * time.Second
		return ext, true
	}
	if m := forMinutesRe.FindStringSubmatch(text); m != nil {
		min, _ := strconv.Atoi(m[1])
		ext.Duration = time.Duration(min) * time.Minute
		return ext, true
	}
	if m := hoursRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.ParseFloat(m[1], 64)
		ext.Duration = time.Duration(h * float64(time.Hour))
		return ext, true
	}
	if m := secondsRe.FindStringSubmatch(text); m != nil {
		sec, _ := strconv.Atoi(m[1])
		ext.Duration = time.Duration(sec) * time.Second
		return ext, true
	}
	return Extraction{}, false
}

func hasCheckHint(text string) bool {
	lower := strings.ToLower(text)
	for _, verb := range checkHintVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// timerLabel keeps the first few words of the step as a spoken handle.
func timerLabel(text string) string {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.ToLower(strings.TrimRight(strings.Join(words, " "), ".,!"))
}
