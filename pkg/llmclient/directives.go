package llmclient

import (
	"regexp"
	"strconv"
	"strings"
)

// DirectiveType is a control command embedded in generated text.
type DirectiveType string

const (
	DirectiveNext        DirectiveType = "NEXT"
	DirectivePrev        DirectiveType = "PREV"
	DirectiveGoto        DirectiveType = "GOTO"
	DirectiveRepeat      DirectiveType = "REPEAT"
	DirectivePause       DirectiveType = "PAUSE"
	DirectiveStop        DirectiveType = "STOP"
	DirectiveIngredients DirectiveType = "INGREDIENTS"
)

type Directive struct {
	Type DirectiveType
	// Step carries the GOTO payload, zero-based after parsing.
	Step int
}

var directiveRe = regexp.MustCompile(`\[(NEXT|PREV|REPEAT|PAUSE|STOP|INGREDIENTS|GOTO:(\d+))\]`)

// ExtractDirectives strips every directive tag from text and returns the
// cleaned text plus the parsed directives in order of appearance.
func ExtractDirectives(text string) (string, []Directive) {
	var directives []Directive
	cleaned := directiveRe.ReplaceAllStringFunc(text, func(tag string) string {
		m := directiveRe.FindStringSubmatch(tag)
		body := m[1]
		if strings.HasPrefix(body, "GOTO:") {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return ""
			}
			// Tags are one-based for the model; steps are zero-based here.
			directives = append(directives, Directive{Type: DirectiveGoto, Step: n - 1})
			return ""
		}
		directives = append(directives, Directive{Type: DirectiveType(body)})
		return ""
	})
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return cleaned, directives
}

// ContainsPartialDirective reports whether text ends inside what may become
// a directive tag, so the caller can hold it back from synthesis.
func ContainsPartialDirective(text string) bool {
	idx := strings.LastIndexByte(text, '[')
	if idx < 0 {
		return false
	}
	return !strings.ContainsRune(text[idx:], ']')
}
