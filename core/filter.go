package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Filter controls how strictly a command trigger is compared to message text.
type Filter int

const (
	// Strict requires the text to equal the trigger exactly.
	Strict Filter = iota
	// Flexible ignores case and surrounding whitespace, and tolerates one
	// leading symbol before the trigger.
	Flexible
	// Sensitive ignores case and the trigger's own prefix symbols, and
	// matches the trigger as a whole word anywhere in the text.
	Sensitive
)

func (f Filter) String() string {
	switch f {
	case Strict:
		return "strict"
	case Flexible:
		return "flexible"
	case Sensitive:
		return "sensitive"
	default:
		return fmt.Sprintf("filter(%d)", int(f))
	}
}

// Unicode-aware stand-ins for \w and \s so Cyrillic triggers behave like
// Latin ones.
const (
	wordClass  = `\p{L}\p{M}\p{N}\p{Pc}`
	spaceClass = `\s\p{Z}`
	// Underscore counts as a token boundary.
	boundary = `[^\p{L}\p{M}\p{N}]`
)

type matcher func(text string) bool

func compileMatcher(trigger string, filter Filter) (matcher, error) {
	switch filter {
	case Strict:
		return func(text string) bool { return text == trigger }, nil
	case Flexible:
		pattern := `(?i)^[` + spaceClass + `]*[^` + wordClass + spaceClass + `]?` +
			regexp.QuoteMeta(trigger) + `[` + spaceClass + `]*$`
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile flexible trigger %q: %w", trigger, err)
		}
		return re.MatchString, nil
	case Sensitive:
		word := strings.TrimLeftFunc(trigger, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if word == "" {
			return nil, fmt.Errorf("sensitive trigger %q has no letters or digits", trigger)
		}
		pattern := `(?i)(?:^|` + boundary + `)` + regexp.QuoteMeta(word) + `(?:` + boundary + `|$)`
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile sensitive trigger %q: %w", trigger, err)
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("unknown filter %d", int(filter))
	}
}

// Match reports whether text activates trigger under filter. Unknown filters
// never match.
func Match(text, trigger string, filter Filter) bool {
	m, err := compileMatcher(trigger, filter)
	if err != nil {
		return false
	}
	return m(text)
}
