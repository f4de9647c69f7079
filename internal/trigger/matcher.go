// Package trigger finds snippet triggers that end at a field's caret.
package trigger

import (
	"fmt"
	"strings"

	"snipex/internal/logging"
)

// Policy decides which trigger wins when several are suffixes of the text
// before the caret.
type Policy string

const (
	// PolicyFirst returns the first matching trigger in insertion order.
	PolicyFirst Policy = "first"
	// PolicyLongest returns the longest matching trigger; insertion order
	// breaks ties.
	PolicyLongest Policy = "longest"
)

// ParsePolicy converts a config string to a Policy. Empty selects PolicyFirst.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFirst:
		return PolicyFirst, nil
	case PolicyLongest:
		return PolicyLongest, nil
	default:
		return "", fmt.Errorf("unknown match policy %q", s)
	}
}

// Match is a trigger found immediately before the caret.
// Start and End are byte offsets into the field text; End is the caret.
type Match struct {
	Trigger string
	Start   int
	End     int
}

// Find returns the trigger ending exactly at the caret, if any.
//
// When the caret is unknown or outside the text, the whole text is treated as
// the text before the caret.
func Find(text string, caret int, caretKnown bool, set *Set, policy Policy) (Match, bool) {
	if set == nil || set.Len() == 0 {
		return Match{}, false
	}

	end := caret
	if !caretKnown || caret < 0 || caret > len(text) {
		end = len(text)
	}
	before := text[:end]

	var best string
	found := false
	for _, t := range set.order {
		if t == "" || !strings.HasSuffix(before, t) {
			continue
		}
		if policy != PolicyLongest {
			best, found = t, true
			break
		}
		if !found || len(t) > len(best) {
			best, found = t, true
		}
	}
	if !found {
		return Match{}, false
	}

	logging.MatcherDebug("matched trigger %q at [%d,%d) policy=%s", best, end-len(best), end, policy)
	return Match{Trigger: best, Start: end - len(best), End: end}, true
}
