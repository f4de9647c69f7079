// Package snippet defines snippet definitions, their legacy normalization and
// the in-memory library the expansion pipeline reads from.
package snippet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultCategory always exists and cannot be removed.
const DefaultCategory = "Default"

// Audience selects one of a snippet's two phrasings.
type Audience string

const (
	Internal Audience = "internal"
	External Audience = "external"
)

// Other returns the opposite audience.
func (a Audience) Other() Audience {
	if a == External {
		return Internal
	}
	return External
}

// Valid reports whether a names a known audience.
func (a Audience) Valid() bool {
	return a == Internal || a == External
}

// ParseAudience accepts "internal"/"external" case-insensitively.
func ParseAudience(s string) (Audience, error) {
	a := Audience(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown audience %q", s)
	}
	return a, nil
}

// Variants holds the informal and formal phrasing of one snippet.
type Variants struct {
	Internal string `json:"internal"`
	External string `json:"external"`
}

// Get returns the text for a, without fallback.
func (v Variants) Get(a Audience) string {
	if a == External {
		return v.External
	}
	return v.Internal
}

// Empty reports whether both variants are empty.
func (v Variants) Empty() bool {
	return v.Internal == "" && v.External == ""
}

// Snippet is one trigger definition.
type Snippet struct {
	Trigger         string   `json:"-"`
	Variants        Variants `json:"variants"`
	DefaultAudience Audience `json:"defaultAudience"`
	RequireChoice   bool     `json:"requireChoice"`
	Category        string   `json:"category"`
}

// legacy is the union of every stored shape a snippet value has had.
type legacy struct {
	Phrase          *string   `json:"phrase"`
	Variants        *Variants `json:"variants"`
	DefaultAudience string    `json:"defaultAudience"`
	RequireChoice   bool      `json:"requireChoice"`
	Category        string    `json:"category"`
}

// Normalize decodes a stored snippet value. It accepts a plain string, an
// object with a single phrase, or an object with variants. A missing variant
// falls back to the other one; a missing category or audience gets its
// default.
func Normalize(trigger string, raw json.RawMessage) (Snippet, error) {
	s := Snippet{Trigger: trigger, DefaultAudience: Internal, Category: DefaultCategory}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return s, nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Snippet{}, fmt.Errorf("snippet %q: %w", trigger, err)
		}
		s.Variants = Variants{Internal: text, External: text}
		return s, nil
	}

	var l legacy
	if err := json.Unmarshal(raw, &l); err != nil {
		return Snippet{}, fmt.Errorf("snippet %q: %w", trigger, err)
	}

	switch {
	case l.Variants != nil:
		s.Variants = fillVariants(*l.Variants)
	case l.Phrase != nil:
		s.Variants = Variants{Internal: *l.Phrase, External: *l.Phrase}
	}
	if a, err := ParseAudience(l.DefaultAudience); err == nil {
		s.DefaultAudience = a
	}
	s.RequireChoice = l.RequireChoice
	if l.Category != "" {
		s.Category = l.Category
	}
	return s, nil
}

func fillVariants(v Variants) Variants {
	out := v
	if out.Internal == "" {
		out.Internal = v.External
	}
	if out.External == "" {
		out.External = v.Internal
	}
	return out
}
