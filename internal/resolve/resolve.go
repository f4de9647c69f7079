// Package resolve decides what a matched snippet needs before it can be
// inserted, and fills placeholders once values are known.
package resolve

import (
	"regexp"
	"strings"

	"snipex/internal/snippet"
)

// Plan is the minimal set of confirmation stages a snippet requires.
type Plan struct {
	NeedsAudience  bool
	NeedsVariables bool
}

// Trivial reports whether the snippet can be inserted without any window.
func (p Plan) Trivial() bool {
	return !p.NeedsAudience && !p.NeedsVariables
}

// PlanFor computes the plan for s. NeedsVariables reflects the default text;
// it is checked again on whatever text the audience stage selects.
func PlanFor(s snippet.Snippet) Plan {
	return Plan{
		NeedsAudience:  NeedsAudience(s),
		NeedsVariables: NeedsVariables(DefaultText(s)),
	}
}

// NeedsAudience is true when a choice is required or the variants differ.
func NeedsAudience(s snippet.Snippet) bool {
	return s.RequireChoice || s.Variants.Internal != s.Variants.External
}

// VariantText returns the text for audience a, falling back to the other
// variant when the chosen one is empty.
func VariantText(v snippet.Variants, a snippet.Audience) string {
	if !a.Valid() {
		a = snippet.Internal
	}
	if text := v.Get(a); text != "" {
		return text
	}
	return v.Get(a.Other())
}

// DefaultText returns the text for the snippet's default audience.
func DefaultText(s snippet.Snippet) string {
	return VariantText(s.Variants, s.DefaultAudience)
}

// placeholderPattern matches {{name}}, **name** and *name*. Names may not
// contain the delimiter characters, braces or parentheses.
var placeholderPattern = regexp.MustCompile(`\{\{([^{}()]+)\}\}|\*\*([^*{}()]+)\*\*|\*([^*{}()]+)\*`)

// NeedsVariables reports whether text contains any placeholder.
func NeedsVariables(text string) bool {
	return placeholderPattern.MatchString(text)
}

// Syntax identifies how a placeholder was written.
type Syntax int

const (
	Braces Syntax = iota
	DoubleStar
	SingleStar
)

// Placeholder is one named slot.
type Placeholder struct {
	Name string
	// Token is the first literal occurrence, e.g. "{{Name}}".
	Token  string
	Syntax Syntax
}

// Placeholders returns the unique placeholder names in text, ordered by first
// appearance. The same name written in different syntaxes collapses to one.
func Placeholders(text string) []Placeholder {
	var out []Placeholder
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		p := Placeholder{Token: m[0]}
		switch {
		case m[1] != "":
			p.Name, p.Syntax = m[1], Braces
		case m[2] != "":
			p.Name, p.Syntax = m[2], DoubleStar
		default:
			p.Name, p.Syntax = m[3], SingleStar
		}
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}

// Fill substitutes every occurrence of every placeholder. A missing or empty
// value is replaced by the placeholder's own name.
func Fill(text string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(tok string) string {
		m := placeholderPattern.FindStringSubmatch(tok)
		name := strings.TrimSpace(m[1] + m[2] + m[3])
		if name == "" {
			return tok
		}
		if v := values[name]; v != "" {
			return v
		}
		return name
	})
}
