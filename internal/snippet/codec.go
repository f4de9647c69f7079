package snippet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format names an import/export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Encode writes lib in the given format.
func Encode(w io.Writer, lib *Library, f Format) error {
	switch f {
	case FormatJSON:
		return encodeJSON(w, lib)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toDocument(lib)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(toDocument(lib)); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// Decode reads a library in the given format.
func Decode(r io.Reader, f Format) (*Library, error) {
	switch f {
	case FormatJSON:
		return decodeJSON(r)
	case FormatYAML:
		var doc document
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return doc.library()
	case FormatTOML:
		var doc document
		if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		return doc.library()
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}

// FromParts builds a library from snippets and a category list.
func FromParts(snippets []Snippet, categories []string) (*Library, error) {
	lib := NewLibrary()
	for _, s := range snippets {
		if err := lib.Put(s); err != nil {
			return nil, err
		}
	}
	lib.setCategories(categories)
	return lib, nil
}

// MarshalSnippets encodes snippets as one JSON object keyed by trigger, in
// trigger order.
func MarshalSnippets(snippets []Snippet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range snippets {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Trigger)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalSnippets decodes a JSON object keyed by trigger, keeping key order
// and normalizing every legacy value shape.
func UnmarshalSnippets(data []byte) ([]Snippet, error) {
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode snippets: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode snippets: expected object, got %v", tok)
	}

	var out []Snippet
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode snippets: %w", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode snippet %q: %w", key, err)
		}
		s, err := Normalize(key, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func encodeJSON(w io.Writer, lib *Library) error {
	snippets, err := MarshalSnippets(lib.All())
	if err != nil {
		return err
	}
	categories, err := json.Marshal(lib.Categories())
	if err != nil {
		return err
	}

	var compact bytes.Buffer
	compact.WriteString(`{"snippets":`)
	compact.Write(snippets)
	compact.WriteString(`,"categories":`)
	compact.Write(categories)
	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = w.Write(out.Bytes())
	return err
}

func decodeJSON(r io.Reader) (*Library, error) {
	var doc struct {
		Snippets   json.RawMessage `json:"snippets"`
		Categories []string        `json:"categories"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if doc.Snippets == nil || doc.Categories == nil {
		return nil, fmt.Errorf("decode json: document needs both snippets and categories")
	}
	snippets, err := UnmarshalSnippets(doc.Snippets)
	if err != nil {
		return nil, err
	}
	return FromParts(snippets, doc.Categories)
}

// document is the YAML and TOML layout: a category list plus an ordered list
// of flat snippet records.
type document struct {
	Categories []string `yaml:"categories" toml:"categories"`
	Snippets   []record `yaml:"snippets" toml:"snippet"`
}

type record struct {
	Trigger         string `yaml:"trigger" toml:"trigger"`
	Internal        string `yaml:"internal,omitempty" toml:"internal,omitempty"`
	External        string `yaml:"external,omitempty" toml:"external,omitempty"`
	DefaultAudience string `yaml:"default_audience,omitempty" toml:"default_audience,omitempty"`
	RequireChoice   bool   `yaml:"require_choice,omitempty" toml:"require_choice,omitempty"`
	Category        string `yaml:"category,omitempty" toml:"category,omitempty"`
}

func toDocument(lib *Library) document {
	doc := document{Categories: lib.Categories()}
	for _, s := range lib.All() {
		doc.Snippets = append(doc.Snippets, record{
			Trigger:         s.Trigger,
			Internal:        s.Variants.Internal,
			External:        s.Variants.External,
			DefaultAudience: string(s.DefaultAudience),
			RequireChoice:   s.RequireChoice,
			Category:        s.Category,
		})
	}
	return doc
}

func (d document) library() (*Library, error) {
	snippets := make([]Snippet, 0, len(d.Snippets))
	for _, r := range d.Snippets {
		s := Snippet{
			Trigger:       r.Trigger,
			Variants:      fillVariants(Variants{Internal: r.Internal, External: r.External}),
			RequireChoice: r.RequireChoice,
			Category:      r.Category,
		}
		if a, err := ParseAudience(r.DefaultAudience); err == nil {
			s.DefaultAudience = a
		}
		snippets = append(snippets, s)
	}
	return FromParts(snippets, d.Categories)
}
