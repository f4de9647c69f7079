package snippet

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snipex/internal/trigger"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Snippet
	}{
		{
			name: "plain string",
			raw:  `"Mit freundlichen Grüßen"`,
			want: Snippet{Trigger: "-mfg", Variants: Variants{"Mit freundlichen Grüßen", "Mit freundlichen Grüßen"}, DefaultAudience: Internal, Category: DefaultCategory},
		},
		{
			name: "phrase object",
			raw:  `{"phrase":"Hallo","category":"Mail"}`,
			want: Snippet{Trigger: "-mfg", Variants: Variants{"Hallo", "Hallo"}, DefaultAudience: Internal, Category: "Mail"},
		},
		{
			name: "variants with one side missing",
			raw:  `{"variants":{"external":"Danke Ihnen!"},"defaultAudience":"external","requireChoice":true}`,
			want: Snippet{Trigger: "-mfg", Variants: Variants{"Danke Ihnen!", "Danke Ihnen!"}, DefaultAudience: External, RequireChoice: true, Category: DefaultCategory},
		},
		{
			name: "null",
			raw:  `null`,
			want: Snippet{Trigger: "-mfg", DefaultAudience: Internal, Category: DefaultCategory},
		},
		{
			name: "unknown audience falls back to internal",
			raw:  `{"variants":{"internal":"a","external":"b"},"defaultAudience":"everyone"}`,
			want: Snippet{Trigger: "-mfg", Variants: Variants{"a", "b"}, DefaultAudience: Internal, Category: DefaultCategory},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize("-mfg", json.RawMessage(tt.raw))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_RejectsGarbage(t *testing.T) {
	_, err := Normalize("x", json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestLibrary_OrderAndMatch(t *testing.T) {
	lib := NewLibrary()
	require.NoError(t, lib.Put(Snippet{Trigger: "fg", Variants: Variants{"short", "short"}}))
	require.NoError(t, lib.Put(Snippet{Trigger: "-mfg", Variants: Variants{"long", "long"}}))

	m, ok := lib.Match("x -mfg", 6, true, trigger.PolicyFirst)
	require.True(t, ok)
	assert.Equal(t, "fg", m.Trigger)

	m, ok = lib.Match("x -mfg", 6, true, trigger.PolicyLongest)
	require.True(t, ok)
	assert.Equal(t, "-mfg", m.Trigger)

	// Replacing keeps the original position.
	require.NoError(t, lib.Put(Snippet{Trigger: "fg", Variants: Variants{"new", "new"}}))
	all := lib.All()
	require.Len(t, all, 2)
	assert.Equal(t, "fg", all[0].Trigger)
	assert.Equal(t, "new", all[0].Variants.Internal)
}

func TestLibrary_Search(t *testing.T) {
	lib := NewLibrary()
	require.NoError(t, lib.Put(Snippet{Trigger: "-danke", Variants: Variants{"Danke dir!", "Danke Ihnen!"}}))
	require.NoError(t, lib.Put(Snippet{Trigger: "-mfg", Variants: Variants{"Liebe Grüße", "Mit freundlichen Grüßen"}}))

	triggers := func(ss []Snippet) []string {
		var out []string
		for _, s := range ss {
			out = append(out, s.Trigger)
		}
		return out
	}
	assert.Equal(t, []string{"-danke"}, triggers(lib.Search("IHNEN")))
	assert.Equal(t, []string{"-mfg"}, triggers(lib.Search("freundlich")))
	assert.Equal(t, []string{"-danke", "-mfg"}, triggers(lib.Search("")))
	assert.Empty(t, lib.Search("nothing"))
}

func TestLibrary_Categories(t *testing.T) {
	lib := NewLibrary()
	require.NoError(t, lib.Put(Snippet{Trigger: "a", Category: "Mail"}))
	require.NoError(t, lib.Put(Snippet{Trigger: "b", Category: "Mail"}))
	require.NoError(t, lib.Put(Snippet{Trigger: "c"}))
	assert.Equal(t, []string{DefaultCategory, "Mail"}, lib.Categories())
	assert.Len(t, lib.ByCategory("Mail"), 2)

	_, err := lib.DeleteCategory(DefaultCategory)
	assert.Error(t, err)

	removed, err := lib.DeleteCategory("Mail")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, removed)
	assert.Equal(t, []string{DefaultCategory}, lib.Categories())
	assert.Equal(t, 1, lib.Len())

	_, err = lib.DeleteCategory("Mail")
	assert.Error(t, err)
}

func TestLibrary_Rename(t *testing.T) {
	lib := NewLibrary()
	require.NoError(t, lib.Put(Snippet{Trigger: "a"}))
	require.NoError(t, lib.Put(Snippet{Trigger: "b"}))

	require.NoError(t, lib.Rename("a", "z"))
	all := lib.All()
	assert.Equal(t, "z", all[0].Trigger)
	_, ok := lib.Lookup("a")
	assert.False(t, ok)

	assert.Error(t, lib.Rename("z", "b"))
	assert.Error(t, lib.Rename("missing", "q"))
}

func sampleLibrary(t *testing.T) *Library {
	t.Helper()
	lib := NewLibrary()
	require.NoError(t, lib.Put(Snippet{Trigger: "-danke", Variants: Variants{"Danke dir!", "Danke Ihnen!"}, DefaultAudience: Internal}))
	require.NoError(t, lib.Put(Snippet{Trigger: "-mfg", Variants: Variants{"Liebe Grüße {{Name}}", "Liebe Grüße {{Name}}"}, Category: "Mail", RequireChoice: true, DefaultAudience: External}))
	return lib
}

func TestCodecs_PreserveOrderAndFields(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(string(f), func(t *testing.T) {
			lib := sampleLibrary(t)

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, lib, f))

			got, err := Decode(&buf, f)
			require.NoError(t, err)
			if diff := cmp.Diff(lib.All(), got.All()); diff != "" {
				t.Errorf("snippets mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, lib.Categories(), got.Categories())
		})
	}
}

func TestDecodeJSON_LegacyDocument(t *testing.T) {
	doc := `{
  "snippets": {
    "-z": "zzz",
    "-a": {"phrase": "aaa"},
    "-m": {"variants": {"internal": "du", "external": "Sie"}, "category": "Mail"}
  },
  "categories": ["Default"]
}`
	lib, err := Decode(strings.NewReader(doc), FormatJSON)
	require.NoError(t, err)

	all := lib.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"-z", "-a", "-m"}, []string{all[0].Trigger, all[1].Trigger, all[2].Trigger})
	assert.Equal(t, "aaa", all[1].Variants.External)
	assert.Equal(t, []string{DefaultCategory, "Mail"}, lib.Categories())
}

func TestDecodeJSON_RequiresBothKeys(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"snippets":{}}`), FormatJSON)
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("x.yml"))
	assert.Equal(t, FormatTOML, FormatFromPath("x.TOML"))
	assert.Equal(t, FormatJSON, FormatFromPath("x"))
}
