// Package icons provides the bundled icon catalog and an optional
// AI-backed emoji suggestion. The catalog is a TOML document compiled
// into the binary; search is plain keyword matching. Neither path
// touches persistence.
package icons

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/stepline/stepline/internal/types"
)

//go:embed icons.toml
var catalogTOML string

// Entry is one icon in the bundled catalog.
type Entry struct {
	Name     string   `toml:"name"`
	Set      string   `toml:"set"`
	Emoji    string   `toml:"emoji"`
	Keywords []string `toml:"keywords"`
}

// Icon returns the entry as a named icon reference.
func (e Entry) Icon() types.Icon {
	return types.NamedIcon(e.Set, e.Name)
}

type catalogDoc struct {
	Icons []Entry `toml:"icon"`
}

// Catalog is the loaded icon list.
type Catalog struct {
	entries []Entry
}

// LoadCatalog parses the bundled icon list.
func LoadCatalog() (*Catalog, error) {
	var doc catalogDoc
	if err := toml.Unmarshal([]byte(catalogTOML), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse icon catalog: %w", err)
	}
	return &Catalog{entries: doc.Icons}, nil
}

// Entries returns every catalog entry, sorted by set then name.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Set != out[j].Set {
			return out[i].Set < out[j].Set
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Lookup finds an entry by set and name.
func (c *Catalog) Lookup(set, name string) (Entry, bool) {
	for _, e := range c.entries {
		if e.Set == set && e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Emoji resolves an icon to its terminal glyph. Named icons resolve
// through the catalog; emoji icons render themselves; raster icons get a
// generic picture glyph.
func (c *Catalog) Emoji(icon types.Icon) string {
	switch icon.Kind {
	case types.IconNamed:
		if e, ok := c.Lookup(icon.Set, icon.Name); ok {
			return e.Emoji
		}
		return "❔"
	case types.IconRaster:
		return "🖼️"
	default:
		return icon.Emoji
	}
}

// Search returns entries whose name or keywords contain the query,
// case-insensitive, best matches first: exact keyword hits rank above
// substring hits. An empty query returns nothing.
func (c *Catalog) Search(query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	type scored struct {
		entry Entry
		score int
	}
	var hits []scored
	for _, e := range c.entries {
		score := 0
		if strings.ToLower(e.Name) == query {
			score = 3
		}
		for _, kw := range e.Keywords {
			kw = strings.ToLower(kw)
			switch {
			case kw == query:
				score = max(score, 2)
			case strings.Contains(kw, query):
				score = max(score, 1)
			}
		}
		if score == 0 && strings.Contains(strings.ToLower(e.Name), query) {
			score = 1
		}
		if score > 0 {
			hits = append(hits, scored{e, score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}
