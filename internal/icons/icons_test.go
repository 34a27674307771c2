package icons

import (
	"testing"

	"github.com/stepline/stepline/internal/types"
)

func loadCatalog(t *testing.T) *Catalog {
	t.Helper()

	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("failed to load bundled catalog: %v", err)
	}
	if len(c.entries) == 0 {
		t.Fatal("bundled catalog is empty")
	}
	return c
}

func TestCatalogEntriesComplete(t *testing.T) {
	c := loadCatalog(t)

	for _, e := range c.Entries() {
		if e.Name == "" || e.Set == "" || e.Emoji == "" {
			t.Errorf("incomplete entry: %+v", e)
		}
		if len(e.Keywords) == 0 {
			t.Errorf("entry %s/%s has no keywords", e.Set, e.Name)
		}
		icon := e.Icon()
		if icon.Kind != types.IconNamed {
			t.Errorf("entry %s/%s should produce a named icon", e.Set, e.Name)
		}
	}
}

func TestSearchExactKeywordRanksFirst(t *testing.T) {
	c := loadCatalog(t)

	hits := c.Search("water")
	if len(hits) == 0 {
		t.Fatal("expected hits for \"water\"")
	}
	if hits[0].Name != "water-glass" {
		t.Errorf("exact keyword match should rank first, got %s", hits[0].Name)
	}
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	c := loadCatalog(t)

	if len(c.Search("WATER")) == 0 {
		t.Error("uppercase query should still match")
	}
	if len(c.Search("  teeth  ")) == 0 {
		t.Error("surrounding whitespace should be ignored")
	}
}

func TestSearchMissAndEmpty(t *testing.T) {
	c := loadCatalog(t)

	if hits := c.Search("xylophone"); len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
	if hits := c.Search(""); hits != nil {
		t.Error("empty query should return nothing")
	}
}

func TestEmojiResolution(t *testing.T) {
	c := loadCatalog(t)

	if got := c.Emoji(types.NamedIcon("routine", "water-glass")); got != "💧" {
		t.Errorf("named icon: got %q", got)
	}
	if got := c.Emoji(types.NamedIcon("routine", "no-such-icon")); got != "❔" {
		t.Errorf("unknown named icon: got %q", got)
	}
	if got := c.Emoji(types.EmojiIcon("🎯")); got != "🎯" {
		t.Errorf("emoji icon renders itself: got %q", got)
	}
	if got := c.Emoji(types.RasterIcon("data:image/png;base64,AAAA")); got != "🖼️" {
		t.Errorf("raster icon: got %q", got)
	}
}
