package types

import (
	"encoding/json"
	"strings"
)

// IconKind discriminates the three icon encodings.
type IconKind int

const (
	// IconEmoji is a short emoji string.
	IconEmoji IconKind = iota
	// IconRaster is a data-URI-encoded raster image.
	IconRaster
	// IconNamed is a symbolic "set:name" reference into a bundled icon set.
	IconNamed
)

// String returns a human-readable kind name.
func (k IconKind) String() string {
	switch k {
	case IconEmoji:
		return "emoji"
	case IconRaster:
		return "raster"
	case IconNamed:
		return "named"
	default:
		return "unknown"
	}
}

// Icon is the tagged representation of a challenge icon. The variant is
// decided once, at construction, instead of being re-sniffed from the raw
// string on every render. On the wire (local blob, remote store, backup
// files) an icon is still a single string, so older datasets load
// unchanged.
type Icon struct {
	Kind IconKind

	// Emoji holds the glyph when Kind == IconEmoji.
	Emoji string
	// DataURI holds the full data: URI when Kind == IconRaster.
	DataURI string
	// Set and Name hold the reference when Kind == IconNamed.
	Set  string
	Name string
}

// ParseIcon classifies a raw icon string into its variant.
//
// "data:" prefixes are raster images. A "set:name" pair whose halves are
// both plain identifiers is a named reference. Everything else,
// including the empty string, is treated as an emoji; unknown shapes
// degrade to emoji rather than failing, matching how older datasets were
// rendered.
func ParseIcon(raw string) Icon {
	if strings.HasPrefix(raw, "data:") {
		return Icon{Kind: IconRaster, DataURI: raw}
	}
	if set, name, ok := strings.Cut(raw, ":"); ok && isIconSetName(set) && isIconSetName(name) {
		return Icon{Kind: IconNamed, Set: set, Name: name}
	}
	return Icon{Kind: IconEmoji, Emoji: raw}
}

// EmojiIcon constructs an emoji icon.
func EmojiIcon(glyph string) Icon {
	return Icon{Kind: IconEmoji, Emoji: glyph}
}

// NamedIcon constructs a reference into a bundled icon set.
func NamedIcon(set, name string) Icon {
	return Icon{Kind: IconNamed, Set: set, Name: name}
}

// RasterIcon constructs a data-URI raster icon.
func RasterIcon(dataURI string) Icon {
	return Icon{Kind: IconRaster, DataURI: dataURI}
}

// String returns the wire encoding of the icon.
func (ic Icon) String() string {
	switch ic.Kind {
	case IconRaster:
		return ic.DataURI
	case IconNamed:
		return ic.Set + ":" + ic.Name
	default:
		return ic.Emoji
	}
}

// IsZero reports whether the icon is empty.
func (ic Icon) IsZero() bool {
	return ic.String() == ""
}

// MarshalJSON encodes the icon as its single-string wire form.
func (ic Icon) MarshalJSON() ([]byte, error) {
	return json.Marshal(ic.String())
}

// UnmarshalJSON decodes the single-string wire form, classifying once.
func (ic *Icon) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*ic = ParseIcon(raw)
	return nil
}

// isIconSetName reports whether s looks like an icon set identifier
// (lowercase letters, digits, hyphens). Emoji and data URIs never match.
func isIconSetName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
