// Package tagging turns raw venue metadata into normalized tags.
package tagging

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// acceptedLevels are enum values that mark a feature as present.
// Compared case-insensitively.
var acceptedLevels = map[string]bool{
	"average": true,
	"great":   true,
}

var (
	separatorRegex = regexp.MustCompile(`[\s&]+`)
	nonWordRegex   = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// NormalizeTag canonicalizes a candidate tag: trimmed, lowercased,
// diacritics folded, whitespace and '&' removed, then every remaining
// rune that is not a letter or digit stripped. Returns "" when nothing survives.
func NormalizeTag(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = foldDiacritics(s)
	s = separatorRegex.ReplaceAllString(s, "")
	return nonWordRegex.ReplaceAllString(s, "")
}

// foldDiacritics maps "café" to "cafe".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeTags normalizes and deduplicates tags, preserving first-seen order.
func NormalizeTags(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		tag := NormalizeTag(r)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// ExtractTags derives candidate tags from a venue's feature tree and categories.
//
// A feature key becomes a tag when its value is true, an accepted level
// string ("Average", "Great"), or an empty object. Non-empty objects are
// walked recursively. Every category name becomes a tag; categories may be
// plain strings or objects carrying a "name" field. The result is
// normalized, deduplicated and sorted.
func ExtractTags(features map[string]any, categories []any) []string {
	candidates := make([]string, 0, len(features)+len(categories))
	candidates = walkFeatures(features, candidates)

	for _, c := range categories {
		if name := categoryName(c); name != "" {
			candidates = append(candidates, name)
		}
	}

	tags := NormalizeTags(candidates)
	sort.Strings(tags)
	return tags
}

func walkFeatures(features map[string]any, out []string) []string {
	for key, value := range features {
		switch v := value.(type) {
		case bool:
			if v {
				out = append(out, key)
			}
		case string:
			if acceptedLevels[strings.ToLower(strings.TrimSpace(v))] {
				out = append(out, key)
			}
		case map[string]any:
			if len(v) == 0 {
				out = append(out, key)
				continue
			}
			out = walkFeatures(v, out)
		}
	}
	return out
}

func categoryName(c any) string {
	switch v := c.(type) {
	case string:
		return v
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return name
		}
	case Category:
		return v.Name
	case *Category:
		if v != nil {
			return v.Name
		}
	}
	return ""
}

// Category is a typed category entry for callers that do not decode into maps.
type Category struct {
	Name string `json:"name"`
}
