package models

import (
	"sort"
	"time"
)

// Vocabulary is the global ordered tag set that defines vector positions.
type Vocabulary struct {
	UpdatedAt time.Time `json:"updated_at"`
	Tags      []string  `json:"tags"`
	// Version increases by one on every persisted growth.
	Version int64 `json:"version"`
}

// Venue is a place that can be recommended.
type Venue struct {
	UpdatedAt time.Time `json:"updated_at"`
	Rating    *float64  `json:"rating,omitempty"`
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Tags      []string  `json:"tags"`
}

// TagSet is an unordered set of tags.
type TagSet map[string]struct{}

// NewTagSet builds a set from tags, skipping empty strings.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		if t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Has reports whether tag is in the set.
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Add inserts tag and reports whether it was new.
func (s TagSet) Add(tag string) bool {
	if tag == "" || s.Has(tag) {
		return false
	}
	s[tag] = struct{}{}
	return true
}

// Sorted returns the members in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
