// Package preferences seeds affinity weights from onboarding selections.
package preferences

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/venuescout/internal/tagging"
	"github.com/thebtf/venuescout/pkg/models"
)

// SelectionIncrement is added to a tag's weight for every label that maps to it.
const SelectionIncrement = 0.7

//go:embed mapping.yaml
var defaultMappingYAML []byte

// mappingFile is the on-disk layout of the label table, one section per selection list.
type mappingFile struct {
	Hobbies   map[string][]string `yaml:"hobbies"`
	Food      map[string][]string `yaml:"food"`
	Thematic  map[string][]string `yaml:"thematic"`
	Lifestyle map[string][]string `yaml:"lifestyle"`
}

// Mapping resolves preference labels to venue tags.
// It is immutable after construction and safe for concurrent use.
type Mapping struct {
	labels map[string][]string
}

// DefaultMapping returns the built-in label table.
func DefaultMapping() *Mapping {
	m, err := ParseMapping(defaultMappingYAML)
	if err != nil {
		// The embedded document is part of the binary.
		panic(fmt.Sprintf("preferences: embedded mapping: %v", err))
	}
	return m
}

// LoadMapping reads a label table from a YAML file.
// An empty path returns the built-in table.
func LoadMapping(path string) (*Mapping, error) {
	if path == "" {
		return DefaultMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preference mapping: %w", err)
	}
	m, err := ParseMapping(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseMapping decodes a YAML label table.
// A label listed in several sections gets the union of its tags.
func ParseMapping(data []byte) (*Mapping, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preference mapping: %w", err)
	}

	m := &Mapping{labels: make(map[string][]string)}
	for _, section := range []map[string][]string{f.Hobbies, f.Food, f.Thematic, f.Lifestyle} {
		for label, tags := range section {
			key := labelKey(label)
			if key == "" {
				continue
			}
			m.labels[key] = mergeTags(m.labels[key], tagging.NormalizeTags(tags))
		}
	}
	return m, nil
}

// Tags returns the venue tags mapped from label, or nil when unmapped.
func (m *Mapping) Tags(label string) []string {
	return m.labels[labelKey(label)]
}

// Len returns the number of mapped labels.
func (m *Mapping) Len() int {
	return len(m.labels)
}

// BuildInitialWeights turns onboarding selections into a seed weight map.
// Every label adds SelectionIncrement to each of its tags; repeats accumulate
// and the sum is capped at models.MaxWeight. Unmapped labels are ignored.
func (m *Mapping) BuildInitialWeights(selections models.PreferenceSelections) models.TagWeights {
	sums := make(map[string]float64)
	for _, label := range selections.Labels() {
		for _, tag := range m.Tags(label) {
			sums[tag] += SelectionIncrement
		}
	}

	weights := make(models.TagWeights, len(sums))
	for tag, w := range sums {
		weights.Set(tag, w)
	}
	return weights
}

func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func mergeTags(existing, add []string) []string {
	for _, t := range add {
		dup := false
		for _, e := range existing {
			if e == t {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, t)
		}
	}
	return existing
}
