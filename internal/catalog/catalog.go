// Package catalog holds the fixed Pokémon reference data shipped with the
// binary.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed gen1.yaml
var gen1 []byte

// Entry is one catalog Pokémon.
type Entry struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
}

type document struct {
	Generation int     `yaml:"generation"`
	Pokemon    []Entry `yaml:"pokemon"`
}

// Gen1 returns the embedded first-generation catalog ordered by pokédex number.
func Gen1() ([]Entry, error) {
	return Parse(gen1)
}

// Parse decodes a catalog document and validates it: names are required and
// pokédex numbers are positive and unique.
func Parse(raw []byte) ([]Entry, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Pokemon) == 0 {
		return nil, errors.New("catalog is empty")
	}
	seen := make(map[int]struct{}, len(doc.Pokemon))
	out := make([]Entry, 0, len(doc.Pokemon))
	for _, e := range doc.Pokemon {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", e.Number)
		}
		if e.Number <= 0 {
			return nil, fmt.Errorf("catalog entry %q has invalid number %d", e.Name, e.Number)
		}
		if _, dup := seen[e.Number]; dup {
			return nil, fmt.Errorf("catalog number %d appears twice", e.Number)
		}
		seen[e.Number] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
