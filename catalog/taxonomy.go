package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Category is one node of the category tree together with the valuation
// parameters attached to it.
type Category struct {
	Name               string  `yaml:"name"`
	Parent             string  `yaml:"parent"`
	Base               int64   `yaml:"base"`
	Min                int64   `yaml:"min"`
	Max                int64   `yaml:"max"`
	DepreciationMonths float64 `yaml:"depreciation_months"`
}

type taxonomyFile struct {
	FallbackBase int64      `yaml:"fallback_base"`
	Categories   []Category `yaml:"categories"`
}

// Taxonomy is an immutable category tree. It is safe for concurrent use.
type Taxonomy struct {
	fallbackBase int64
	byName       map[string]Category
}

// DefaultTaxonomy returns the taxonomy compiled into the binary.
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy(defaultTaxonomy)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded taxonomy invalid: %v", err))
	}
	return t
}

// LoadTaxonomy reads a YAML taxonomy from disk. An empty path yields the
// embedded default.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read taxonomy: %w", err)
	}
	return ParseTaxonomy(raw)
}

// ParseTaxonomy decodes and validates a YAML taxonomy document.
func ParseTaxonomy(raw []byte) (*Taxonomy, error) {
	var doc taxonomyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode taxonomy: %w", err)
	}
	if doc.FallbackBase <= 0 {
		return nil, fmt.Errorf("catalog: fallback_base must be positive")
	}

	t := &Taxonomy{
		fallbackBase: doc.FallbackBase,
		byName:       make(map[string]Category, len(doc.Categories)),
	}
	for _, c := range doc.Categories {
		c.Name = normalizeCategory(c.Name)
		c.Parent = normalizeCategory(c.Parent)
		if c.Name == "" {
			return nil, fmt.Errorf("catalog: category without name")
		}
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate category %q", c.Name)
		}
		if c.Base <= 0 || c.Min < 0 || c.Max < c.Min {
			return nil, fmt.Errorf("catalog: category %q has invalid bounds", c.Name)
		}
		if c.DepreciationMonths <= 0 {
			return nil, fmt.Errorf("catalog: category %q needs positive depreciation_months", c.Name)
		}
		t.byName[c.Name] = c
	}
	for _, c := range t.byName {
		if c.Parent == "" {
			continue
		}
		if _, ok := t.byName[c.Parent]; !ok {
			return nil, fmt.Errorf("catalog: category %q references unknown parent %q", c.Name, c.Parent)
		}
	}
	for name := range t.byName {
		if t.depth(name) < 0 {
			return nil, fmt.Errorf("catalog: category %q is part of a cycle", name)
		}
	}
	return t, nil
}

// FallbackBase is the base value used for unrecognised categories.
func (t *Taxonomy) FallbackBase() int64 { return t.fallbackBase }

// Lookup returns the category definition if it exists.
func (t *Taxonomy) Lookup(name string) (Category, bool) {
	c, ok := t.byName[normalizeCategory(name)]
	return c, ok
}

// IsAncestor reports whether ancestor is a strict ancestor of name.
func (t *Taxonomy) IsAncestor(ancestor, name string) bool {
	ancestor = normalizeCategory(ancestor)
	cur, ok := t.byName[normalizeCategory(name)]
	for ok && cur.Parent != "" {
		if cur.Parent == ancestor {
			return true
		}
		cur, ok = t.byName[cur.Parent]
	}
	return false
}

// Siblings reports whether both categories share a direct parent.
func (t *Taxonomy) Siblings(a, b string) bool {
	ca, okA := t.byName[normalizeCategory(a)]
	cb, okB := t.byName[normalizeCategory(b)]
	return okA && okB && ca.Name != cb.Name && ca.Parent != "" && ca.Parent == cb.Parent
}

func (t *Taxonomy) depth(name string) int {
	seen := map[string]bool{}
	d := 0
	cur, ok := t.byName[name]
	for ok {
		if seen[cur.Name] {
			return -1
		}
		seen[cur.Name] = true
		if cur.Parent == "" {
			return d
		}
		d++
		cur, ok = t.byName[cur.Parent]
	}
	return d
}

// normalizeCategory folds case and composes accents (NFC) so "Cafe\u0301"
// and "café" name the same category.
func normalizeCategory(s string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
}
