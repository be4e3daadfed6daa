// Package placeholder implements the {{name}} token grammar used by outreach
// templates: extraction, auto/custom classification and the custom
// placeholder inventory.
package placeholder

import (
	"fmt"
	"regexp"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// tokenPattern matches {{name}} where name is a non-empty run without '}'.
// Tokens cannot nest, so matches never overlap.
var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Token wraps name in the placeholder delimiters.
func Token(name string) string {
	return openDelim + name + closeDelim
}

// Replace substitutes every token in text with value(name). Text without
// tokens is returned unchanged.
func Replace(text string, value func(name string) string) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		return value(token[len(openDelim) : len(token)-len(closeDelim)])
	})
}

// AutoPlaceholder is a reserved name whose value comes from the lead record
type AutoPlaceholder struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
}

// DefaultAutoPlaceholders is the reference registry.
var DefaultAutoPlaceholders = []AutoPlaceholder{
	{Name: "person_vorname", Label: "Person Vorname"},
	{Name: "person_nachname", Label: "Person Nachname"},
	{Name: "firma_name", Label: "Firma Name"},
	{Name: "firma_branche", Label: "Firma Branche"},
	{Name: "ortschaft", Label: "Ortschaft"},
}

// Registry is the fixed, ordered set of auto placeholders. It is built once
// from configuration and never changes afterwards.
type Registry struct {
	entries []AutoPlaceholder
	index   map[string]struct{}
}

// NewRegistry creates a registry from entries, keeping their order
func NewRegistry(entries []AutoPlaceholder) (*Registry, error) {
	r := &Registry{
		entries: make([]AutoPlaceholder, 0, len(entries)),
		index:   make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("auto placeholder name is required")
		}
		if _, dup := r.index[e.Name]; dup {
			return nil, fmt.Errorf("auto placeholder %q registered twice", e.Name)
		}
		r.index[e.Name] = struct{}{}
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// DefaultRegistry returns a registry holding DefaultAutoPlaceholders
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultAutoPlaceholders)
	if err != nil {
		panic(err)
	}
	return r
}

// Entries returns a copy of the registry in declaration order
func (r *Registry) Entries() []AutoPlaceholder {
	out := make([]AutoPlaceholder, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names returns the reserved names in declaration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}
