package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMappingConflict = errors.New("suburb variant maps to more than one canonical name")

// Mapping resolves raw suburb names to canonical names. It is built once and
// never modified, so it can be shared between stages and workers.
type Mapping struct {
	canonical map[string]string
	variants  map[string][]string
}

// NewMapping inverts a canonical -> variants dictionary. Keys and variants are
// lowercased. A variant listed under two canonical names, or a canonical name
// that is also a variant of another, is rejected.
func NewMapping(byCanonical map[string][]string) (*Mapping, error) {
	m, conflicts := ResolveMapping(byCanonical)
	if len(conflicts) > 0 {
		return nil, conflicts[0]
	}
	return m, nil
}

// ResolveMapping inverts byCanonical like NewMapping but never fails. A
// variant claimed by several canonical names stays with the first of them in
// sorted order; every dropped claim is returned wrapping ErrMappingConflict.
func ResolveMapping(byCanonical map[string][]string) (*Mapping, []error) {
	m := &Mapping{
		canonical: make(map[string]string),
		variants:  make(map[string][]string, len(byCanonical)),
	}

	for key := range byCanonical {
		c := normalize(key)
		m.canonical[c] = c
	}

	keys := make([]string, 0, len(byCanonical))
	for key := range byCanonical {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conflicts []error
	for _, key := range keys {
		c := normalize(key)
		for _, v := range byCanonical[key] {
			v = normalize(v)
			if v == "" {
				continue
			}
			existing, ok := m.canonical[v]
			if ok && existing == c {
				continue
			}
			if ok {
				conflicts = append(conflicts, fmt.Errorf("%w: %q -> %q and %q", ErrMappingConflict, v, existing, c))
				continue
			}
			m.canonical[v] = c
			m.variants[c] = append(m.variants[c], v)
		}
	}
	return m, conflicts
}

// BuildMapping merges the composites into an existing canonical -> variants
// dictionary, so each composite becomes the canonical name of its parts, and
// resolves the result with ResolveMapping.
func BuildMapping(existing, composites map[string][]string) (*Mapping, []error) {
	merged := make(map[string][]string, len(existing)+len(composites))
	for c, vs := range existing {
		merged[c] = append(merged[c], vs...)
	}
	for c, parts := range composites {
		merged[c] = append(merged[c], parts...)
	}
	return ResolveMapping(merged)
}

// Canonicalize returns the canonical name for a raw suburb. Unmapped names are
// returned lowercased.
func (m *Mapping) Canonicalize(raw string) string {
	s := normalize(raw)
	if m == nil {
		return s
	}
	if c, ok := m.canonical[s]; ok {
		return c
	}
	return s
}

// Variants returns the raw names mapped onto a canonical suburb.
func (m *Mapping) Variants(canonical string) []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.variants[normalize(canonical)]...)
}

// Dictionary returns the canonical -> variants form of the mapping.
func (m *Mapping) Dictionary() map[string][]string {
	out := make(map[string][]string, len(m.variants))
	for c, vs := range m.variants {
		out[c] = append([]string(nil), vs...)
	}
	return out
}

// Len returns the number of variants known to the mapping.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, vs := range m.variants {
		n += len(vs)
	}
	return n
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// BuildComposites lists the scraped suburb names absent from the locality
// dataset and splits each into its hyphen-separated parts. The result keys a
// composite name to the base localities it covers.
func BuildComposites(scraped, localities []string) map[string][]string {
	known := make(map[string]bool, len(localities))
	for _, l := range localities {
		known[normalize(l)] = true
	}

	out := make(map[string][]string)
	for _, s := range scraped {
		name := normalize(s)
		if name == "" || known[name] {
			continue
		}
		if _, done := out[name]; done {
			continue
		}
		var parts []string
		for _, p := range strings.Split(name, "-") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		out[name] = parts
	}
	return out
}
