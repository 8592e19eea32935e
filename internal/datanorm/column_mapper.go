package datanorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// FoldHeader reduces a header to its matching form: accents removed,
// case folded, punctuation turned into single spaces.
// "Visualizações (total)" -> "visualizacoes total"
func FoldHeader(h string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, h)
	if err != nil {
		s = h
	}
	s = folder.String(s)

	var b strings.Builder
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// matchesAlias reports whether a folded header names the alias exactly, or
// contains it as whole words when the alias is specific enough (>= 4 chars).
func matchesAlias(header, alias string, exact bool) bool {
	if header == alias {
		return true
	}
	if exact || len(alias) < 4 {
		return false
	}
	return containsWords(header, alias)
}

func containsWords(header, token string) bool {
	return strings.Contains(" "+header+" ", " "+token+" ")
}

// ColumnMapping is the resolved mapping between raw headers and canonical
// fields for one schema.
type ColumnMapping struct {
	Fields   map[string]string // canonical field -> raw header
	Columns  map[string]string // raw header -> canonical field
	Unmapped []string
}

// Column returns the raw header mapped to field.
func (m *ColumnMapping) Column(field string) (string, bool) {
	c, ok := m.Fields[field]
	return c, ok
}

// MapColumns resolves headers against a schema. An exact pass over every
// field runs before the word-containment pass, so "average view duration"
// is claimed by its own field before "duration" can match it loosely.
func MapColumns(schema *Schema, headers []string) *ColumnMapping {
	m := &ColumnMapping{
		Fields:  make(map[string]string, len(schema.Fields)),
		Columns: make(map[string]string, len(headers)),
	}
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = FoldHeader(h)
	}

	for _, exact := range []bool{true, false} {
		for _, f := range schema.Fields {
			if _, done := m.Fields[f.Name]; done {
				continue
			}
		search:
			for _, alias := range f.Aliases {
				for i, h := range headers {
					if _, taken := m.Columns[h]; taken {
						continue
					}
					if matchesAlias(folded[i], alias, exact) {
						m.Fields[f.Name] = h
						m.Columns[h] = f.Name
						break search
					}
				}
			}
		}
	}

	for _, h := range headers {
		if _, ok := m.Columns[h]; !ok {
			m.Unmapped = append(m.Unmapped, h)
		}
	}
	return m
}
