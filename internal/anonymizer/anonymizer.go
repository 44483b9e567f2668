// Package anonymizer rewrites PII occurrences in text into stable,
// human-readable placeholders and reverses the rewrite exactly.
package anonymizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/covertlabs/pii-vault/internal/pii"
)

// ValidationError reports a malformed entity span. Spans must be
// half-open, inside the text, and non-overlapping; violations are a caller
// contract break and fail before any rewriting.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid entity span: " + e.Reason
}

// Options configures an Anonymizer instance.
type Options struct {
	// NumberInReadingOrder allocates placeholder numbers left-to-right
	// instead of the legacy right-to-left allocation that falls out of
	// splicing from the tail. Off by default for compatibility with
	// previously stored mappings.
	NumberInReadingOrder bool
}

// Anonymizer maintains the session-scoped bijection between literal PII
// values and placeholders. One instance per document; instances must never
// be shared across sessions or the counters leak between documents.
// Not safe for concurrent use.
type Anonymizer struct {
	opts     Options
	counters map[pii.EntityType]int
	mapping  map[string]string // original value -> placeholder
	reverse  map[string]string // placeholder -> original value
}

// New creates an empty anonymizer with legacy numbering.
func New() *Anonymizer {
	return NewWithOptions(Options{})
}

// NewWithOptions creates an empty anonymizer.
func NewWithOptions(opts Options) *Anonymizer {
	return &Anonymizer{
		opts:     opts,
		counters: make(map[pii.EntityType]int),
		mapping:  make(map[string]string),
		reverse:  make(map[string]string),
	}
}

// Anonymize replaces every entity span in text with its placeholder and
// returns the rewritten text plus a copy of the value->placeholder
// mapping. Identical literal values always share one placeholder.
//
// Splicing runs by descending start offset so offsets of untouched
// entities stay valid after each replacement.
func (a *Anonymizer) Anonymize(text string, entities []pii.Entity) (string, map[string]string, error) {
	if len(entities) == 0 {
		return text, map[string]string{}, nil
	}

	if err := validateSpans(text, entities); err != nil {
		return "", nil, err
	}

	sorted := make([]pii.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start > sorted[j].Start
	})

	if a.opts.NumberInReadingOrder {
		// Allocate in reading order first, splice from the tail after.
		for i := len(sorted) - 1; i >= 0; i-- {
			a.placeholderFor(sorted[i].Text, sorted[i].Type)
		}
	}

	result := text
	for _, e := range sorted {
		placeholder := a.placeholderFor(e.Text, e.Type)
		result = result[:e.Start] + placeholder + result[e.End:]
	}

	mapping := make(map[string]string, len(a.mapping))
	for k, v := range a.mapping {
		mapping[k] = v
	}

	return result, mapping, nil
}

// placeholderFor returns the existing placeholder for value or allocates
// the next one for its type.
func (a *Anonymizer) placeholderFor(value string, entityType pii.EntityType) string {
	if p, ok := a.mapping[value]; ok {
		return p
	}

	a.counters[entityType]++
	p := formatPlaceholder(entityType, a.counters[entityType])

	a.mapping[value] = p
	a.reverse[p] = value

	return p
}

// formatPlaceholder renders the typed placeholder token. ORG uses letter
// suffixes (A..Z, then AA, AB, ...); everything else uses numbers.
func formatPlaceholder(entityType pii.EntityType, count int) string {
	if entityType == pii.TypeOrg {
		return fmt.Sprintf("[COMPANY_%s]", letterSuffix(count))
	}
	return fmt.Sprintf("[%s_%d]", entityType, count)
}

// letterSuffix converts a 1-based count into a spreadsheet-style base-26
// label: 1->A, 26->Z, 27->AA.
func letterSuffix(count int) string {
	var b []byte
	for count > 0 {
		count--
		b = append([]byte{byte('A' + count%26)}, b...)
		count /= 26
	}
	return string(b)
}

// Deanonymize restores the original text from its anonymized form using
// the mapping produced by Anonymize. Placeholders are replaced
// longest-first so a shorter placeholder never matches inside a longer
// one; every occurrence of a placeholder resolves identically.
func Deanonymize(anonymizedText string, mapping map[string]string) string {
	reverse := make(map[string]string, len(mapping))
	placeholders := make([]string, 0, len(mapping))
	for original, placeholder := range mapping {
		reverse[placeholder] = original
		placeholders = append(placeholders, placeholder)
	}

	sort.Slice(placeholders, func(i, j int) bool {
		if len(placeholders[i]) != len(placeholders[j]) {
			return len(placeholders[i]) > len(placeholders[j])
		}
		return placeholders[i] < placeholders[j]
	})

	result := anonymizedText
	for _, p := range placeholders {
		result = strings.ReplaceAll(result, p, reverse[p])
	}

	return result
}

// Reset clears all counters and both mapping tables. A fresh anonymizer
// starts every session empty.
func (a *Anonymizer) Reset() {
	a.counters = make(map[pii.EntityType]int)
	a.mapping = make(map[string]string)
	a.reverse = make(map[string]string)
}

// Mapping returns a copy of the current value->placeholder table.
func (a *Anonymizer) Mapping() map[string]string {
	out := make(map[string]string, len(a.mapping))
	for k, v := range a.mapping {
		out[k] = v
	}
	return out
}

func validateSpans(text string, entities []pii.Entity) error {
	sorted := make([]pii.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	for i, e := range sorted {
		if e.Start < 0 || e.End > len(text) {
			return &ValidationError{Reason: fmt.Sprintf("span [%d,%d) outside text bounds", e.Start, e.End)}
		}
		if e.Start >= e.End {
			return &ValidationError{Reason: fmt.Sprintf("span [%d,%d) is empty or inverted", e.Start, e.End)}
		}
		if i > 0 && e.Start < sorted[i-1].End {
			return &ValidationError{Reason: fmt.Sprintf("span [%d,%d) overlaps [%d,%d)",
				e.Start, e.End, sorted[i-1].Start, sorted[i-1].End)}
		}
	}

	return nil
}

// MappingEntry is the API-facing shape of one placeholder assignment.
type MappingEntry struct {
	Original    string `json:"original"`
	Placeholder string `json:"placeholder"`
	Type        string `json:"type"`
}

// MappingList converts a mapping into a sorted list form, deriving the
// PII type from the placeholder token.
func MappingList(mapping map[string]string) []MappingEntry {
	list := make([]MappingEntry, 0, len(mapping))
	for original, placeholder := range mapping {
		list = append(list, MappingEntry{
			Original:    original,
			Placeholder: placeholder,
			Type:        TypeFromPlaceholder(placeholder),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Placeholder < list[j].Placeholder
	})
	return list
}

// TypeFromPlaceholder extracts the type token from a placeholder like
// "[PERSON_1]". Unknown shapes yield "UNKNOWN".
func TypeFromPlaceholder(placeholder string) string {
	if !strings.HasPrefix(placeholder, "[") {
		return "UNKNOWN"
	}
	inner := strings.TrimPrefix(placeholder, "[")
	if idx := strings.LastIndex(inner, "_"); idx > 0 {
		return inner[:idx]
	}
	return "UNKNOWN"
}
