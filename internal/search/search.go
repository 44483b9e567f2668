// Package search answers keyword questions against anonymized document
// text. It is a plain substring search with context windows, not NLP.
package search

import (
	"fmt"
	"strings"
)

// DefaultContextWindow is the number of characters included on each side
// of a keyword hit.
const DefaultContextWindow = 200

// stopwords are skipped when extracting keywords from a query.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "at": true,
	"be": true, "by": true, "did": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true,
	"in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "with": true,
}

// Context is one snippet around a keyword hit.
type Context struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
	Keyword  string `json:"keyword"`
}

// ExtractKeywords pulls the meaningful terms out of a free-text query.
func ExtractKeywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(query) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if len(word) < 2 || stopwords[strings.ToLower(word)] {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

// FindContext returns up to one snippet per keyword occurrence in
// document, each with window characters of surrounding text and ellipses
// where truncated. Matching is case-insensitive.
func FindContext(document, query string, window int) []Context {
	if window <= 0 {
		window = DefaultContextWindow
	}

	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	var contexts []Context
	documentLower := strings.ToLower(document)

	for _, keyword := range keywords {
		keywordLower := strings.ToLower(keyword)
		start := 0

		for {
			pos := strings.Index(documentLower[start:], keywordLower)
			if pos == -1 {
				break
			}
			pos += start

			ctxStart := pos - window
			if ctxStart < 0 {
				ctxStart = 0
			}
			ctxEnd := pos + len(keyword) + window
			if ctxEnd > len(document) {
				ctxEnd = len(document)
			}

			text := document[ctxStart:ctxEnd]
			if ctxStart > 0 {
				text = "..." + text
			}
			if ctxEnd < len(document) {
				text = text + "..."
			}

			contexts = append(contexts, Context{
				Text:     text,
				Position: pos,
				Keyword:  keyword,
			})

			start = pos + len(keyword)
		}
	}

	return contexts
}

// Answer composes a short response from the matched contexts.
func Answer(document, query string) string {
	contexts := FindContext(document, query, DefaultContextWindow)
	if len(contexts) == 0 {
		return "No relevant information found in the document for your question."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Found %d relevant passage(s):\n\n", len(contexts)))
	for i, ctx := range contexts {
		if i >= 3 {
			b.WriteString(fmt.Sprintf("...and %d more.", len(contexts)-3))
			break
		}
		b.WriteString(fmt.Sprintf("%d. %s\n\n", i+1, ctx.Text))
	}
	return strings.TrimSpace(b.String())
}
