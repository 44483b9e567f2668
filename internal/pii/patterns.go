package pii

import "regexp"

// PatternRule is a single structural PII recognizer. Every match is an
// exact regex hit, so confidence is always 1.0.
type PatternRule struct {
	Type    EntityType
	Pattern *regexp.Regexp
}

// DefaultRules returns the built-in pattern rule set for structurally-typed
// identifiers. Rules may overlap each other (a URL can contain an
// IP-looking token); the merger resolves conflicts downstream.
func DefaultRules() []PatternRule {
	return []PatternRule{
		{TypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
		{TypePhone, regexp.MustCompile(`\b(?:\+?1[-.]?)?\(?[0-9]{3}\)?[-.]?[0-9]{3}[-.]?[0-9]{4}\b`)},
		{TypeSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{TypeCreditCard, regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
		{TypeURL, regexp.MustCompile(`https?://(?:www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b[-a-zA-Z0-9()@:%_+.~#?&/=]*`)},
		{TypeIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
		{TypeDateOfBirth, regexp.MustCompile(`\b(?:0[1-9]|1[0-2])[/-](?:0[1-9]|[12][0-9]|3[01])[/-](?:19|20)\d{2}\b`)},
	}
}
