package search

import (
	"strings"
	"testing"
)

// TestExtractKeywords tests query keyword extraction
func TestExtractKeywords(t *testing.T) {
	t.Run("DropsStopwords", func(t *testing.T) {
		keywords := ExtractKeywords("what is the contract value?")
		for _, kw := range keywords {
			if kw == "what" || kw == "is" || kw == "the" {
				t.Errorf("Stopword %q survived extraction", kw)
			}
		}
		if len(keywords) != 2 {
			t.Errorf("Expected [contract value], got %v", keywords)
		}
	})

	t.Run("TrimsPunctuation", func(t *testing.T) {
		keywords := ExtractKeywords(`"payment," (terms)!`)
		if len(keywords) != 2 || keywords[0] != "payment" || keywords[1] != "terms" {
			t.Errorf("Expected [payment terms], got %v", keywords)
		}
	})

	t.Run("DropsSingleCharacters", func(t *testing.T) {
		if keywords := ExtractKeywords("a b c payment"); len(keywords) != 1 {
			t.Errorf("Expected only [payment], got %v", keywords)
		}
	})

	t.Run("AllStopwordsGivesNothing", func(t *testing.T) {
		if keywords := ExtractKeywords("what is the"); len(keywords) != 0 {
			t.Errorf("Expected no keywords, got %v", keywords)
		}
	})
}

// TestFindContext tests snippet extraction around hits
func TestFindContext(t *testing.T) {
	document := strings.Repeat("x", 300) + " the payment is due on delivery " + strings.Repeat("y", 300)

	t.Run("FindsHitWithWindow", func(t *testing.T) {
		contexts := FindContext(document, "payment", 50)
		if len(contexts) != 1 {
			t.Fatalf("Expected 1 context, got %d", len(contexts))
		}

		ctx := contexts[0]
		if !strings.Contains(ctx.Text, "payment") {
			t.Errorf("Snippet must contain the keyword: %q", ctx.Text)
		}
		if !strings.HasPrefix(ctx.Text, "...") || !strings.HasSuffix(ctx.Text, "...") {
			t.Errorf("Truncated snippet needs ellipses on both sides: %q", ctx.Text)
		}
		if document[ctx.Position:ctx.Position+len("payment")] != "payment" {
			t.Errorf("Position %d does not point at the hit", ctx.Position)
		}
	})

	t.Run("NoEllipsisAtDocumentEdge", func(t *testing.T) {
		contexts := FindContext("payment due soon", "payment", 50)
		if len(contexts) != 1 {
			t.Fatalf("Expected 1 context, got %d", len(contexts))
		}
		if strings.Contains(contexts[0].Text, "...") {
			t.Errorf("Snippet covering the whole document needs no ellipses: %q", contexts[0].Text)
		}
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		contexts := FindContext("The PAYMENT is overdue", "payment", 50)
		if len(contexts) != 1 {
			t.Errorf("Expected case-insensitive match, got %v", contexts)
		}
	})

	t.Run("AllOccurrencesReported", func(t *testing.T) {
		contexts := FindContext("fee here, fee there, fee everywhere", "fee", 10)
		if len(contexts) != 3 {
			t.Errorf("Expected 3 contexts, got %d", len(contexts))
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		if contexts := FindContext("unrelated text", "payment", 50); len(contexts) != 0 {
			t.Errorf("Expected no contexts, got %v", contexts)
		}
	})
}

// TestAnswer tests response composition
func TestAnswer(t *testing.T) {
	t.Run("NoMatchMessage", func(t *testing.T) {
		answer := Answer("unrelated text", "what is the payment?")
		if !strings.Contains(answer, "No relevant information") {
			t.Errorf("Expected no-match message, got %q", answer)
		}
	})

	t.Run("ReportsPassageCount", func(t *testing.T) {
		answer := Answer("the payment is due", "payment due")
		if !strings.Contains(answer, "relevant passage") {
			t.Errorf("Expected passage summary, got %q", answer)
		}
	})
}
