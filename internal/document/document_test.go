package document

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// TestTextExtractor tests upload validation
func TestTextExtractor(t *testing.T) {
	extractor := TextExtractor{}

	t.Run("ValidText", func(t *testing.T) {
		text, err := extractor.Extract([]byte("hello world"))
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if text != "hello world" {
			t.Errorf("Unexpected text: %q", text)
		}
	})

	t.Run("EmptyRejected", func(t *testing.T) {
		if _, err := extractor.Extract(nil); err == nil {
			t.Fatal("Expected error for empty upload")
		}
	})

	t.Run("InvalidUTF8Rejected", func(t *testing.T) {
		if _, err := extractor.Extract([]byte{0xff, 0xfe, 0xfd}); err == nil {
			t.Fatal("Expected error for invalid UTF-8")
		}
	})
}

// TestRenderers tests export rendering
func TestRenderers(t *testing.T) {
	export := Export{
		SessionID:      "abc-123",
		AnonymizedText: "[PERSON_1] owes [COMPANY_A] money",
		ExportedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("Text", func(t *testing.T) {
		payload, err := TextRenderer{}.Render(export)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if string(payload) != export.AnonymizedText {
			t.Errorf("Text export without mapping must be the bare text, got %q", payload)
		}
	})

	t.Run("TextWithMapping", func(t *testing.T) {
		withMapping := export
		withMapping.Mapping = map[string]string{"Alice": "[PERSON_1]"}

		payload, err := TextRenderer{}.Render(withMapping)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if !strings.Contains(string(payload), "--- Mapping ---") {
			t.Errorf("Expected mapping section, got %q", payload)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		payload, err := JSONRenderer{}.Render(export)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}

		var decoded Export
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("JSON export is not valid JSON: %v", err)
		}
		if decoded.SessionID != "abc-123" || decoded.AnonymizedText != export.AnonymizedText {
			t.Errorf("JSON round trip mismatch: %+v", decoded)
		}
	})

	t.Run("RendererFor", func(t *testing.T) {
		for _, format := range []string{"txt", "TXT", "text", "json"} {
			if _, err := RendererFor(format); err != nil {
				t.Errorf("Expected renderer for %q, got error: %v", format, err)
			}
		}
		if _, err := RendererFor("pdf"); err == nil {
			t.Error("Expected error for unsupported format")
		}
	})
}
