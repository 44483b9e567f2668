// Package document handles plain-text extraction from uploads and
// rendering of session exports.
package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxDocumentSize bounds uploads; anything larger is rejected before
// detection runs.
const MaxDocumentSize = 10 << 20 // 10 MiB

// Extractor turns raw upload bytes into detector-ready text.
type Extractor interface {
	Extract(data []byte) (string, error)
	ContentTypes() []string
}

// Export is the material rendered for download.
type Export struct {
	SessionID      string            `json:"session_id"`
	AnonymizedText string            `json:"anonymized_text"`
	Mapping        map[string]string `json:"mapping,omitempty"`
	ExportedAt     time.Time         `json:"exported_at"`
}

// Renderer serializes an Export into one output format.
type Renderer interface {
	Render(export Export) ([]byte, error)
	ContentType() string
	Extension() string
}

// TextExtractor accepts UTF-8 plain text.
type TextExtractor struct{}

func (TextExtractor) Extract(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("document is empty")
	}
	if len(data) > MaxDocumentSize {
		return "", fmt.Errorf("document exceeds %d bytes", MaxDocumentSize)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("document is not valid UTF-8 text")
	}
	return string(data), nil
}

func (TextExtractor) ContentTypes() []string {
	return []string{"text/plain", "text/plain; charset=utf-8"}
}

// TextRenderer emits the anonymized text as-is, with a header block when
// a mapping is included.
type TextRenderer struct{}

func (TextRenderer) Render(export Export) ([]byte, error) {
	var b strings.Builder
	b.WriteString(export.AnonymizedText)
	if len(export.Mapping) > 0 {
		b.WriteString("\n\n--- Mapping ---\n")
		for placeholder, original := range export.Mapping {
			b.WriteString(fmt.Sprintf("%s: %s\n", placeholder, original))
		}
	}
	return []byte(b.String()), nil
}

func (TextRenderer) ContentType() string { return "text/plain; charset=utf-8" }
func (TextRenderer) Extension() string   { return "txt" }

// JSONRenderer emits the full export structure.
type JSONRenderer struct{}

func (JSONRenderer) Render(export Export) ([]byte, error) {
	return json.MarshalIndent(export, "", "  ")
}

func (JSONRenderer) ContentType() string { return "application/json" }
func (JSONRenderer) Extension() string   { return "json" }

// RendererFor maps a format name from the export URL to a renderer.
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "txt", "text":
		return TextRenderer{}, nil
	case "json":
		return JSONRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}
