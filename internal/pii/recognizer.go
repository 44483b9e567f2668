package pii

import "context"

// modelConfidence is the fixed confidence assigned to model-supplied spans.
// The recognizer is an opaque capability; it reports no scores of its own.
const modelConfidence = 0.9

// modelLabels is the label set a statistical recognizer may emit. Spans
// with other labels are dropped.
var modelLabels = map[EntityType]bool{
	TypePerson: true,
	TypeOrg:    true,
	TypeGPE:    true,
	TypeDate:   true,
	TypeLoc:    true,
	TypeFac:    true,
}

// ModelSpan is a labeled span produced by an external statistical
// recognizer.
type ModelSpan struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// Recognizer is the boundary to the external named-entity recognizer.
// Implementations may call out to a model server or run inference locally;
// the core only consumes labeled spans.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]ModelSpan, error)
}

// FromModelSpans converts recognizer output into entities, filtering
// unknown labels and stamping the fixed model confidence.
func FromModelSpans(spans []ModelSpan) []Entity {
	entities := make([]Entity, 0, len(spans))
	for _, s := range spans {
		label := EntityType(s.Label)
		if !modelLabels[label] {
			continue
		}
		entities = append(entities, Entity{
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Type:       label,
			Method:     MethodModel,
			Confidence: modelConfidence,
		})
	}
	return entities
}

// NoopRecognizer is used when no statistical recognizer is configured.
// Pattern detection still runs; model spans are simply absent.
type NoopRecognizer struct{}

func (NoopRecognizer) Recognize(ctx context.Context, text string) ([]ModelSpan, error) {
	return nil, nil
}
