package pii

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LocalRecognizer adapts an in-process NERBackend to the Recognizer
// boundary. When no backend is available for the current build it behaves
// like NoopRecognizer.
type LocalRecognizer struct {
	backend NERBackend
	logger  *zap.Logger
}

// NewLocalRecognizer wires a local inference backend, if the build
// provides one. modelPath points at the token-classification model.
func NewLocalRecognizer(logger *zap.Logger, modelPath string, maxLength int) *LocalRecognizer {
	backend := NewNERBackend(logger, modelPath, maxLength)
	if backend == nil {
		logger.Info("No local NER backend in this build, model detection disabled")
	}
	return &LocalRecognizer{backend: backend, logger: logger}
}

func (r *LocalRecognizer) Recognize(ctx context.Context, text string) ([]ModelSpan, error) {
	if r.backend == nil || !r.backend.IsReady() {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	spans, err := r.backend.Infer(text)
	if err != nil {
		return nil, fmt.Errorf("local NER inference failed: %w", err)
	}
	return spans, nil
}

// Close releases backend resources.
func (r *LocalRecognizer) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}
