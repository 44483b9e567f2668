package pii

// NERBackend defines a pluggable local inference backend for the
// statistical recognizer. Implementations may use ONNX Runtime or other
// engines.
//
// NewNERBackend creates a backend if supported by the current build. The
// default (no build tags) returns nil to avoid CGO dependencies; callers
// fall back to NoopRecognizer or a remote Recognizer.
// Implementations are provided in build-tagged files, e.g. ner_backend_onnx.go
// and ner_backend_stub.go.
type NERBackend interface {
	// Infer runs token classification over text and returns labeled spans.
	Infer(text string) ([]ModelSpan, error)
	// IsReady returns whether the backend is initialized and ready.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}
