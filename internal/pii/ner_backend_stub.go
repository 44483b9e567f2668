//go:build !onnx
// +build !onnx

package pii

import (
	"go.uber.org/zap"
)

// Stub implementation used when the 'onnx' build tag is not set.
func NewNERBackend(logger *zap.Logger, modelPath string, maxLength int) NERBackend {
	return nil
}
