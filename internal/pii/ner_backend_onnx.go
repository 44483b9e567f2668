//go:build onnx
// +build onnx

package pii

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// bioLabels is the fixed output head ordering for the bundled
// token-classification model: O plus B-/I- tags for each supported label.
var bioLabels = []string{
	"O",
	"B-PERSON", "I-PERSON",
	"B-ORG", "I-ORG",
	"B-GPE", "I-GPE",
	"B-DATE", "I-DATE",
	"B-LOC", "I-LOC",
	"B-FAC", "I-FAC",
}

// OnnxNERBackend implements NERBackend using ONNX Runtime
// (via yalue/onnxruntime_go).
type OnnxNERBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	vocab      map[string]int64
	unkID      int64
	maxLength  int
	logger     *zap.Logger
	ready      bool
	mu         sync.RWMutex
}

// NewNERBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
// Expects a vocab.txt next to the model file, one token per line.
func NewNERBackend(logger *zap.Logger, modelPath string, maxLength int) NERBackend {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelPath))
		return nil
	}
	if len(outputsInfo) == 0 {
		logger.Error("ONNX model reports no outputs", zap.String("model", modelPath))
		return nil
	}

	preferredInputs := []string{"input_ids", "attention_mask"}
	available := map[string]bool{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = true
	}
	var inputNames []string
	for _, name := range preferredInputs {
		if available[name] {
			inputNames = append(inputNames, name)
		}
	}
	if len(inputNames) == 0 {
		for _, ii := range inputsInfo {
			inputNames = append(inputNames, ii.Name)
		}
	}
	outputName := outputsInfo[0].Name

	vocab, unkID, err := loadVocab(filepath.Join(filepath.Dir(modelPath), "vocab.txt"))
	if err != nil {
		logger.Error("Failed to load model vocabulary", zap.Error(err))
		return nil
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	logger.Info("ONNX NER backend ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
		zap.Int("vocab_size", len(vocab)))

	return &OnnxNERBackend{
		session:    sess,
		inputNames: inputNames,
		outputName: outputName,
		vocab:      vocab,
		unkID:      unkID,
		maxLength:  maxLength,
		logger:     logger,
		ready:      true,
	}
}

func loadVocab(path string) (map[string]int64, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	vocab := make(map[string]int64)
	var unkID int64
	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		vocab[token] = id
		if token == "[UNK]" {
			unkID = id
		}
		id++
	}
	return vocab, unkID, scanner.Err()
}

// IsReady reports whether the backend is initialized.
func (b *OnnxNERBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxNERBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

type wordToken struct {
	text  string
	start int
	end   int
}

// tokenize splits text into whitespace/punctuation-delimited words,
// tracking byte offsets so predicted tags can be mapped back to spans.
func tokenize(text string, maxLength int) []wordToken {
	var tokens []wordToken
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			if start >= 0 {
				tokens = append(tokens, wordToken{text: text[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, wordToken{text: text[start:], start: start, end: len(text)})
	}
	if maxLength > 0 && len(tokens) > maxLength {
		tokens = tokens[:maxLength]
	}
	return tokens
}

// Infer runs token classification over text and decodes BIO tags into
// labeled spans.
func (b *OnnxNERBackend) Infer(text string) ([]ModelSpan, error) {
	if !b.IsReady() {
		return nil, fmt.Errorf("onnx backend not ready")
	}

	tokens := tokenize(text, b.maxLength)
	if len(tokens) == 0 {
		return nil, nil
	}
	seqLen := len(tokens)

	inputIDs := make([]int64, seqLen)
	attention := make([]int64, seqLen)
	for i, tok := range tokens {
		id, ok := b.vocab[strings.ToLower(tok.text)]
		if !ok {
			id = b.unkID
		}
		inputIDs[i] = id
		attention[i] = 1
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor[int64](shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, attention)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, rawName := range b.inputNames {
		name := strings.ToLower(rawName)
		if strings.Contains(name, "mask") || strings.Contains(name, "attention") {
			inputs = append(inputs, maskTensor)
		} else {
			inputs = append(inputs, idsTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if len(outputs) == 0 || outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	data := outTensor.GetData()
	outShape := outTensor.GetShape()
	if len(outShape) != 3 {
		return nil, fmt.Errorf("unsupported output shape %v", outShape)
	}
	numLabels := int(outShape[2])
	if numLabels != len(bioLabels) {
		return nil, fmt.Errorf("unexpected label head size %d (want %d)", numLabels, len(bioLabels))
	}
	if len(data) != seqLen*numLabels {
		return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), outShape)
	}

	tags := make([]string, seqLen)
	for i := 0; i < seqLen; i++ {
		best, bestScore := 0, data[i*numLabels]
		for j := 1; j < numLabels; j++ {
			if score := data[i*numLabels+j]; score > bestScore {
				best, bestScore = j, score
			}
		}
		tags[i] = bioLabels[best]
	}

	return decodeBIO(text, tokens, tags), nil
}

// decodeBIO merges contiguous B-/I- tagged tokens into labeled spans.
func decodeBIO(text string, tokens []wordToken, tags []string) []ModelSpan {
	var spans []ModelSpan
	var cur *ModelSpan
	for i, tag := range tags {
		if tag == "O" {
			cur = nil
			continue
		}
		label := tag[2:]
		if strings.HasPrefix(tag, "B-") || cur == nil || cur.Label != label {
			spans = append(spans, ModelSpan{
				Start: tokens[i].start,
				End:   tokens[i].end,
				Label: label,
			})
			cur = &spans[len(spans)-1]
		} else {
			cur.End = tokens[i].end
		}
		cur.Text = text[cur.Start:cur.End]
	}
	return spans
}
