package ai

import (
	"fmt"
	"log"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SherpaEncoder энкодер голоса на базе sherpa-onnx (3D-Speaker / NeMo модели).
// Резервный backend: модель не требует авторизации в model-hub, поэтому
// используется когда референсный gated-энкодер недоступен.
type SherpaEncoder struct {
	extractor *sherpa.SpeakerEmbeddingExtractor

	mu          sync.Mutex
	initialized bool
}

// NewSherpaEncoder создаёт экстрактор эмбеддингов sherpa-onnx
func NewSherpaEncoder(modelPath string, numThreads int) (*SherpaEncoder, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("embedding model not found: %s", modelPath)
	}
	if numThreads <= 0 {
		numThreads = 2
	}

	config := sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      modelPath,
		NumThreads: numThreads,
		Debug:      0,
		Provider:   "cpu",
	}

	extractor := sherpa.NewSpeakerEmbeddingExtractor(&config)
	if extractor == nil {
		return nil, fmt.Errorf("failed to create sherpa embedding extractor")
	}

	log.Printf("[ENCODER] sherpa embedding extractor loaded: %s (dim=%d)", modelPath, extractor.Dim())

	return &SherpaEncoder{extractor: extractor, initialized: true}, nil
}

// Extract извлекает нормированный эмбеддинг из аудио
func (e *SherpaEncoder) Extract(samples []float32, sampleRate int) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, fmt.Errorf("encoder not initialized")
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty audio")
	}

	stream := e.extractor.CreateStream()
	if stream == nil {
		return nil, fmt.Errorf("failed to create extractor stream")
	}
	defer sherpa.DeleteOnlineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	stream.InputFinished()

	if !e.extractor.IsReady(stream) {
		return nil, fmt.Errorf("not enough audio for embedding extraction")
	}

	raw := e.extractor.Compute(stream)
	if len(raw) == 0 {
		return nil, fmt.Errorf("extraction returned empty embedding")
	}

	return normalizeEmbedding(raw), nil
}

// Backend имя движка
func (e *SherpaEncoder) Backend() string { return "sherpa" }

// Close освобождает нативные ресурсы
func (e *SherpaEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.extractor != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.extractor)
		e.extractor = nil
	}
	e.initialized = false
}
