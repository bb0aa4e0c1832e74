package ai

import (
	"fmt"
	"log"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SpeakerEncoderConfig конфигурация ONNX энкодера голоса
type SpeakerEncoderConfig struct {
	ModelPath  string
	SampleRate int
	NumMels    int
	HopLength  int
	WinLength  int
	FFTSize    int
}

// DefaultSpeakerEncoderConfig параметры для WeSpeaker ResNet34 ONNX
func DefaultSpeakerEncoderConfig(modelPath string) SpeakerEncoderConfig {
	return SpeakerEncoderConfig{
		ModelPath:  modelPath,
		SampleRate: 16000,
		NumMels:    80,
		HopLength:  160, // 10ms
		WinLength:  400, // 25ms
		FFTSize:    512,
	}
}

// SpeakerEncoder извлекает эмбеддинг голоса через ONNX Runtime.
// Это референсный (gated) backend: модель распространяется через model-hub
// с авторизацией, поэтому инициализация проверяется на уровне выше.
type SpeakerEncoder struct {
	config   SpeakerEncoderConfig
	session  *ort.DynamicAdvancedSession
	features *FeatureExtractor

	mu          sync.Mutex
	initialized bool
}

// NewSpeakerEncoder загружает модель и готовит акустический фронтенд
func NewSpeakerEncoder(config SpeakerEncoderConfig) (*SpeakerEncoder, error) {
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("embedding model not found: %s", config.ModelPath)
	}

	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}

	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputNames[i] = info.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(config.ModelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Printf("[ENCODER] wespeaker-onnx loaded: inputs=%v outputs=%v", inputNames, outputNames)

	return &SpeakerEncoder{
		config:  config,
		session: session,
		features: NewFeatureExtractor(FeatureConfig{
			SampleRate: config.SampleRate,
			NumMels:    config.NumMels,
			HopLength:  config.HopLength,
			WinLength:  config.WinLength,
			FFTSize:    config.FFTSize,
		}),
		initialized: true,
	}, nil
}

// Extract извлекает нормированный эмбеддинг из аудио.
// Модель ожидает [batch, frames, mels].
func (e *SpeakerEncoder) Extract(samples []float32, sampleRate int) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, fmt.Errorf("encoder not initialized")
	}
	if sampleRate != e.config.SampleRate {
		return nil, fmt.Errorf("encoder expects %dHz, got %dHz", e.config.SampleRate, sampleRate)
	}
	if len(samples) < e.config.SampleRate/10 {
		return nil, fmt.Errorf("audio too short for embedding extraction")
	}

	features, numFrames := e.features.Compute(samples)

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, int64(numFrames), int64(e.config.NumMels)),
		features,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	raw := outputs[0].(*ort.Tensor[float32]).GetData()
	return normalizeEmbedding(raw), nil
}

// Backend имя движка
func (e *SpeakerEncoder) Backend() string { return "wespeaker-onnx" }

// Close освобождает ONNX сессию
func (e *SpeakerEncoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.initialized = false
}
