package ai

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SherpaASRConfig конфигурация offline-распознавателя sherpa-onnx
type SherpaASRConfig struct {
	ModelsDir  string // Директория с whisper-<size>-{encoder,decoder}.onnx и tokens
	ModelSize  string // tiny, base, small, medium, large-v3
	Language   string
	Device     string // cpu или cuda
	NumThreads int
}

// SherpaASR распознаватель речи на базе sherpa-onnx (whisper модели).
// Держит одну нативную сессию под мьютексом: распознавание чанков идёт
// строго последовательно, как и весь пайплайн.
type SherpaASR struct {
	config     SherpaASRConfig
	recognizer *sherpa.OfflineRecognizer

	mu          sync.Mutex
	initialized bool
}

// NewSherpaASR загружает whisper модель из ModelsDir
func NewSherpaASR(config SherpaASRConfig) (*SherpaASR, error) {
	if config.NumThreads <= 0 {
		config.NumThreads = 4
	}

	prefix := filepath.Join(config.ModelsDir, "whisper-"+config.ModelSize)
	encoderPath := prefix + "-encoder.onnx"
	decoderPath := prefix + "-decoder.onnx"
	tokensPath := prefix + "-tokens.txt"

	for _, p := range []string{encoderPath, decoderPath, tokensPath} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, fmt.Errorf("ASR model file not found: %s", p)
		}
	}

	provider := "cpu"
	if config.Device == "cuda" {
		provider = "cuda"
	}

	recognizerConfig := sherpa.OfflineRecognizerConfig{}
	recognizerConfig.FeatConfig.SampleRate = 16000
	recognizerConfig.FeatConfig.FeatureDim = 80
	recognizerConfig.ModelConfig.Whisper.Encoder = encoderPath
	recognizerConfig.ModelConfig.Whisper.Decoder = decoderPath
	recognizerConfig.ModelConfig.Whisper.Language = config.Language
	recognizerConfig.ModelConfig.Whisper.Task = "transcribe"
	recognizerConfig.ModelConfig.Tokens = tokensPath
	recognizerConfig.ModelConfig.NumThreads = config.NumThreads
	recognizerConfig.ModelConfig.Provider = provider
	recognizerConfig.ModelConfig.Debug = 0

	recognizer := sherpa.NewOfflineRecognizer(&recognizerConfig)
	if recognizer == nil {
		// CUDA может быть недоступна в рантайме - пробуем CPU
		if provider != "cpu" {
			log.Printf("[ASR] %s provider failed, falling back to CPU", provider)
			recognizerConfig.ModelConfig.Provider = "cpu"
			recognizer = sherpa.NewOfflineRecognizer(&recognizerConfig)
		}
		if recognizer == nil {
			return nil, fmt.Errorf("failed to create sherpa recognizer (model=%s)", config.ModelSize)
		}
	}

	log.Printf("[ASR] sherpa whisper-%s loaded (provider=%s, threads=%d)",
		config.ModelSize, recognizerConfig.ModelConfig.Provider, config.NumThreads)

	return &SherpaASR{
		config:      config,
		recognizer:  recognizer,
		initialized: true,
	}, nil
}

// TranscribeChunk распознаёт один чанк. Результат whisper - целый текст
// с токен-таймстемпами; собираем его в один сегмент со словами.
func (a *SherpaASR) TranscribeChunk(samples []float32, sampleRate int) ([]TranscriptSegment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("recognizer not initialized")
	}
	if len(samples) == 0 {
		return nil, nil
	}

	stream := sherpa.NewOfflineStream(a.recognizer)
	if stream == nil {
		return nil, fmt.Errorf("failed to create recognizer stream")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	a.recognizer.Decode(stream)

	result := stream.GetResult()
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, nil
	}

	duration := float64(len(samples)) / float64(sampleRate)

	seg := TranscriptSegment{
		Text:  text,
		Start: 0,
		End:   duration,
	}

	// Токен-таймстемпы, если модель их вернула
	if len(result.Tokens) > 0 && len(result.Timestamps) == len(result.Tokens) {
		words := make([]TranscriptWord, 0, len(result.Tokens))
		for i, token := range result.Tokens {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			start := float64(result.Timestamps[i])
			end := duration
			if i+1 < len(result.Timestamps) {
				end = float64(result.Timestamps[i+1])
			}
			words = append(words, TranscriptWord{Word: token, Start: start, End: end})
		}
		if len(words) > 0 {
			seg.Words = words
			seg.Start = words[0].Start
			seg.End = words[len(words)-1].End
		}
	}

	return []TranscriptSegment{seg}, nil
}

// Backend имя движка
func (a *SherpaASR) Backend() string { return "sherpa-whisper" }

// Close освобождает нативный распознаватель
func (a *SherpaASR) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(a.recognizer)
		a.recognizer = nil
	}
	a.initialized = false
}
