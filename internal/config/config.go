// Package config собирает CLI-флаги и окружение в единую конфигурацию процесса
package config

import (
	"flag"
	"fmt"
	"os"
)

// Config конфигурация одного запуска потоковой транскрипции
type Config struct {
	// Модели
	Model     string // Размер/имя модели ASR
	Language  string // Код языка (en, ru, ...)
	Device    string // cpu или cuda
	ModelsDir string // Директория с моделями (ONNX)

	// Формат входного PCM
	SampleRate  int
	Channels    int
	BitDepth    int
	InputFormat string // pcm или mp3

	// Источники входа
	PipePath    string // Именованный канал вместо stdin
	CaptureName string // Имя устройства захвата (malgo) вместо stdin

	// Буферизация
	ChunkDuration     float64 // Секунд аудио на один чанк транскрипции
	InitialTimeOffset float64 // Смещение таймстемпов для предбуферизованного аудио

	// Фильтрация
	ConfidenceThreshold float64
	UseVAD              bool
	PermissiveVAD       bool

	// Диаризация
	EnableDiarization bool
	SimilarityThresh  float64
	MaxSpeakers       int

	// Выход
	WSListen string // Адрес websocket-зеркала выходных записей
	TraceLog string // Файл для дублирования логов

	// Окружение
	HFToken string // Токен model-hub для gated embedding моделей
}

// Load парсит флаги и окружение. Ошибки использования флагов завершают
// процесс с кодом 2 (стандартное поведение flag.ExitOnError).
func Load() *Config {
	model := flag.String("model", "base", "ASR model size (tiny, base, small, medium, large-v3)")
	language := flag.String("language", "en", "Language code")
	device := flag.String("device", "cpu", "Compute device hint (cpu, cuda)")
	modelsDir := flag.String("models-dir", "", "Directory with ONNX models (default: $FLOWRECAP_MODELS_DIR or ./models)")

	sampleRate := flag.Int("sample-rate", 16000, "Input sample rate in Hz")
	channels := flag.Int("channels", 1, "Number of input channels (1 or 2)")
	bitDepth := flag.Int("bit-depth", 16, "Bits per sample (16 or 32)")
	inputFormat := flag.String("input-format", "pcm", "Input stream format: pcm or mp3")

	pipePath := flag.String("pipe", "", "Read audio from a named pipe instead of stdin")
	captureName := flag.String("capture", "", "Capture live audio from the named device instead of stdin")

	chunkDuration := flag.Float64("chunk-duration", 5.0, "Seconds of audio to buffer before transcribing")
	initialOffset := flag.Float64("initial-time-offset", 0.0, "Initial time offset for buffered audio replay")

	confThreshold := flag.Float64("confidence-threshold", 0.3, "Minimum confidence to accept a segment")
	noVAD := flag.Bool("no-vad", false, "Disable voice activity detection")
	permissiveVAD := flag.Bool("permissive-vad", false, "Permissive VAD settings for system/virtual-cable audio")

	diarization := flag.Bool("diarization", false, "Enable real-time speaker diarization")
	diarThreshold := flag.Float64("diarization-threshold", 0.30, "Speaker similarity threshold (higher = more speakers)")
	maxSpeakers := flag.Int("max-speakers", 10, "Maximum number of speakers to track")

	wsListen := flag.String("ws-listen", "", "Mirror output records on a websocket listener (host:port)")
	traceLog := flag.String("trace-log", "", "Duplicate logs into this file")

	flag.Parse()

	finalModelsDir := *modelsDir
	if finalModelsDir == "" {
		finalModelsDir = os.Getenv("FLOWRECAP_MODELS_DIR")
	}
	if finalModelsDir == "" {
		finalModelsDir = "models"
	}

	return &Config{
		Model:               *model,
		Language:            *language,
		Device:              *device,
		ModelsDir:           finalModelsDir,
		SampleRate:          *sampleRate,
		Channels:            *channels,
		BitDepth:            *bitDepth,
		InputFormat:         *inputFormat,
		PipePath:            *pipePath,
		CaptureName:         *captureName,
		ChunkDuration:       *chunkDuration,
		InitialTimeOffset:   *initialOffset,
		ConfidenceThreshold: *confThreshold,
		UseVAD:              !*noVAD,
		PermissiveVAD:       *permissiveVAD,
		EnableDiarization:   *diarization,
		SimilarityThresh:    *diarThreshold,
		MaxSpeakers:         *maxSpeakers,
		WSListen:            *wsListen,
		TraceLog:            *traceLog,
		HFToken:             os.Getenv("HF_TOKEN"),
	}
}

// Validate проверяет корректность сочетания параметров
func (c *Config) Validate() error {
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BitDepth != 16 && c.BitDepth != 32 {
		return fmt.Errorf("bit depth must be 16 or 32, got %d", c.BitDepth)
	}
	if c.InputFormat != "pcm" && c.InputFormat != "mp3" {
		return fmt.Errorf("input format must be pcm or mp3, got %q", c.InputFormat)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %g", c.ChunkDuration)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.MaxSpeakers < 1 {
		return fmt.Errorf("max speakers must be at least 1, got %d", c.MaxSpeakers)
	}
	if c.PipePath != "" && c.CaptureName != "" {
		return fmt.Errorf("--pipe and --capture are mutually exclusive")
	}
	return nil
}
