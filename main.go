// Command flow-recap выполняет потоковую транскрипцию живых записей с
// онлайн-идентификацией спикеров. Аудио принимается как сырой PCM на stdin
// (или именованный канал / устройство захвата), результаты выдаются
// JSON-строками на stdout.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/ziadeh/flow-recap/ai"
	"github.com/ziadeh/flow-recap/audio"
	"github.com/ziadeh/flow-recap/diar"
	"github.com/ziadeh/flow-recap/internal/config"
	"github.com/ziadeh/flow-recap/internal/output"
	"github.com/ziadeh/flow-recap/session"
)

// Параметры скользящего окна эмбеддингов
const (
	embeddingWindowSeconds = 2.0
	embeddingHopSeconds    = 0.5
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	// Логи только в stderr: stdout принадлежит JSON-записям
	log.SetOutput(os.Stderr)
	logFile := setupLogging(cfg.TraceLog)
	if logFile != nil {
		defer logFile.Close()
	}

	out := output.NewWriter(os.Stdout)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "flow-recap: %v\n", err)
		return 2
	}

	sessionID := uuid.New().String()
	log.Printf("[MAIN] session %s starting", sessionID)

	if cfg.WSListen != "" {
		hub, err := output.NewHub(cfg.WSListen)
		if err != nil {
			log.Printf("[MAIN] websocket mirror disabled: %v", err)
		} else {
			out.AttachHub(hub)
			defer hub.Close()
		}
	}

	// ASR обязателен: без распознавания сессия не имеет смысла
	asr, err := ai.NewSherpaASR(ai.SherpaASRConfig{
		ModelsDir: cfg.ModelsDir,
		ModelSize: cfg.Model,
		Language:  cfg.Language,
		Device:    cfg.Device,
	})
	if err != nil {
		out.EmitError(fmt.Sprintf("No transcription backend available: %v", err), "NO_BACKEND")
		return 1
	}
	defer asr.Close()

	gate := setupVAD(cfg, out)

	diarization := setupDiarization(cfg, out)

	src, err := session.OpenInput(cfg)
	if err != nil {
		out.EmitError(err.Error(), "INPUT_ERROR")
		return 1
	}
	if src.Closer != nil {
		defer src.Closer.Close()
	}

	ingestor := audio.NewIngestor(audio.IngestorConfig{
		SampleRate:    src.SampleRate,
		Channels:      src.Channels,
		BitDepth:      src.BitDepth,
		ChunkDuration: cfg.ChunkDuration,
	})

	stream := session.NewStream(cfg, out, ingestor, gate, asr, diarization)

	// SIGINT/SIGTERM: останавливаем цикл и разблокируем чтение
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("[MAIN] interrupt received, draining")
		stream.Stop()
		if src.Closer != nil {
			src.Closer.Close()
		} else {
			os.Stdin.Close()
		}
	}()

	resampleMethod := ""
	needsResample := src.SampleRate != audio.TargetSampleRate
	if needsResample {
		resampleMethod = audio.NewResampler(src.SampleRate, audio.TargetSampleRate).Method()
		out.EmitStatus(fmt.Sprintf("Audio resampling enabled: %dHz -> %dHz (using %s)",
			src.SampleRate, audio.TargetSampleRate, resampleMethod))
	}

	ready := output.Ready{
		Type:             "ready",
		Backend:          asr.Backend(),
		Model:            cfg.Model,
		Device:           cfg.Device,
		SessionID:        sessionID,
		SampleRate:       src.SampleRate,
		TargetSampleRate: audio.TargetSampleRate,
		NeedsResample:    needsResample,
		ResampleMethod:   resampleMethod,
		ChunkDuration:    cfg.ChunkDuration,
		VADEnabled:       cfg.UseVAD,
		PermissiveVAD:    cfg.PermissiveVAD,
	}
	if diarization != nil {
		ready.DiarizationEnabled = true
		ready.MaxSpeakers = cfg.MaxSpeakers
		ready.SimilarityThresh = cfg.SimilarityThresh
	}
	out.Emit(ready)

	if err := stream.Run(src.Reader); err != nil {
		return 1
	}

	log.Printf("[MAIN] session %s complete: %d segments", sessionID, stream.SegmentsProduced())
	return 0
}

// setupVAD собирает гейт голосовой активности. Отсутствие Silero модели не
// фатально: остаётся энергетический детектор.
func setupVAD(cfg *config.Config, out *output.Writer) *ai.Gate {
	if !cfg.UseVAD {
		return nil
	}

	mode := "standard"
	if cfg.PermissiveVAD {
		mode = "permissive (system audio)"
	}

	neural, err := ai.NewSileroVAD(filepath.Join(cfg.ModelsDir, "silero_vad.onnx"), audio.TargetSampleRate)
	if err != nil {
		log.Printf("[MAIN] Silero VAD unavailable: %v", err)
		out.EmitStatus(fmt.Sprintf("Using energy-based VAD (%s mode, Silero not available)", mode))
		return ai.NewGate(nil, cfg.PermissiveVAD, audio.TargetSampleRate)
	}

	out.EmitStatus(fmt.Sprintf("Silero VAD enabled (%s mode)", mode))
	return ai.NewGate(neural, cfg.PermissiveVAD, audio.TargetSampleRate)
}

// setupDiarization инициализирует идентификацию спикеров. Любой отказ
// раскрывается записью diarization_unavailable, и сессия продолжается
// в режиме "только транскрипция".
func setupDiarization(cfg *config.Config, out *output.Writer) *session.Diarization {
	if !cfg.EnableDiarization {
		return nil
	}

	extractor := selectEmbeddingBackend(cfg, out)
	if extractor == nil {
		return nil
	}

	out.Emit(output.DiarizationAvailable{
		Type:    "diarization_available",
		Message: "Speaker diarization enabled with embedding-based speaker identification",
		Capabilities: output.Capabilities{
			SpeakerEmbeddings:      true,
			SpeakerClustering:      true,
			SpeakerChangeDetection: true,
			MaxSpeakers:            cfg.MaxSpeakers,
			SimilarityThreshold:    cfg.SimilarityThresh,
			EmbeddingBackend:       extractor.Backend(),
		},
	})
	out.EmitStatus(fmt.Sprintf("Speaker diarization enabled (max %d speakers, threshold %g)",
		cfg.MaxSpeakers, cfg.SimilarityThresh))

	return &session.Diarization{
		Scheduler: diar.NewScheduler(extractor, embeddingWindowSeconds, embeddingHopSeconds,
			audio.TargetSampleRate, cfg.InitialTimeOffset),
		Engine: diar.NewEngine(diar.EngineConfig{
			SimilarityThreshold: cfg.SimilarityThresh,
			MaxSpeakers:         cfg.MaxSpeakers,
		}),
		Aligner: diar.NewAligner(),
	}
}

// transcriptionOnly capabilities для записей об отказе диаризации
var transcriptionOnly = output.Capabilities{TranscriptionOnly: true}

// selectEmbeddingBackend выбирает движок эмбеддингов один раз на сессию.
// Референсный wespeaker-onnx требует токен model-hub (gated модель);
// sherpa работает без авторизации и служит резервом.
func selectEmbeddingBackend(cfg *config.Config, out *output.Writer) ai.EmbeddingExtractor {
	wespeakerPath := filepath.Join(cfg.ModelsDir, "wespeaker-resnet34.onnx")
	sherpaPath := filepath.Join(cfg.ModelsDir, "3dspeaker-eres2net.onnx")

	if cfg.HFToken == "" {
		out.Emit(output.DiarizationUnavailable{
			Type:    "diarization_unavailable",
			Message: "Speaker diarization requires Hugging Face authentication. Please set up your HF_TOKEN.",
			Reason:  "authentication_required",
			Details: "The reference speaker embedding model is gated. Create an access token at " +
				"https://huggingface.co/settings/tokens and export it as HF_TOKEN.",
			Capabilities: transcriptionOnly,
		})
		// Пробуем резервный backend без авторизации
		if encoder, err := ai.NewSherpaEncoder(sherpaPath, 0); err == nil {
			out.EmitStatus("Attempting to use sherpa embedding backend as fallback (no HF_TOKEN required)...")
			return encoder
		}
		return nil
	}

	encoder, err := ai.NewSpeakerEncoder(ai.DefaultSpeakerEncoderConfig(wespeakerPath))
	if err == nil {
		return encoder
	}
	log.Printf("[MAIN] wespeaker backend failed: %v", err)

	if fallback, ferr := ai.NewSherpaEncoder(sherpaPath, 0); ferr == nil {
		out.EmitStatus("Reference embedding backend unavailable, using sherpa fallback")
		return fallback
	}

	out.Emit(output.DiarizationUnavailable{
		Type:         "diarization_unavailable",
		Message:      "Speaker diarization failed to initialize. The embedding model could not be loaded.",
		Reason:       "model_load_failed",
		Details:      err.Error(),
		Capabilities: transcriptionOnly,
	})
	return nil
}

func setupLogging(path string) *os.File {
	if path == "" {
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open trace log %s: %v\n", path, err)
		return nil
	}

	log.SetOutput(io.MultiWriter(os.Stderr, file))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Printf("trace log attached: %s", path)

	return file
}
