// Package session связывает компоненты пайплайна в один поток обработки:
// приём байтов -> чанки -> VAD -> транскрипция + идентификация спикеров ->
// выровненные JSON-записи.
package session

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/ziadeh/flow-recap/ai"
	"github.com/ziadeh/flow-recap/audio"
	"github.com/ziadeh/flow-recap/diar"
	"github.com/ziadeh/flow-recap/internal/config"
	"github.com/ziadeh/flow-recap/internal/output"
)

const (
	// readSize размер одного чтения входного потока
	readSize = 4096

	// statusInterval период статусных записей с накопленными счётчиками
	statusInterval = 10 * time.Second
)

// Diarization собранные компоненты идентификации спикеров
type Diarization struct {
	Scheduler *diar.Scheduler
	Engine    *diar.Engine
	Aligner   *diar.Aligner
}

// Stream однопоточный цикл сессии. Все компоненты принадлежат ему;
// параллелизма нет, поэтому нет и блокировок вокруг состояния кластеризации.
type Stream struct {
	config *config.Config
	out    *output.Writer

	ingestor *audio.Ingestor
	gate     *ai.Gate // nil = VAD выключен
	asr      ai.Transcriber
	dedup    ai.Deduplicator

	diarization *Diarization // nil = только транскрипция

	// Хук привязки спикера; подменяется в тестах для проверки
	// отказоустойчивости
	assignSpeaker func(start, end float64) (diar.Assignment, error)

	// Счётчики сессии
	totalProcessedSamples int64 // На целевой частоте 16kHz
	totalBytesReceived    int64
	totalChunksRead       int64
	segmentsProduced      int

	// Дедупликация сегментов транскрипции по интервалу времени
	processedTextKeys map[string]struct{}

	stopped atomic.Bool
}

// NewStream собирает цикл сессии из готовых компонентов
func NewStream(cfg *config.Config, out *output.Writer, ingestor *audio.Ingestor, gate *ai.Gate, asr ai.Transcriber, d *Diarization) *Stream {
	s := &Stream{
		config:            cfg,
		out:               out,
		ingestor:          ingestor,
		gate:              gate,
		asr:               asr,
		diarization:       d,
		processedTextKeys: make(map[string]struct{}),
	}
	if d != nil {
		s.assignSpeaker = func(start, end float64) (diar.Assignment, error) {
			return d.Aligner.Assign(start, end), nil
		}
	}
	return s
}

// Stop просит цикл завершиться после текущего чтения
func (s *Stream) Stop() {
	s.stopped.Store(true)
}

// SegmentsProduced сколько сегментов транскрипции выпущено
func (s *Stream) SegmentsProduced() int { return s.segmentsProduced }

// processedSeconds секунды обработанного аудио (без начального смещения)
func (s *Stream) processedSeconds() float64 {
	return float64(s.totalProcessedSamples) / audio.TargetSampleRate
}

// Run читает входной поток до EOF или остановки, затем дренирует остатки
// и выпускает финальную запись complete
func (s *Stream) Run(r io.Reader) error {
	s.out.EmitStatus("Waiting for audio data...")

	buf := make([]byte, readSize)
	lastStatus := time.Now()

	for !s.stopped.Load() {
		n, err := r.Read(buf)
		if n > 0 {
			s.totalBytesReceived += int64(n)
			s.totalChunksRead++

			if s.totalChunksRead == 1 {
				s.out.Emit(output.Status{
					Type:    "status",
					Message: fmt.Sprintf("First audio chunk received: %d bytes", n),
				})
			}

			s.ingestor.Ingest(buf[:n])

			if time.Since(lastStatus) >= statusInterval {
				s.out.Emit(output.Status{
					Type: "status",
					Message: fmt.Sprintf("Audio stats: %.1f KB received, %d segments produced",
						float64(s.totalBytesReceived)/1024, s.segmentsProduced),
					BufferedSeconds: s.ingestor.BufferedSeconds(),
					TotalChunks:     s.totalChunksRead,
				})
				lastStatus = time.Now()
			}

			if s.ingestor.BufferedSeconds() >= s.config.ChunkDuration*0.9 {
				s.out.Emit(output.Status{
					Type:            "status",
					Message:         "Processing buffered audio...",
					BufferedSeconds: s.ingestor.BufferedSeconds(),
				})
			}

			for {
				chunk, ok := s.ingestor.TryDrain()
				if !ok {
					break
				}
				s.processChunk(chunk)
			}
		}

		if err == io.EOF {
			s.out.EmitStatus(fmt.Sprintf("End of audio stream. Total received: %.1f KB in %d chunks",
				float64(s.totalBytesReceived)/1024, s.totalChunksRead))
			break
		}
		if err != nil {
			s.out.EmitError(fmt.Sprintf("Error reading audio: %v. Received %.1f KB in %d chunks.",
				err, float64(s.totalBytesReceived)/1024, s.totalChunksRead), "READ_ERROR")
			return err
		}
	}

	s.drain()

	s.out.Emit(output.Complete{
		Type:               "complete",
		TotalSeconds:       s.processedSeconds(),
		TotalBytesReceived: s.totalBytesReceived,
		TotalChunks:        s.totalChunksRead,
		SegmentsProduced:   s.segmentsProduced,
	})

	return nil
}

// drain добирает хвост буфера и прогоняет финальный проход диаризации
func (s *Stream) drain() {
	s.out.EmitStatus("Processing remaining audio...")

	if tail, ok := s.ingestor.DrainRemaining(); ok {
		s.processChunk(tail)
	}

	if s.diarization != nil {
		for _, w := range s.diarization.Scheduler.Flush() {
			s.handleWindow(w)
		}
	}
}

// processChunk полный конвейер для одного чанка аудио (16kHz mono)
func (s *Stream) processChunk(chunk []float32) {
	levels := audio.CalculateLevels(chunk)
	log.Printf("[STREAM] chunk: %d samples (%.2fs), rms=%.4f peak=%.4f db=%.1f",
		len(chunk), float64(len(chunk))/audio.TargetSampleRate, levels.RMS, levels.Peak, levels.DBRMS)

	if levels.DBRMS < -60 {
		s.out.Emit(output.Status{
			Type:    "status",
			Message: fmt.Sprintf("Low audio level detected: %.1f dB RMS", levels.DBRMS),
			RMS:     levels.RMS,
			Peak:    levels.Peak,
			DBRMS:   levels.DBRMS,
		})
	}

	timeOffset := s.config.InitialTimeOffset + s.processedSeconds()
	s.totalProcessedSamples += int64(len(chunk))

	if s.gate != nil {
		if s.gate.Permissive() && levels.RMS < 1e-4 {
			s.out.Emit(output.Status{
				Type: "status",
				Message: fmt.Sprintf("AUDIO CAPTURE ISSUE: Near-silent audio (RMS: %.6f, dB: %.1f). Check audio device configuration.",
					levels.RMS, levels.DBRMS),
				RMS:          levels.RMS,
				DBRMS:        levels.DBRMS,
				CaptureIssue: true,
			})
		}

		if !s.gate.IsSpeech(chunk, levels) {
			hasVoice := false
			s.out.Emit(output.Status{
				Type: "status",
				Message: fmt.Sprintf("No voice activity detected (RMS: %.4f, dB: %.1f), skipping chunk",
					levels.RMS, levels.DBRMS),
				HasVoice: &hasVoice,
				RMS:      levels.RMS,
				DBRMS:    levels.DBRMS,
			})
			return
		}
	}

	segments := s.transcribe(chunk, timeOffset)

	// Окна эмбеддингов подаются только для чанков с распознанной речью:
	// решения по спикерам должны лечь в буфер выравнивания раньше, чем
	// сегменты текста заберут их оттуда
	if s.diarization != nil && len(segments) > 0 {
		for _, w := range s.diarization.Scheduler.Push(chunk) {
			s.handleWindow(w)
		}
	}

	for _, seg := range segments {
		s.emitSegment(seg)
	}
}

// transcribe распознаёт чанк и фильтрует результат: галлюцинации, низкая
// уверенность, повторы на стыках чанков, дубликаты интервалов
func (s *Stream) transcribe(chunk []float32, timeOffset float64) []ai.TranscriptSegment {
	raw, err := s.asr.TranscribeChunk(chunk, audio.TargetSampleRate)
	if err != nil {
		// Сбой ASR не фатален: пропускаем чанк, спикерный поток продолжается
		s.out.EmitError(fmt.Sprintf("Transcription error: %v", err), "TRANSCRIBE_ERROR")
		return nil
	}

	var accepted []ai.TranscriptSegment
	for _, seg := range raw {
		text := seg.Text

		if ai.IsLikelyHallucination(text, seg.Confidence, seg.HasConfidence) {
			s.out.Emit(output.Status{
				Type:     "status",
				Message:  fmt.Sprintf("[FILTER] Hallucination detected and filtered: '%s'", truncate(text, 50)),
				Filtered: true,
			})
			continue
		}

		if seg.HasConfidence && seg.Confidence < s.config.ConfidenceThreshold {
			s.out.Emit(output.Status{
				Type:     "status",
				Message:  fmt.Sprintf("[FILTER] Low confidence (%.2f): '%s'", seg.Confidence, truncate(text, 50)),
				Filtered: true,
			})
			continue
		}

		text = s.dedup.Deduplicate(text)
		if text == "" {
			continue
		}
		s.dedup.Update(text)

		seg.Text = text
		seg.Start += timeOffset
		seg.End += timeOffset

		// Один и тот же интервал не выпускается дважды: защита от повтора
		// после сброса предбуферизованного аудио
		key := fmt.Sprintf("%.2f-%.2f", seg.Start, seg.End)
		if _, dup := s.processedTextKeys[key]; dup {
			log.Printf("[STREAM] skipping duplicate segment %s", key)
			continue
		}
		s.processedTextKeys[key] = struct{}{}

		for i := range seg.Words {
			seg.Words[i].Start += timeOffset
			seg.Words[i].End += timeOffset
		}

		accepted = append(accepted, seg)
	}

	return accepted
}

// handleWindow проводит одно окно эмбеддинга через движок идентификации
// и выпускает события спикеров
func (s *Stream) handleWindow(w diar.EmbeddingWindow) {
	res := s.diarization.Engine.Process(w.Vector, w.Start, w.End)
	if res.Segment == nil {
		return
	}

	// Событие смены спикера идёт строго перед первым сегментом нового
	if res.Change != nil {
		s.out.Emit(output.SpeakerChange{
			Type:        "speaker_change",
			FromSpeaker: res.Change.From,
			ToSpeaker:   res.Change.To,
			Time:        res.Change.Time,
		})
	}

	if s.diarization.Aligner.Insert(*res.Segment) {
		s.out.Emit(output.SpeakerSegment{
			Type:       "speaker_segment",
			Speaker:    res.Segment.Speaker,
			Start:      res.Segment.Start,
			End:        res.Segment.End,
			Confidence: res.Segment.Confidence,
		})
	}
}

// emitSegment выпускает сегмент транскрипции, привязав спикера.
// Текст - главный инвариант пайплайна: какой бы сбой ни случился в
// диаризации, сегмент выходит всегда.
func (s *Stream) emitSegment(seg ai.TranscriptSegment) {
	rec := output.Segment{
		Type:  "segment",
		Text:  seg.Text,
		Start: seg.Start,
		End:   seg.End,
	}
	if seg.HasConfidence {
		conf := seg.Confidence
		rec.Confidence = &conf
	}
	if len(seg.Words) > 0 {
		words := make([]output.Word, len(seg.Words))
		for i, w := range seg.Words {
			words[i] = output.Word{Word: w.Word, Start: w.Start, End: w.End, Score: w.Score}
		}
		rec.Words = words
	}

	if s.diarization != nil {
		assignment, err := s.assignSpeaker(seg.Start, seg.End)
		if err != nil {
			if warn := s.diarization.Aligner.RecordFailure(err.Error(), s.processedSeconds()); warn != nil {
				s.emitHealthWarning(warn)
			}
			assignment = s.diarization.Aligner.FallbackAssignment(seg.Start)
		} else {
			if recovery := s.diarization.Aligner.RecordSuccess(); recovery != nil {
				s.emitHealthRecovery(recovery)
			}
		}

		rec.Speaker = assignment.Speaker
		conf := assignment.Confidence
		rec.SpeakerConfidence = &conf
		rec.SpeakerFallback = assignment.Fallback
	}

	s.out.Emit(rec)
	s.segmentsProduced++
}

func (s *Stream) emitHealthWarning(warn *diar.HealthWarningInfo) {
	s.out.Emit(output.HealthWarning{
		Type:                "diarization_health_warning",
		Message:             "Speaker identification experiencing issues - some speakers may not be identified",
		ConsecutiveFailures: warn.ConsecutiveFailures,
		TotalFailures:       warn.TotalFailures,
		LastFailureReason:   warn.LastFailureReason,
		LastFailureTime:     warn.LastFailureTime,
		IsRecoverable:       true,
		Recommendation: "Transcription will continue with fallback speaker IDs. " +
			"Speaker identification may recover automatically or can be " +
			"re-processed after the recording completes.",
	})
}

func (s *Stream) emitHealthRecovery(recovery *diar.HealthRecoveryInfo) {
	s.out.Emit(output.HealthRecovery{
		Type:                   "diarization_health_recovery",
		Message:                "Speaker identification has recovered and is working normally",
		TotalSegmentsProcessed: recovery.TotalSegmentsProcessed,
		PreviousFailures:       recovery.PreviousFailures,
	})
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
