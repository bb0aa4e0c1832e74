package diar

import (
	"log"

	"github.com/ziadeh/flow-recap/ai"
)

// Параметры скользящего окна эмбеддингов
const (
	// minWindowSeconds окна короче этого (хвост потока) дополняются нулями,
	// но никогда не отбрасываются
	minWindowSeconds = 0.5
)

// EmbeddingWindow эмбеддинг одного окна с интервалом времени
type EmbeddingWindow struct {
	Vector []float64
	Start  float64
	End    float64
}

// Scheduler скользит окном фиксированной длины по потоку сэмплов и
// извлекает эмбеддинг на каждом шаге. Кольцевой буфер держит не больше
// одного окна плюс недобранный hop; после Reset движка планировщик не
// перезапускается - создаётся новый.
type Scheduler struct {
	extractor ai.EmbeddingExtractor

	sampleRate    int
	windowSamples int
	hopSamples    int
	windowSeconds float64
	hopSeconds    float64

	buf []float32

	// offset секунды уже обработанного аудио (плюс начальное смещение).
	// При сбое экстракции окно пропускается без продвижения offset.
	offset float64
}

// NewScheduler создаёт планировщик окон
func NewScheduler(extractor ai.EmbeddingExtractor, windowSeconds, hopSeconds float64, sampleRate int, initialOffset float64) *Scheduler {
	return &Scheduler{
		extractor:     extractor,
		sampleRate:    sampleRate,
		windowSamples: int(windowSeconds * float64(sampleRate)),
		hopSamples:    int(hopSeconds * float64(sampleRate)),
		windowSeconds: windowSeconds,
		hopSeconds:    hopSeconds,
		offset:        initialOffset,
	}
}

// Push добавляет сэмплы и возвращает эмбеддинги всех полных окон.
// Сбой экстракции пропускает окно (сдвиг есть, продвижения времени нет);
// поток не прерывается никогда.
func (s *Scheduler) Push(samples []float32) []EmbeddingWindow {
	s.buf = append(s.buf, samples...)

	var windows []EmbeddingWindow
	for len(s.buf) >= s.windowSamples {
		vec, err := s.extractor.Extract(s.buf[:s.windowSamples], s.sampleRate)
		if err != nil {
			log.Printf("[DIARIZE] embedding extraction failed, skipping window: %v", err)
		} else {
			windows = append(windows, EmbeddingWindow{
				Vector: vec,
				Start:  s.offset,
				End:    s.offset + s.windowSeconds,
			})
			s.offset += s.hopSeconds
		}

		rest := copy(s.buf, s.buf[s.hopSamples:])
		s.buf = s.buf[:rest]
	}

	return windows
}

// Flush обрабатывает остаток буфера при завершении потока. Короткий хвост
// дополняется нулями до минимальной длины окна.
func (s *Scheduler) Flush() []EmbeddingWindow {
	if len(s.buf) == 0 {
		return nil
	}

	tail := s.buf
	duration := float64(len(tail)) / float64(s.sampleRate)

	minSamples := int(minWindowSeconds * float64(s.sampleRate))
	if len(tail) < minSamples {
		padded := make([]float32, minSamples)
		copy(padded, tail)
		tail = padded
	}

	s.buf = nil

	vec, err := s.extractor.Extract(tail, s.sampleRate)
	if err != nil {
		log.Printf("[DIARIZE] embedding extraction failed on final window: %v", err)
		return nil
	}

	return []EmbeddingWindow{{
		Vector: vec,
		Start:  s.offset,
		End:    s.offset + duration,
	}}
}
