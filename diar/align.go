package diar

import (
	"fmt"
	"log"
	"math"
)

const (
	// alignmentWindowSeconds сколько секунд решений держит буфер выравнивания
	alignmentWindowSeconds = 300.0

	// boundaryToleranceSeconds допуск поиска ближайшей границы: покрывает
	// рассинхрон конвейеров ASR и диаризации
	boundaryToleranceSeconds = 3.0

	// failureThreshold после скольких подряд сбоев выравнивания выдаётся
	// предупреждение о здоровье диаризации
	failureThreshold = 3

	// recoveryRun сколько успехов подряд (строго больше) нужно для записи
	// о восстановлении
	recoveryRun = 5
)

// Assignment результат привязки спикера к сегменту транскрипции.
// Либо спикер из живого набора профилей, либо синтетический fallback -
// третьего не дано: сегмент без атрибуции не выпускается.
type Assignment struct {
	Speaker    string
	Confidence float64
	Fallback   bool
}

// HealthWarningInfo данные для записи diarization_health_warning
type HealthWarningInfo struct {
	ConsecutiveFailures int
	TotalFailures       int
	LastFailureReason   string
	LastFailureTime     float64
}

// HealthRecoveryInfo данные для записи diarization_health_recovery
type HealthRecoveryInfo struct {
	TotalSegmentsProcessed int
	PreviousFailures       int
}

// Aligner привязывает сегменты транскрипции к решениям движка идентификации
// по взвешенному перекрытию времени, с цепочкой fallback-ов и мониторингом
// здоровья. Текст транскрипции - неприкосновенный груз: ни один сбой здесь
// не должен помешать сегменту выйти в поток.
type Aligner struct {
	buffer []SpeakerSegment
	seen   map[string]float64 // ключ -> t_end для GC

	lastKnownSpeaker    string
	lastKnownConfidence float64

	// Мониторинг здоровья
	consecutiveFailures int
	totalFailures       int
	totalSegments       int
	successRun          int
	warningOutstanding  bool
	lastFailureReason   string
	lastFailureTime     float64
}

// NewAligner создаёт пустой буфер выравнивания
func NewAligner() *Aligner {
	return &Aligner{seen: make(map[string]float64)}
}

// Insert добавляет решение движка в буфер. Повтор по ключу времени
// игнорируется. После вставки буфер подрезается до окна в 300 секунд.
func (a *Aligner) Insert(seg SpeakerSegment) bool {
	key := segmentKey(seg.Start, seg.End)
	if _, dup := a.seen[key]; dup {
		return false
	}
	a.seen[key] = seg.End
	a.buffer = append(a.buffer, seg)

	// Кэш последнего спикера для аварийного fallback
	a.lastKnownSpeaker = seg.Speaker
	a.lastKnownConfidence = seg.Confidence

	a.gc(seg.End)
	return true
}

// gc выбрасывает решения старше окна относительно свежайшего t_end
func (a *Aligner) gc(newestEnd float64) {
	if newestEnd <= alignmentWindowSeconds {
		return
	}
	cutoff := newestEnd - alignmentWindowSeconds

	kept := a.buffer[:0]
	for _, seg := range a.buffer {
		if seg.End > cutoff {
			kept = append(kept, seg)
		}
	}
	a.buffer = kept

	for key, end := range a.seen {
		if end <= cutoff {
			delete(a.seen, key)
		}
	}
}

// Assign подбирает спикера для сегмента транскрипции [start, end].
// Порядок: перекрытие -> ближайшая граница -> последний известный ->
// синтетический id. Никогда не возвращает пустого спикера.
func (a *Aligner) Assign(start, end float64) Assignment {
	// 1. Взвешенное перекрытие. Накопление в порядке буфера, выбор строго
	// большего - чтобы повтор одного и того же входа давал идентичный выход
	type speakerOverlap struct {
		speaker string
		total   float64
	}
	var overlaps []speakerOverlap
	for _, seg := range a.buffer {
		ov := math.Min(end, seg.End) - math.Max(start, seg.Start)
		if ov <= 0 {
			continue
		}
		found := false
		for i := range overlaps {
			if overlaps[i].speaker == seg.Speaker {
				overlaps[i].total += ov
				found = true
				break
			}
		}
		if !found {
			overlaps = append(overlaps, speakerOverlap{seg.Speaker, ov})
		}
	}
	if len(overlaps) > 0 {
		bestSpeaker := ""
		bestOverlap := 0.0
		for _, o := range overlaps {
			if o.total > bestOverlap {
				bestOverlap = o.total
				bestSpeaker = o.speaker
			}
		}
		confidence := 1.0
		if end > start {
			confidence = math.Min(bestOverlap/(end-start), 1.0)
		}
		return Assignment{Speaker: bestSpeaker, Confidence: confidence}
	}

	// 2. Ближайшая граница в пределах допуска
	bestDist := math.Inf(1)
	var nearest *SpeakerSegment
	for i := range a.buffer {
		seg := &a.buffer[i]
		d := math.Min(
			math.Min(math.Abs(seg.Start-start), math.Abs(seg.End-start)),
			math.Min(math.Abs(seg.Start-end), math.Abs(seg.End-end)),
		)
		if d < bestDist {
			bestDist = d
			nearest = seg
		}
	}
	if nearest != nil && bestDist <= boundaryToleranceSeconds {
		penalty := 1.0 - bestDist/boundaryToleranceSeconds*0.5
		return Assignment{Speaker: nearest.Speaker, Confidence: nearest.Confidence * penalty}
	}

	// 3. Последний известный спикер с пониженной уверенностью
	if a.lastKnownSpeaker != "" {
		confidence := math.Max(0.3, a.lastKnownConfidence*0.5)
		return Assignment{Speaker: a.lastKnownSpeaker, Confidence: confidence}
	}

	// 4. Синтетический id: сегмент помечается для пост-обработки
	return a.SyntheticFallback(start)
}

// FallbackAssignment аварийная привязка при сбое нормальной цепочки:
// последний известный спикер с урезанной уверенностью, иначе синтетический
// id. Всегда помечается флагом fallback.
func (a *Aligner) FallbackAssignment(start float64) Assignment {
	if a.lastKnownSpeaker != "" {
		return Assignment{
			Speaker:    a.lastKnownSpeaker,
			Confidence: math.Max(0.3, a.lastKnownConfidence*0.5),
			Fallback:   true,
		}
	}
	return a.SyntheticFallback(start)
}

// SyntheticFallback возвращает уникальный fallback-идентификатор.
// Формат speaker_unknown_<ms> позволяет потом перепривязать сегмент
// батчевой диаризацией.
func (a *Aligner) SyntheticFallback(start float64) Assignment {
	id := fmt.Sprintf("speaker_unknown_%d", int64(start*1000))
	return Assignment{Speaker: id, Confidence: 0, Fallback: true}
}

// RecordFailure фиксирует сбой выравнивания. Возвращает данные для
// health-предупреждения, когда достигнут порог и предупреждение ещё
// не выдано.
func (a *Aligner) RecordFailure(reason string, atTime float64) *HealthWarningInfo {
	a.consecutiveFailures++
	a.totalFailures++
	a.successRun = 0
	a.lastFailureReason = reason
	a.lastFailureTime = atTime

	log.Printf("[DIARIZE] alignment failure #%d (consecutive %d): %s",
		a.totalFailures, a.consecutiveFailures, reason)

	if a.consecutiveFailures >= failureThreshold && !a.warningOutstanding {
		a.warningOutstanding = true
		return &HealthWarningInfo{
			ConsecutiveFailures: a.consecutiveFailures,
			TotalFailures:       a.totalFailures,
			LastFailureReason:   a.lastFailureReason,
			LastFailureTime:     a.lastFailureTime,
		}
	}
	return nil
}

// RecordSuccess фиксирует успешную привязку. Возвращает данные для записи
// о восстановлении, когда после предупреждения накопилась серия успехов.
func (a *Aligner) RecordSuccess() *HealthRecoveryInfo {
	a.consecutiveFailures = 0
	a.totalSegments++
	a.successRun++

	if a.warningOutstanding && a.successRun > recoveryRun {
		a.warningOutstanding = false
		return &HealthRecoveryInfo{
			TotalSegmentsProcessed: a.totalSegments,
			PreviousFailures:       a.totalFailures,
		}
	}
	return nil
}

// BufferLen текущий размер буфера выравнивания (для статистики)
func (a *Aligner) BufferLen() int { return len(a.buffer) }
