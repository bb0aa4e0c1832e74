package diar

import (
	"math"
	"strings"
	"testing"
)

// TestAssignByOverlap сегмент транскрипции получает спикера с наибольшим
// накопленным перекрытием; уверенность = перекрытие / длительность
func TestAssignByOverlap(t *testing.T) {
	a := NewAligner()
	a.Insert(SpeakerSegment{Speaker: "SPEAKER_0", Start: 0, End: 5, Confidence: 0.9})
	a.Insert(SpeakerSegment{Speaker: "SPEAKER_1", Start: 5, End: 10, Confidence: 0.9})

	// [4, 6.5]: перекрытие 1.0s со SPEAKER_0 и 1.5s со SPEAKER_1
	got := a.Assign(4, 6.5)
	if got.Speaker != "SPEAKER_1" {
		t.Errorf("speaker = %s, want SPEAKER_1", got.Speaker)
	}
	want := 1.5 / 2.5
	if math.Abs(got.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %.3f, want %.3f", got.Confidence, want)
	}
	if got.Fallback {
		t.Error("overlap match must not be flagged as fallback")
	}
}

// TestAssignNearestBoundary без перекрытия спикер берётся с ближайшей
// границы в пределах 3 секунд, уверенность штрафуется расстоянием
func TestAssignNearestBoundary(t *testing.T) {
	a := NewAligner()
	a.Insert(SpeakerSegment{Speaker: "SPEAKER_0", Start: 0, End: 5, Confidence: 0.9})

	// [7, 9]: ближайшая граница 5, расстояние 2.0 <= 3.0
	got := a.Assign(7, 9)
	if got.Speaker != "SPEAKER_0" {
		t.Errorf("speaker = %s, want SPEAKER_0", got.Speaker)
	}
	want := 0.9 * (1 - 2.0/3.0*0.5)
	if math.Abs(got.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %.3f, want %.3f", got.Confidence, want)
	}
	if got.Fallback {
		t.Error("boundary match must not be flagged as fallback")
	}
}

// TestAssignLastKnown вне допуска границы используется последний известный
// спикер с урезанной вдвое уверенностью (пол 0.3)
func TestAssignLastKnown(t *testing.T) {
	a := NewAligner()
	a.Insert(SpeakerSegment{Speaker: "SPEAKER_0", Start: 0, End: 5, Confidence: 0.9})

	got := a.Assign(100, 102)
	if got.Speaker != "SPEAKER_0" {
		t.Errorf("speaker = %s, want last-known SPEAKER_0", got.Speaker)
	}
	if math.Abs(got.Confidence-0.45) > 1e-9 {
		t.Errorf("confidence = %.3f, want 0.45", got.Confidence)
	}

	// Пол уверенности
	b := NewAligner()
	b.Insert(SpeakerSegment{Speaker: "SPEAKER_1", Start: 0, End: 5, Confidence: 0.1})
	got = b.Assign(100, 102)
	if got.Confidence != 0.3 {
		t.Errorf("confidence floor = %.3f, want 0.3", got.Confidence)
	}
}

// TestAssignSynthetic без какого-либо контекста выдаётся синтетический id
// с нулевой уверенностью и флагом fallback
func TestAssignSynthetic(t *testing.T) {
	a := NewAligner()

	got := a.Assign(12.345, 14.0)
	if !strings.HasPrefix(got.Speaker, "speaker_unknown_") {
		t.Errorf("speaker = %s, want speaker_unknown_ prefix", got.Speaker)
	}
	if got.Speaker != "speaker_unknown_12345" {
		t.Errorf("speaker = %s, want speaker_unknown_12345", got.Speaker)
	}
	if got.Confidence != 0 || !got.Fallback {
		t.Errorf("got confidence=%.2f fallback=%v, want 0 and true", got.Confidence, got.Fallback)
	}
}

// TestInsertDeduplication повторная вставка того же интервала игнорируется
func TestInsertDeduplication(t *testing.T) {
	a := NewAligner()
	seg := SpeakerSegment{Speaker: "SPEAKER_0", Start: 1, End: 3, Confidence: 0.8}

	if !a.Insert(seg) {
		t.Fatal("first insert must succeed")
	}
	if a.Insert(seg) {
		t.Error("duplicate insert must be rejected")
	}
	if a.BufferLen() != 1 {
		t.Errorf("buffer length = %d, want 1", a.BufferLen())
	}
}

// TestBufferGC решения старше 300 секунд вычищаются вместе с ключами
func TestBufferGC(t *testing.T) {
	a := NewAligner()
	a.Insert(SpeakerSegment{Speaker: "SPEAKER_0", Start: 0, End: 50, Confidence: 0.8})
	a.Insert(SpeakerSegment{Speaker: "SPEAKER_0", Start: 50, End: 100, Confidence: 0.8})
	a.Insert(SpeakerSegment{Speaker: "SPEAKER_1", Start: 398, End: 400, Confidence: 0.8})

	// Отсечка 400-300=100: сегменты с end <= 100 должны уйти
	if a.BufferLen() != 1 {
		t.Errorf("buffer length after GC = %d, want 1", a.BufferLen())
	}

	// Вычищенный интервал можно вставить заново (ключ тоже удалён)
	if !a.Insert(SpeakerSegment{Speaker: "SPEAKER_0", Start: 0, End: 50, Confidence: 0.8}) {
		t.Error("key for collected segment must be purged")
	}
}

// TestHealthWarningAndRecovery три сбоя подряд дают одно предупреждение,
// серия успехов после него - одну запись о восстановлении
func TestHealthWarningAndRecovery(t *testing.T) {
	a := NewAligner()

	if w := a.RecordFailure("injected", 1.0); w != nil {
		t.Error("warning after 1 failure is premature")
	}
	if w := a.RecordFailure("injected", 2.0); w != nil {
		t.Error("warning after 2 failures is premature")
	}

	w := a.RecordFailure("injected", 3.0)
	if w == nil {
		t.Fatal("expected warning on third consecutive failure")
	}
	if w.ConsecutiveFailures != 3 || w.TotalFailures != 3 {
		t.Errorf("warning counters = %d/%d, want 3/3", w.ConsecutiveFailures, w.TotalFailures)
	}
	if w.LastFailureReason != "injected" {
		t.Errorf("failure reason = %q, want injected", w.LastFailureReason)
	}

	// Повторное предупреждение не выдаётся, пока висит первое
	if w2 := a.RecordFailure("injected", 4.0); w2 != nil {
		t.Error("second warning while first is outstanding")
	}

	// Шесть успехов подряд: восстановление ровно один раз, на шестом
	var recoveries int
	for i := 0; i < 6; i++ {
		if r := a.RecordSuccess(); r != nil {
			recoveries++
			if i != 5 {
				t.Errorf("recovery emitted on success #%d, want #6", i+1)
			}
			if r.PreviousFailures != 4 {
				t.Errorf("recovery previous failures = %d, want 4", r.PreviousFailures)
			}
		}
	}
	if recoveries != 1 {
		t.Errorf("recoveries = %d, want exactly 1", recoveries)
	}
}

// TestFallbackAssignment аварийная привязка предпочитает последнего
// известного спикера и всегда ставит флаг fallback
func TestFallbackAssignment(t *testing.T) {
	a := NewAligner()

	got := a.FallbackAssignment(7.0)
	if got.Speaker != "speaker_unknown_7000" || !got.Fallback {
		t.Errorf("empty aligner fallback = %+v, want synthetic id", got)
	}

	a.Insert(SpeakerSegment{Speaker: "SPEAKER_2", Start: 0, End: 2, Confidence: 0.8})
	got = a.FallbackAssignment(7.0)
	if got.Speaker != "SPEAKER_2" || !got.Fallback {
		t.Errorf("fallback = %+v, want last-known SPEAKER_2 with flag", got)
	}
	if math.Abs(got.Confidence-0.4) > 1e-9 {
		t.Errorf("fallback confidence = %.3f, want 0.4", got.Confidence)
	}
}
