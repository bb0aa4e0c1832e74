package diar

import (
	"math"
	"testing"
)

// vec3 нормированный трёхмерный вектор (для тестов хватает трёх измерений)
func vec3(x, y, z float64) []float64 {
	norm := math.Sqrt(x*x + y*y + z*z)
	return []float64{x / norm, y / norm, z / norm}
}

// withCosine возвращает единичный вектор с заданным косинусом к [1,0,0]
func withCosine(c float64) []float64 {
	return vec3(c, math.Sqrt(1-c*c), 0)
}

// TestSingleSpeakerSession один голос на всю сессию: ровно один профиль,
// ни одной смены спикера, пороги не бустятся
func TestSingleSpeakerSession(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})
	voice := vec3(1, 0, 0)

	changes := 0
	segments := 0
	for i := 0; i < 40; i++ {
		start := float64(i) * 0.5
		res := eng.Process(voice, start, start+2.0)
		if res.Segment == nil {
			t.Fatalf("window %d unexpectedly deduplicated", i)
		}
		segments++
		if res.Change != nil {
			changes++
		}
		if res.Segment.Speaker != "SPEAKER_0" {
			t.Errorf("window %d: speaker = %s, want SPEAKER_0", i, res.Segment.Speaker)
		}
	}

	if eng.SpeakerCount() != 1 {
		t.Errorf("speaker count = %d, want 1", eng.SpeakerCount())
	}
	if changes != 0 {
		t.Errorf("speaker changes = %d, want 0", changes)
	}
	if segments != 40 {
		t.Errorf("segments = %d, want 40", segments)
	}
	if eng.Calibrator().ProcessedAudio() {
		t.Error("single live voice should not be flagged as processed audio")
	}
	if got := eng.Calibrator().Thresholds().Match; got != 0.30 {
		t.Errorf("match threshold = %.2f, want unchanged 0.30", got)
	}
}

// TestTwoSpeakersAlternating два чередующихся голоса с кросс-сходством 0.25:
// два профиля, две смены спикера, возврат к исходному профилю через
// ре-идентификацию
func TestTwoSpeakersAlternating(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})
	voiceA := vec3(1, 0, 0)
	voiceB := withCosine(0.25)

	speakerFor := func(i int) []float64 {
		// A: 0-10s, B: 10-20s, A: 20-30s (hop 0.5s)
		switch {
		case i < 20:
			return voiceA
		case i < 40:
			return voiceB
		default:
			return voiceA
		}
	}

	var changes []SpeakerChange
	var lastSpeaker string
	for i := 0; i < 60; i++ {
		start := float64(i) * 0.5
		res := eng.Process(speakerFor(i), start, start+2.0)
		if res.Change != nil {
			changes = append(changes, *res.Change)
		}
		lastSpeaker = res.Segment.Speaker
	}

	if eng.SpeakerCount() != 2 {
		t.Fatalf("speaker count = %d, want 2", eng.SpeakerCount())
	}
	if len(changes) != 2 {
		t.Fatalf("speaker changes = %d, want 2 (%+v)", len(changes), changes)
	}

	if changes[0].From != "SPEAKER_0" || changes[0].To != "SPEAKER_1" {
		t.Errorf("first change = %s->%s, want SPEAKER_0->SPEAKER_1", changes[0].From, changes[0].To)
	}
	if math.Abs(changes[0].Time-10.0) > 0.5 {
		t.Errorf("first change at %.1fs, want ~10s", changes[0].Time)
	}

	// Возврат к голосу A должен переиспользовать SPEAKER_0, не создавать нового
	if changes[1].To != "SPEAKER_0" {
		t.Errorf("second change to %s, want re-identified SPEAKER_0", changes[1].To)
	}
	if math.Abs(changes[1].Time-20.0) > 0.5 {
		t.Errorf("second change at %.1fs, want ~20s", changes[1].Time)
	}
	if lastSpeaker != "SPEAKER_0" {
		t.Errorf("final speaker = %s, want SPEAKER_0", lastSpeaker)
	}
}

// TestEarlySecondSpeaker второй голос в первых окнах сессии создаёт новый
// профиль по сравнению с исходным эмбеддингом первого
func TestEarlySecondSpeaker(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})

	eng.Process(vec3(1, 0, 0), 0, 2.0)
	eng.Process(vec3(1, 0, 0), 0.5, 2.5)

	res := eng.Process(withCosine(0.25), 1.0, 3.0)
	if res.Segment.Speaker != "SPEAKER_1" {
		t.Errorf("early second voice assigned to %s, want SPEAKER_1", res.Segment.Speaker)
	}
	if eng.SpeakerCount() != 2 {
		t.Errorf("speaker count = %d, want 2", eng.SpeakerCount())
	}
	if res.Change == nil || res.Change.From != "SPEAKER_0" {
		t.Error("expected speaker_change SPEAKER_0 -> SPEAKER_1")
	}
}

// TestMaxSpeakersForcedAssign при исчерпанном лимите окно приписывается к
// ближайшему профилю с уверенностью max(s*, 0.5); профили не создаются
func TestMaxSpeakersForcedAssign(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 2})

	eng.Process(vec3(1, 0, 0), 0, 2.0)
	for i := 1; i <= 20; i++ {
		// Закрепляем оба профиля как стабильные
		v := vec3(1, 0, 0)
		if i%2 == 1 {
			v = vec3(0, 1, 0)
		}
		eng.Process(v, float64(i)*0.5, float64(i)*0.5+2.0)
	}
	if eng.SpeakerCount() != 2 {
		t.Fatalf("setup: speaker count = %d, want 2", eng.SpeakerCount())
	}

	// Третий голос, почти ортогональный обоим
	res := eng.Process(vec3(0.05, 0.05, 1), 30.0, 32.0)
	if eng.SpeakerCount() != 2 {
		t.Errorf("speaker count = %d after forced assign, want 2", eng.SpeakerCount())
	}
	if res.Segment.Confidence != 0.5 {
		t.Errorf("forced-assign confidence = %.2f, want 0.5", res.Segment.Confidence)
	}
}

// TestProcessedAudioBoost калиброванные пороги разводят голоса, которые
// на живых порогах слиплись бы в один профиль
func TestProcessedAudioBoost(t *testing.T) {
	boosted := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})
	for i := 0; i < 8; i++ {
		boosted.Calibrator().Observe(0.70)
	}
	if !boosted.Calibrator().ProcessedAudio() {
		t.Fatal("calibrator should flag processed audio")
	}
	if got := boosted.Calibrator().Thresholds().Match; math.Abs(got-0.55) > 1e-9 {
		t.Fatalf("boosted match threshold = %.2f, want 0.55", got)
	}

	live := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})

	voiceA := vec3(1, 0, 0)
	voiceB := withCosine(0.50) // типичное кросс-сходство обработанного аудио

	boosted.Process(voiceA, 0, 2.0)
	live.Process(voiceA, 0, 2.0)

	boosted.Process(voiceB, 0.5, 2.5)
	live.Process(voiceB, 0.5, 2.5)

	if boosted.SpeakerCount() != 2 {
		t.Errorf("boosted engine: speaker count = %d, want 2 (voices must not merge)", boosted.SpeakerCount())
	}
	if live.SpeakerCount() != 1 {
		t.Errorf("live engine: speaker count = %d, want 1 (0.50 >= live match threshold)", live.SpeakerCount())
	}
}

// TestWindowDeduplication повтор окна с тем же интервалом подавляется
func TestWindowDeduplication(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})
	voice := vec3(1, 0, 0)

	first := eng.Process(voice, 0, 2.0)
	if first.Segment == nil {
		t.Fatal("first window must produce a segment")
	}

	replay := eng.Process(voice, 0, 2.0)
	if replay.Segment != nil {
		t.Error("replayed window must be suppressed")
	}
}

// TestSpeakerIDsMonotonic идентификаторы выдаются монотонно и не
// переиспользуются в пределах сессии
func TestSpeakerIDsMonotonic(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})

	ids := make(map[string]bool)
	vectors := [][]float64{vec3(1, 0, 0), vec3(0, 1, 0), vec3(0, 0, 1)}
	for i, v := range vectors {
		res := eng.Process(v, float64(i), float64(i)+2.0)
		if ids[res.Segment.Speaker] && res.Segment.Speaker != "SPEAKER_0" {
			// Повтор id допустим только при реальном совпадении голосов
			continue
		}
		ids[res.Segment.Speaker] = true
	}

	if eng.SpeakerCount() != 3 {
		t.Fatalf("speaker count = %d, want 3", eng.SpeakerCount())
	}
	for i, p := range eng.Profiles() {
		want := map[int]string{0: "SPEAKER_0", 1: "SPEAKER_1", 2: "SPEAKER_2"}[i]
		if p.ID != want {
			t.Errorf("profile %d id = %s, want %s", i, p.ID, want)
		}
	}
}

// TestResetReenablesCalibration reset очищает профили и заново включает
// калибровку
func TestResetReenablesCalibration(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})
	for i := 0; i < 8; i++ {
		eng.Calibrator().Observe(0.70)
	}
	eng.Process(vec3(1, 0, 0), 0, 2.0)

	eng.Reset()

	if eng.SpeakerCount() != 0 {
		t.Errorf("speaker count after reset = %d, want 0", eng.SpeakerCount())
	}
	if eng.Calibrator().Calibrated() {
		t.Error("calibration must be re-enabled after reset")
	}
	if got := eng.Calibrator().Thresholds().Match; got != 0.30 {
		t.Errorf("thresholds after reset = %.2f, want base 0.30", got)
	}

	res := eng.Process(vec3(0, 1, 0), 0, 2.0)
	if res.Segment.Speaker != "SPEAKER_0" {
		t.Errorf("first speaker after reset = %s, want SPEAKER_0", res.Segment.Speaker)
	}
}

// TestSegmentStartMonotonic t_start выданных сегментов не убывает
func TestSegmentStartMonotonic(t *testing.T) {
	eng := NewEngine(EngineConfig{SimilarityThreshold: 0.30, MaxSpeakers: 10})

	prev := -1.0
	for i := 0; i < 30; i++ {
		start := float64(i) * 0.5
		res := eng.Process(vec3(1, 0, 0), start, start+2.0)
		if res.Segment == nil {
			continue
		}
		if res.Segment.Start < prev {
			t.Fatalf("segment start %.2f < previous %.2f", res.Segment.Start, prev)
		}
		prev = res.Segment.Start
	}
}
