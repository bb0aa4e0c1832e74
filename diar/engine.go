package diar

import (
	"fmt"
	"log"
)

// earlySegmentWindow в пределах скольких первых сегментов работает ранняя
// детекция второго спикера (case A)
const earlySegmentWindow = 10

// SpeakerSegment решение движка по одному окну эмбеддинга
type SpeakerSegment struct {
	Speaker    string
	Start      float64
	End        float64
	Confidence float64
}

// SpeakerChange переход слова от одного спикера к другому
type SpeakerChange struct {
	From string
	To   string
	Time float64
}

// Result результат обработки одного окна. Segment == nil означает, что окно
// подавлено дедупликацией (повтор после сброса буфера).
type Result struct {
	Segment *SpeakerSegment
	Change  *SpeakerChange
}

// EngineConfig параметры движка идентификации
type EngineConfig struct {
	SimilarityThreshold float64 // Базовый порог совпадения (CLI)
	MaxSpeakers         int
}

// Engine онлайн-движок идентификации спикеров. Владеет всем состоянием
// кластеризации; единственный писатель - цикл сессии.
//
// Главный инвариант: созданный профиль нельзя удалить, перенумеровать или
// подменить иначе как через Reset(). Распад центроида и обрезка истории
// меняют содержимое профиля, но не его идентичность.
type Engine struct {
	config     EngineConfig
	calibrator *Calibrator

	profiles      []*SpeakerProfile // В порядке создания
	nextID        int
	currentSpeaker string

	// Снимок самого первого эмбеддинга первого профиля. Центроид первого
	// профиля дрейфует, впитывая чужие окна; сравнение с оригиналом
	// вскрывает второго спикера раньше, чем разойдутся центроиды.
	firstProfileInitial []float64

	segmentsEmitted int

	// Дедупликация окон по ключу времени: защита от повторов после сброса
	// предбуферизованного аудио
	processedKeys map[string]float64 // ключ -> t_end (для GC)
	newestEnd     float64
}

// NewEngine создаёт движок с базовыми порогами
func NewEngine(config EngineConfig) *Engine {
	return &Engine{
		config:        config,
		calibrator:    NewCalibrator(DefaultThresholds(config.SimilarityThreshold)),
		processedKeys: make(map[string]float64),
	}
}

// Reset полностью очищает состояние сессии и заново включает калибровку.
// Единственный легальный способ избавиться от профилей.
func (e *Engine) Reset() {
	e.calibrator = NewCalibrator(DefaultThresholds(e.config.SimilarityThreshold))
	e.profiles = nil
	e.nextID = 0
	e.currentSpeaker = ""
	e.firstProfileInitial = nil
	e.segmentsEmitted = 0
	e.processedKeys = make(map[string]float64)
	e.newestEnd = 0
	log.Printf("[DIARIZE] engine reset")
}

// SpeakerCount количество известных профилей
func (e *Engine) SpeakerCount() int { return len(e.profiles) }

// Profiles профили в порядке создания (для тестов и статистики)
func (e *Engine) Profiles() []*SpeakerProfile { return e.profiles }

// CurrentSpeaker последний назначенный спикер
func (e *Engine) CurrentSpeaker() string { return e.currentSpeaker }

// Calibrator доступ к состоянию калибратора
func (e *Engine) Calibrator() *Calibrator { return e.calibrator }

func segmentKey(start, end float64) string {
	return fmt.Sprintf("%.2f-%.2f", start, end)
}

// Process обрабатывает одно окно (эмбеддинг + интервал времени) и возвращает
// решение. Порядок: дедупликация -> скан сходства -> калибровка -> дерево
// решений -> обновление профиля -> события.
func (e *Engine) Process(embedding []float64, start, end float64) Result {
	key := segmentKey(start, end)
	if _, seen := e.processedKeys[key]; seen {
		log.Printf("[DIARIZE] skipping duplicate window %s", key)
		return Result{}
	}
	e.processedKeys[key] = end
	if end > e.newestEnd {
		e.newestEnd = end
		e.gcKeys()
	}

	// Скан: косинус ко всем центроидам
	best := -1.0
	var bestProfile *SpeakerProfile
	for _, p := range e.profiles {
		if sim := cosineSimilarity(embedding, p.Centroid); sim > best {
			best = sim
			bestProfile = p
		}
	}

	e.calibrator.Observe(best)
	th := e.calibrator.Thresholds()

	var assigned *SpeakerProfile
	confidence := 1.0

	switch {
	case bestProfile == nil:
		// Самое первое окно сессии
		assigned = e.createProfile(embedding)

	case e.earlySecondSpeaker(embedding, th):
		// Case A: ранняя детекция второго спикера
		log.Printf("[DIARIZE] early second speaker detected (initial-embedding similarity below %.2f)", th.DefiniteNew)
		assigned = e.createProfile(embedding)

	case best >= th.Reid:
		// Case B: уверенная ре-идентификация, минуя все остальные правила
		assigned = bestProfile
		assigned.absorb(embedding)
		confidence = best

	case best >= th.Match:
		// Case C: обычное совпадение
		assigned = bestProfile
		assigned.absorb(embedding)
		confidence = best

	default:
		// Case D: чистого совпадения нет
		assigned, confidence = e.resolveBelowThreshold(embedding, best, bestProfile, th)
	}

	e.segmentsEmitted++

	result := Result{
		Segment: &SpeakerSegment{
			Speaker:    assigned.ID,
			Start:      start,
			End:        end,
			Confidence: confidence,
		},
	}

	if e.currentSpeaker != "" && e.currentSpeaker != assigned.ID {
		result.Change = &SpeakerChange{From: e.currentSpeaker, To: assigned.ID, Time: start}
	}
	e.currentSpeaker = assigned.ID

	return result
}

// earlySecondSpeaker case A: в начале сессии, пока профиль один, сравниваем
// окно не с дрейфующим центроидом, а с исходным эмбеддингом первого профиля
func (e *Engine) earlySecondSpeaker(embedding []float64, th Thresholds) bool {
	if e.segmentsEmitted >= earlySegmentWindow || len(e.profiles) != 1 || e.firstProfileInitial == nil {
		return false
	}
	return cosineSimilarity(embedding, e.firstProfileInitial) < th.DefiniteNew
}

// resolveBelowThreshold case D: сходство ниже порога совпадения
func (e *Engine) resolveBelowThreshold(embedding []float64, best float64, bestProfile *SpeakerProfile, th Thresholds) (*SpeakerProfile, float64) {
	if len(e.profiles) >= e.config.MaxSpeakers {
		// Лимит спикеров исчерпан: принудительно приписываем к ближайшему
		bestProfile.absorb(embedding)
		confidence := 0.5
		if best > 0 && best > 0.5 {
			confidence = best
		}
		log.Printf("[DIARIZE] max speakers reached, forced assign to %s (similarity %.3f)", bestProfile.ID, best)
		return bestProfile, confidence
	}

	allStable := true
	for _, p := range e.profiles {
		if !p.Stable {
			allStable = false
			break
		}
	}

	switch {
	case best < th.DefiniteNew:
		return e.createProfile(embedding), 1.0

	case best < th.NewSpeaker && allStable:
		return e.createProfile(embedding), 1.0

	case !allStable && best >= th.ColdStartMin:
		// Холодный старт: профили ещё формируются, не дробим лишний раз
		bestProfile.absorb(embedding)
		return bestProfile, best

	default:
		return e.createProfile(embedding), 1.0
	}
}

// createProfile создаёт профиль с новым, никогда не переиспользуемым ID
func (e *Engine) createProfile(embedding []float64) *SpeakerProfile {
	id := fmt.Sprintf("SPEAKER_%d", e.nextID)
	e.nextID++

	p := newProfile(id, embedding)
	e.profiles = append(e.profiles, p)

	if len(e.profiles) == 1 {
		snapshot := make([]float64, len(embedding))
		copy(snapshot, embedding)
		e.firstProfileInitial = snapshot
	}

	log.Printf("[DIARIZE] new speaker profile %s (%d total)", id, len(e.profiles))
	return p
}

// gcKeys выбрасывает ключи дедупликации старше окна выравнивания
func (e *Engine) gcKeys() {
	if e.newestEnd <= alignmentWindowSeconds {
		return
	}
	cutoff := e.newestEnd - alignmentWindowSeconds
	for key, end := range e.processedKeys {
		if end <= cutoff {
			delete(e.processedKeys, key)
		}
	}
}
