package diar

import "log"

// Thresholds эффективные пороги решений кластеризации
type Thresholds struct {
	// Match обычный порог принятия совпадения
	Match float64
	// Reid порог безусловной ре-идентификации: выше него никогда не
	// создаём нового спикера. Не бустится при калибровке.
	Reid float64
	// DefiniteNew ниже этого порога всегда новый спикер
	DefiniteNew float64
	// NewSpeaker ниже этого (при стабильных профилях) - новый спикер
	NewSpeaker float64
	// ColdStartMin минимальное сходство для match при нестабильных профилях
	ColdStartMin float64
}

// DefaultThresholds базовые пороги, настроенные на живой микрофон.
// Типичные значения косинусного сходства: один голос 0.8-0.95,
// разные голоса 0.2-0.5.
func DefaultThresholds(match float64) Thresholds {
	return Thresholds{
		Match:        match,
		Reid:         0.85,
		DefiniteNew:  0.30,
		NewSpeaker:   0.40,
		ColdStartMin: 0.35,
	}
}

const (
	// calibrationSamples сколько значений сходства собрать до решения
	calibrationSamples = 8

	// processedAudioFloor если минимум собранных сходств не опускается ниже
	// этого уровня, источник - обработанное аудио (кодеки, виртуальные
	// кабели): кросс-спикерное сходство искусственно завышено
	processedAudioFloor = 0.55

	// calibrationBoost на сколько поднять пороги для обработанного аудио
	calibrationBoost = 0.25
)

// Calibrator одноразовый калибратор порогов. Обработанное аудио (проигрывание
// видео, системный захват) поднимает базовое кросс-спикерное сходство с
// ~0.2-0.5 до ~0.5-0.8; фиксированные пороги для живого микрофона на таком
// источнике слепливают все голоса в один профиль. Калибратор накапливает
// первые значения сходства и, распознав обработанный источник, бустит пороги.
type Calibrator struct {
	base           Thresholds
	effective      Thresholds
	samples        []float64
	calibrated     bool
	processedAudio bool
}

// NewCalibrator создаёт калибратор с базовыми порогами
func NewCalibrator(base Thresholds) *Calibrator {
	return &Calibrator{
		base:      base,
		effective: base,
		samples:   make([]float64, 0, calibrationSamples),
	}
}

// Observe принимает очередное лучшее сходство. Учитываются только значения
// в диапазоне (0, reid): сходство выше порога ре-идентификации - это
// уверенный повтор того же голоса и о кросс-спикерном фоне ничего не
// говорит. Калибровка происходит ровно один раз за сессию.
func (c *Calibrator) Observe(similarity float64) {
	if c.calibrated || similarity <= 0 || similarity >= c.base.Reid {
		return
	}

	c.samples = append(c.samples, similarity)
	if len(c.samples) < calibrationSamples {
		return
	}

	minSim := c.samples[0]
	for _, s := range c.samples[1:] {
		if s < minSim {
			minSim = s
		}
	}

	if minSim >= processedAudioFloor {
		c.processedAudio = true
		c.effective.Match = c.base.Match + calibrationBoost
		c.effective.DefiniteNew = c.base.DefiniteNew + calibrationBoost
		c.effective.NewSpeaker = c.base.NewSpeaker + calibrationBoost
		c.effective.ColdStartMin = c.base.ColdStartMin + calibrationBoost
		log.Printf("[DIARIZE] calibration: processed audio detected (min similarity %.3f), thresholds boosted by %.2f",
			minSim, calibrationBoost)
	} else {
		log.Printf("[DIARIZE] calibration: live audio (min similarity %.3f), thresholds unchanged", minSim)
	}

	c.calibrated = true
}

// Thresholds текущие эффективные пороги
func (c *Calibrator) Thresholds() Thresholds { return c.effective }

// Calibrated завершена ли калибровка
func (c *Calibrator) Calibrated() bool { return c.calibrated }

// ProcessedAudio распознан ли обработанный источник
func (c *Calibrator) ProcessedAudio() bool { return c.processedAudio }
