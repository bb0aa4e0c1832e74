package ai

import (
	"log"

	"github.com/ziadeh/flow-recap/audio"
)

// GateConfig пороги решения "речь / не речь" для одного чанка
type GateConfig struct {
	Threshold       float32 // Порог вероятности нейросетевого VAD
	MinSpeechMs     int     // Минимальная длительность речи
	MinSilenceMs    int     // Минимальная пауза между участками речи
	SpeechRatio     float64 // Минимальная доля речи в чанке
	EnergyThreshold float64 // RMS порог для energy-fallback
}

// DefaultGateConfig стандартные пороги для живого микрофона
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Threshold:       0.5,
		MinSpeechMs:     250,
		MinSilenceMs:    100,
		SpeechRatio:     0.1,
		EnergyThreshold: 0.005,
	}
}

// PermissiveGateConfig пороги для системного/обработанного аудио.
// Звук из виртуальных кабелей и видеозвонков пережат кодеками и не похож
// на обучающие данные Silero: стандартные пороги роняют удалённых
// участников. Лучше ложное срабатывание, чем потерянная реплика.
func PermissiveGateConfig() GateConfig {
	return GateConfig{
		Threshold:       0.15,
		MinSpeechMs:     100,
		MinSilenceMs:    100,
		SpeechRatio:     0.01,
		EnergyThreshold: 0.001,
	}
}

const (
	// silentRMS ниже этого уровня (~-80dB) аудио считается тишиной:
	// гонять нейросеть бессмысленно
	silentRMS = 1e-4

	// overrideRMS уровень (~-50dB), при котором permissive-режим
	// пропускает чанк даже если нейросеть не нашла речь
	overrideRMS = 0.003
)

// Gate двухуровневый детектор речи: нейросетевой Silero VAD с откатом на
// энергетический порог. Чистая функция одного чанка.
type Gate struct {
	neural     *SileroVAD // nil = только energy-fallback
	config     GateConfig
	permissive bool
	sampleRate int
}

// NewGate создаёт гейт. neural может быть nil - тогда работает только
// энергетический детектор.
func NewGate(neural *SileroVAD, permissive bool, sampleRate int) *Gate {
	config := DefaultGateConfig()
	if permissive {
		config = PermissiveGateConfig()
	}
	return &Gate{
		neural:     neural,
		config:     config,
		permissive: permissive,
		sampleRate: sampleRate,
	}
}

// Permissive включён ли permissive-режим
func (g *Gate) Permissive() bool { return g.permissive }

// NeuralAvailable доступен ли нейросетевой уровень
func (g *Gate) NeuralAvailable() bool { return g.neural != nil }

// IsSpeech решает, содержит ли чанк речь. levels - заранее вычисленные
// уровни чанка (их считает вызывающий для своих диагностик).
func (g *Gate) IsSpeech(samples []float32, levels audio.Levels) bool {
	if len(samples) == 0 {
		return false
	}

	// Практически тишина: для обычного режима сразу отказ, в permissive
	// логируем проблему захвата и всё же пробуем нейросеть
	if levels.RMS < silentRMS {
		log.Printf("[VAD] near-silent audio: rms=%.6f peak=%.6f db=%.1f - check capture configuration",
			levels.RMS, levels.Peak, levels.DBRMS)
		if !g.permissive {
			return false
		}
	}

	if g.neural == nil {
		return levels.RMS > g.config.EnergyThreshold
	}

	intervals, err := g.neural.DetectSpeech(samples, VADParams{
		Threshold:    g.config.Threshold,
		MinSpeechMs:  g.config.MinSpeechMs,
		MinSilenceMs: g.config.MinSilenceMs,
	})
	if err != nil {
		// Сбой VAD не должен ронять аудио: принимаем чанк
		log.Printf("[VAD] error (assuming speech): %v", err)
		return true
	}

	var speechMs int64
	for _, iv := range intervals {
		speechMs += iv.EndMs - iv.StartMs
	}
	totalMs := float64(len(samples)) * 1000 / float64(g.sampleRate)
	ratio := float64(speechMs) / totalMs

	if g.permissive {
		log.Printf("[VAD] permissive: ratio=%.3f min=%.3f intervals=%d rms=%.4f db=%.1f",
			ratio, g.config.SpeechRatio, len(intervals), levels.RMS, levels.DBRMS)

		// Энергия есть, а нейросеть молчит - пропускаем: удалённый участник
		// дороже ложного срабатывания
		if ratio < g.config.SpeechRatio && levels.RMS > overrideRMS {
			log.Printf("[VAD] override: audio has energy (rms=%.4f) but VAD found no speech, passing through", levels.RMS)
			return true
		}
	}

	return ratio >= g.config.SpeechRatio
}
