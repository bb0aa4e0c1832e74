// Package audio содержит приём и нормализацию входного PCM потока:
// декодирование байтов, сведение в моно, ресемплинг до 16kHz и нарезку
// на чанки фиксированной длительности.
package audio

import (
	"log"
)

// TargetSampleRate частота, которую ожидают ASR и embedding модели (16kHz)
const TargetSampleRate = 16000

// minTailSeconds минимальная длина хвоста при завершении потока.
// Более короткий остаток отбрасывается - на нём нечего транскрибировать.
const minTailSeconds = 1.0

// IngestorConfig параметры входного PCM
type IngestorConfig struct {
	SampleRate    int     // Частота входного потока
	Channels      int     // 1 или 2
	BitDepth      int     // 16 или 32
	ChunkDuration float64 // Длительность чанка в секундах (на целевой частоте)
}

// Ingestor накапливает сырые PCM байты и выдаёт чанки float32 сэмплов
// на целевой частоте. Чанки не перекрываются: перекрытие приводило к
// повторной транскрипции одних и тех же слов на стыках.
type Ingestor struct {
	config         IngestorConfig
	bytesPerSample int
	bytesPerFrame  int
	chunkSamples   int

	raw       []byte    // Остаток байтов, не кратный размеру фрейма
	samples   []float32 // Накопленные сэмплы на целевой частоте
	resampler *Resampler

	totalBytes int64
}

// NewIngestor создаёт Ingestor для заданного формата входа
func NewIngestor(config IngestorConfig) *Ingestor {
	bytesPerSample := config.BitDepth / 8
	ing := &Ingestor{
		config:         config,
		bytesPerSample: bytesPerSample,
		bytesPerFrame:  bytesPerSample * config.Channels,
		chunkSamples:   int(config.ChunkDuration * TargetSampleRate),
	}

	if config.SampleRate != TargetSampleRate {
		ing.resampler = NewResampler(config.SampleRate, TargetSampleRate)
		log.Printf("[INGEST] resampling enabled: %dHz -> %dHz (%s)",
			config.SampleRate, TargetSampleRate, ing.resampler.Method())
	}

	return ing
}

// ChunkSamples количество сэмплов в одном чанке (на целевой частоте)
func (ing *Ingestor) ChunkSamples() int {
	return ing.chunkSamples
}

// TotalBytes сколько байтов принято за сессию
func (ing *Ingestor) TotalBytes() int64 {
	return ing.totalBytes
}

// Ingest принимает порцию сырых байтов. Никогда не блокируется и ничего
// не теряет: неполный фрейм в конце порции откладывается до следующего
// вызова. Байты, не складывающиеся во фрейм на конце потока, молча
// отбрасываются при завершении.
func (ing *Ingestor) Ingest(data []byte) {
	ing.totalBytes += int64(len(data))
	ing.raw = append(ing.raw, data...)

	frames := len(ing.raw) / ing.bytesPerFrame
	if frames == 0 {
		return
	}

	usable := frames * ing.bytesPerFrame
	decoded := ing.decode(ing.raw[:usable])

	// Сдвигаем остаток в начало
	rest := copy(ing.raw, ing.raw[usable:])
	ing.raw = ing.raw[:rest]

	if ing.resampler != nil {
		decoded = ing.resampler.Process(decoded)
	}
	ing.samples = append(ing.samples, decoded...)
}

// decode переводит фреймы PCM в float32 моно [-1, 1]
func (ing *Ingestor) decode(data []byte) []float32 {
	frames := len(data) / ing.bytesPerFrame
	out := make([]float32, frames)

	for f := 0; f < frames; f++ {
		base := f * ing.bytesPerFrame
		var sum float32
		for ch := 0; ch < ing.config.Channels; ch++ {
			sum += ing.decodeSample(data[base+ch*ing.bytesPerSample:])
		}
		out[f] = sum / float32(ing.config.Channels)
	}

	return out
}

func (ing *Ingestor) decodeSample(data []byte) float32 {
	if ing.config.BitDepth == 32 {
		v := int32(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24)
		return float32(float64(v) / 2147483648.0)
	}
	v := int16(uint16(data[0]) | uint16(data[1])<<8)
	return float32(v) / 32768.0
}

// TryDrain выдаёт ровно один чанк, если накоплено достаточно сэмплов.
// Последовательные чанки покрывают непересекающиеся интервалы времени.
func (ing *Ingestor) TryDrain() ([]float32, bool) {
	if len(ing.samples) < ing.chunkSamples {
		return nil, false
	}

	chunk := make([]float32, ing.chunkSamples)
	copy(chunk, ing.samples[:ing.chunkSamples])

	rest := copy(ing.samples, ing.samples[ing.chunkSamples:])
	ing.samples = ing.samples[:rest]

	return chunk, true
}

// DrainRemaining выдаёт хвост буфера при завершении потока.
// Хвост короче одной секунды отбрасывается.
func (ing *Ingestor) DrainRemaining() ([]float32, bool) {
	if float64(len(ing.samples)) < minTailSeconds*TargetSampleRate {
		if len(ing.samples) > 0 {
			log.Printf("[INGEST] discarding %d trailing samples (< %.0fs)", len(ing.samples), minTailSeconds)
		}
		ing.samples = ing.samples[:0]
		return nil, false
	}

	chunk := make([]float32, len(ing.samples))
	copy(chunk, ing.samples)
	ing.samples = ing.samples[:0]

	return chunk, true
}

// BufferedSeconds длительность накопленного (ещё не выданного) аудио
func (ing *Ingestor) BufferedSeconds() float64 {
	return float64(len(ing.samples)) / TargetSampleRate
}
