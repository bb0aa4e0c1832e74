package audio

import (
	"log"
	"math"
)

// Resampler переводит поток сэмплов с одной частоты на другую.
// Основной режим - полифазный FIR фильтр с окном Ханна (качество уровня
// torchaudio/librosa). Линейная интерполяция остаётся аварийным запасным
// вариантом для нецелых соотношений частот и всегда логируется.
type Resampler struct {
	srcRate int
	dstRate int

	// Полифазный режим: upsample на L, фильтр, downsample на M
	up, down int
	kernel   []float64 // Прототип ФНЧ, разложенный по фазам
	taps     int       // Отводов на фазу

	// Состояние между блоками: хвост входа и позиция следующего выхода
	history   []float32
	phase     int
	posOffset int

	linear    bool
	linearPos float64
}

// tapsPerPhase количество отводов фильтра на одну фазу полифазы.
// 24 отвода дают подавление зеркальных частот > 60 dB.
const tapsPerPhase = 24

// NewResampler создаёт ресемплер srcRate -> dstRate
func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}

	if srcRate == dstRate {
		return r
	}

	g := gcd(srcRate, dstRate)
	r.up = dstRate / g
	r.down = srcRate / g

	// Для экзотических соотношений полифазная таблица становится слишком
	// большой - откатываемся на линейную интерполяцию
	if r.up > 1024 {
		r.linear = true
		log.Printf("[RESAMPLE] ratio %d/%d too fine for polyphase, falling back to linear interpolation (low quality)",
			r.up, r.down)
		return r
	}

	r.taps = tapsPerPhase
	r.kernel = buildLowpassKernel(r.up, r.down, r.taps)
	r.history = make([]float32, r.taps-1)

	return r
}

// Method возвращает имя активного метода (для ready-записи)
func (r *Resampler) Method() string {
	switch {
	case r.srcRate == r.dstRate:
		return "none"
	case r.linear:
		return "linear"
	default:
		return "polyphase"
	}
}

// Process ресемплирует очередной блок. Состояние фильтра переносится между
// блоками, так что конкатенация выходов эквивалентна ресемплингу целого потока.
func (r *Resampler) Process(samples []float32) []float32 {
	if r.srcRate == r.dstRate || len(samples) == 0 {
		return samples
	}
	if r.linear {
		return r.processLinear(samples)
	}
	return r.processPolyphase(samples)
}

func (r *Resampler) processPolyphase(samples []float32) []float32 {
	// Вход с хвостом предыдущего блока
	buf := make([]float32, len(r.history)+len(samples))
	copy(buf, r.history)
	copy(buf[len(r.history):], samples)

	out := make([]float32, 0, len(samples)*r.up/r.down+2)

	// Выходной сэмпл n соответствует позиции n*down/up входного потока;
	// фаза = (n*down) mod up. pos и phase продолжаются с прошлого блока.
	pos := r.taps - 1 + r.posOffset
	phase := r.phase

	for pos < len(buf) {
		var acc float64
		base := phase * r.taps
		for k := 0; k < r.taps; k++ {
			acc += float64(buf[pos-k]) * r.kernel[base+k]
		}
		out = append(out, float32(acc))

		phase += r.down
		pos += phase / r.up
		phase %= r.up
	}

	r.phase = phase
	r.posOffset = pos - len(buf)

	// Сохраняем хвост для следующего блока
	if len(buf) >= r.taps-1 {
		copy(r.history, buf[len(buf)-(r.taps-1):])
	}

	return out
}

func (r *Resampler) processLinear(samples []float32) []float32 {
	ratio := float64(r.srcRate) / float64(r.dstRate)
	out := make([]float32, 0, int(float64(len(samples))/ratio)+1)

	for r.linearPos < float64(len(samples)) {
		idx := int(r.linearPos)
		frac := float32(r.linearPos - float64(idx))

		var s float32
		if idx+1 < len(samples) {
			s = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			s = samples[idx]
		}
		out = append(out, s)
		r.linearPos += ratio
	}

	r.linearPos -= float64(len(samples))
	return out
}

// buildLowpassKernel строит прототип ФНЧ для полифазного фильтра.
// Частота среза - половина меньшей из частот с запасом 10% на переходную
// полосу; окно Ханна
func buildLowpassKernel(up, down, taps int) []float64 {
	n := up * taps
	kernel := make([]float64, n)

	cutoff := 0.9 / float64(maxInt(up, down))
	center := float64(n-1) / 2

	var sum float64
	for i := 0; i < n; i++ {
		x := float64(i) - center
		val := sinc(cutoff*x) * cutoff
		// Окно Ханна
		val *= 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		kernel[i] = val
		sum += val
	}

	// Нормировка на единичное усиление с учётом апсемплинга
	scale := float64(up) / sum
	for i := range kernel {
		kernel[i] *= scale
	}

	// Раскладываем по фазам: phased[phase*taps+k] = h[k*up + phase]
	phased := make([]float64, n)
	for phase := 0; phase < up; phase++ {
		for k := 0; k < taps; k++ {
			idx := k*up + phase
			if idx < n {
				phased[phase*taps+k] = kernel[idx]
			}
		}
	}

	return phased
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
