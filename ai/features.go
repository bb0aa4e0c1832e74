package ai

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FeatureConfig параметры акустического фронтенда энкодера голоса
type FeatureConfig struct {
	SampleRate int
	NumMels    int
	HopLength  int // Обычно SampleRate/100 (10ms)
	WinLength  int // Обычно SampleRate/40 (25ms)
	FFTSize    int
}

// FeatureExtractor вычисляет log-mel признаки для энкодера голоса.
// Фильтры и окно считаются один раз при создании.
type FeatureExtractor struct {
	config  FeatureConfig
	filters []float64 // Mel-фильтры, плоско: [mel*numBins + bin]
	numBins int
	window  []float64
	fft     *fourier.FFT
}

// NewFeatureExtractor создаёт фронтенд с предвычисленными фильтрами
func NewFeatureExtractor(config FeatureConfig) *FeatureExtractor {
	numBins := config.FFTSize/2 + 1
	return &FeatureExtractor{
		config:  config,
		filters: melFilterbank(config.FFTSize, config.NumMels, config.SampleRate),
		numBins: numBins,
		window:  hannWindow(config.WinLength),
		fft:     fourier.NewFFT(config.FFTSize),
	}
}

// Compute возвращает log-mel признаки плоским массивом [frame*numMels + mel]
// и количество фреймов. Фреймы выровнены по левому краю (без центрирования).
func (fe *FeatureExtractor) Compute(samples []float32) ([]float32, int) {
	cfg := fe.config

	numFrames := 1
	if len(samples) >= cfg.WinLength {
		numFrames = (len(samples)-cfg.WinLength)/cfg.HopLength + 1
	}

	features := make([]float32, numFrames*cfg.NumMels)
	frameData := make([]float64, cfg.FFTSize)
	power := make([]float64, fe.numBins)

	for frame := 0; frame < numFrames; frame++ {
		start := frame * cfg.HopLength

		// Окно с зануленным паддингом до FFTSize
		for i := range frameData {
			frameData[i] = 0
		}
		for i := 0; i < cfg.WinLength; i++ {
			if idx := start + i; idx < len(samples) {
				frameData[i] = float64(samples[idx]) * fe.window[i]
			}
		}

		coeffs := fe.fft.Coefficients(nil, frameData)
		for i := 0; i < fe.numBins; i++ {
			re, im := real(coeffs[i]), imag(coeffs[i])
			power[i] = re*re + im*im
		}

		for m := 0; m < cfg.NumMels; m++ {
			var sum float64
			row := m * fe.numBins
			for k := 0; k < fe.numBins; k++ {
				sum += power[k] * fe.filters[row+k]
			}
			if sum < 1e-9 {
				sum = 1e-9
			}
			features[frame*cfg.NumMels+m] = float32(math.Log(sum))
		}
	}

	return features, numFrames
}

// melFilterbank строит треугольные mel-фильтры (HTK формула, совместимо
// с torchaudio/librosa), плоским массивом [mel*numBins + bin]
func melFilterbank(fftSize, numMels, sampleRate int) []float64 {
	hzToMel := func(hz float64) float64 { return 2595.0 * math.Log10(1.0+hz/700.0) }
	melToHz := func(mel float64) float64 { return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0) }

	numBins := fftSize/2 + 1
	fMax := float64(sampleRate) / 2.0

	binFreqs := make([]float64, numBins)
	for i := range binFreqs {
		binFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	// numMels+2 опорных точек: левый край, центры, правый край
	melMax := hzToMel(fMax)
	points := make([]float64, numMels+2)
	for i := range points {
		points[i] = melToHz(float64(i) * melMax / float64(numMels+1))
	}

	filters := make([]float64, numMels*numBins)
	for m := 0; m < numMels; m++ {
		left, center, right := points[m], points[m+1], points[m+2]
		for k, freq := range binFreqs {
			lower := (freq - left) / (center - left)
			upper := (right - freq) / (right - center)
			val := math.Min(lower, upper)
			if val > 0 {
				filters[m*numBins+k] = val
			}
		}
	}

	return filters
}

func hannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}
