package ai

import (
	"fmt"
	"log"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SileroVAD нейросетевой детектор голосовой активности (Silero VAD, ONNX).
// Модель потоковая: LSTM состояние и контекст последних сэмплов переносятся
// между окнами, поэтому все вызовы идут через один экземпляр под мьютексом.
type SileroVAD struct {
	session    *ort.DynamicAdvancedSession
	sampleRate int

	// LSTM состояние [2, 1, 128] (h и c)
	state []float32

	// Контекст - последние N сэмплов предыдущего окна
	// (64 для 16kHz, 32 для 8kHz)
	context []float32

	mu          sync.Mutex
	initialized bool
}

// SpeechInterval интервал речи, найденный VAD
type SpeechInterval struct {
	StartMs int64
	EndMs   int64
	AvgProb float32
}

// VADParams параметры одного прохода детекции. Передаются на каждый вызов,
// чтобы permissive-режим не требовал второго экземпляра модели.
type VADParams struct {
	Threshold     float32 // Порог вероятности речи
	MinSpeechMs   int     // Минимальная длительность участка речи
	MinSilenceMs  int     // Минимальная пауза, разделяющая участки
}

// NewSileroVAD загружает ONNX модель Silero VAD
func NewSileroVAD(modelPath string, sampleRate int) (*SileroVAD, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("VAD model file not found: %s", modelPath)
	}
	if sampleRate != 8000 && sampleRate != 16000 {
		return nil, fmt.Errorf("VAD sample rate must be 8000 or 16000, got %d", sampleRate)
	}

	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	// Silero VAD inputs: input, state, sr; outputs: output, stateN
	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	contextSize := 64
	if sampleRate == 8000 {
		contextSize = 32
	}

	vad := &SileroVAD{
		session:     session,
		sampleRate:  sampleRate,
		state:       make([]float32, 2*1*128),
		context:     make([]float32, contextSize),
		initialized: true,
	}

	log.Printf("[VAD] Silero VAD initialized: sample_rate=%d", sampleRate)
	return vad, nil
}

// windowSize размер окна модели: 512 сэмплов для 16kHz, 256 для 8kHz (32ms)
func (v *SileroVAD) windowSize() int {
	if v.sampleRate == 8000 {
		return 256
	}
	return 512
}

// resetState сбрасывает LSTM состояние и контекст (перед независимым проходом)
func (v *SileroVAD) resetState() {
	for i := range v.state {
		v.state[i] = 0
	}
	for i := range v.context {
		v.context[i] = 0
	}
}

// processWindow прогоняет одно окно через модель и возвращает вероятность речи
func (v *SileroVAD) processWindow(samples []float32) (float32, error) {
	contextSize := len(v.context)

	// Вход модели: [batch, context + window]
	inputData := make([]float32, contextSize+len(samples))
	copy(inputData[:contextSize], v.context)
	copy(inputData[contextSize:], samples)

	// Контекст для следующего окна - последние contextSize сэмплов
	if len(samples) >= contextSize {
		copy(v.context, samples[len(samples)-contextSize:])
	} else {
		copy(v.context, v.context[len(samples):])
		copy(v.context[contextSize-len(samples):], samples)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(inputData))), inputData)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), v.state)
	if err != nil {
		return 0, fmt.Errorf("failed to create state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(v.sampleRate)})
	if err != nil {
		return 0, fmt.Errorf("failed to create sr tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := v.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	prob := outputs[0].(*ort.Tensor[float32]).GetData()
	copy(v.state, outputs[1].(*ort.Tensor[float32]).GetData())

	if len(prob) == 0 {
		return 0, nil
	}
	return prob[0], nil
}

// DetectSpeech находит интервалы речи в аудио с заданными параметрами.
// Каждый вызов - независимый проход: состояние сбрасывается в начале.
func (v *SileroVAD) DetectSpeech(samples []float32, params VADParams) ([]SpeechInterval, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.initialized {
		return nil, fmt.Errorf("Silero VAD not initialized")
	}

	v.resetState()

	windowSize := v.windowSize()
	windowMs := float64(windowSize) * 1000 / float64(v.sampleRate)
	minSilenceWindows := int(float64(params.MinSilenceMs) / windowMs)
	if minSilenceWindows < 1 {
		minSilenceWindows = 1
	}

	var intervals []SpeechInterval
	var current *SpeechInterval
	var probSum float32
	var probCount int
	silenceRun := 0

	for i := 0; i < len(samples); i += windowSize {
		window := samples[i:minInt(i+windowSize, len(samples))]
		if len(window) < windowSize {
			padded := make([]float32, windowSize)
			copy(padded, window)
			window = padded
		}

		prob, err := v.processWindow(window)
		if err != nil {
			return nil, err
		}

		currentMs := int64(float64(i) * 1000 / float64(v.sampleRate))

		if prob >= params.Threshold {
			silenceRun = 0
			if current == nil {
				current = &SpeechInterval{StartMs: currentMs}
				probSum, probCount = 0, 0
			}
			probSum += prob
			probCount++
		} else if current != nil {
			silenceRun++
			if silenceRun >= minSilenceWindows {
				endMs := currentMs - int64(float64(silenceRun-1)*windowMs)
				if endMs <= current.StartMs {
					endMs = current.StartMs + int64(windowMs)
				}
				current.EndMs = endMs
				if probCount > 0 {
					current.AvgProb = probSum / float32(probCount)
				}
				if current.EndMs-current.StartMs >= int64(params.MinSpeechMs) {
					intervals = append(intervals, *current)
				}
				current = nil
				silenceRun = 0
			}
		}
	}

	// Закрываем незавершённый интервал концом аудио
	if current != nil {
		current.EndMs = int64(len(samples)) * 1000 / int64(v.sampleRate)
		if probCount > 0 {
			current.AvgProb = probSum / float32(probCount)
		}
		if current.EndMs-current.StartMs >= int64(params.MinSpeechMs) {
			intervals = append(intervals, *current)
		}
	}

	return intervals, nil
}

// Close освобождает ONNX сессию
func (v *SileroVAD) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
	v.initialized = false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
