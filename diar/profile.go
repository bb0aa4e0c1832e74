// Package diar реализует онлайн-идентификацию спикеров: инкрементальную
// кластеризацию эмбеддингов по центроидам с персистентными профилями,
// адаптивную калибровку порогов и привязку спикеров к транскрипции.
package diar

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Параметры профиля спикера
const (
	// historyLimit сколько последних эмбеддингов хранит профиль
	historyLimit = 50

	// stableMinCount после скольких эмбеддингов профиль считается стабильным
	stableMinCount = 3

	// decayAlpha коэффициент экспоненциального затухания весов истории:
	// свежие эмбеддинги тянут центроид сильнее, старые постепенно гаснут
	decayAlpha = 0.9

	// varianceWindow по скольким последним эмбеддингам оценивается разброс
	varianceWindow = 5
)

// SpeakerProfile персистентная запись одного обнаруженного спикера.
// Идентичность профиля неприкосновенна: ID не переназначается и профиль
// не удаляется до reset() - меняется только содержимое (центроид, история).
type SpeakerProfile struct {
	ID       string
	Centroid []float64
	History  [][]float64
	Count    int
	Stable   bool
	Variance float64
}

func newProfile(id string, embedding []float64) *SpeakerProfile {
	centroid := make([]float64, len(embedding))
	copy(centroid, embedding)
	return &SpeakerProfile{
		ID:       id,
		Centroid: centroid,
		History:  [][]float64{embedding},
		Count:    1,
	}
}

// absorb добавляет эмбеддинг в профиль и пересчитывает центроид как
// экспоненциально взвешенное среднее истории (самый свежий - вес 1)
func (p *SpeakerProfile) absorb(embedding []float64) {
	p.History = append(p.History, embedding)
	if len(p.History) > historyLimit {
		p.History = p.History[1:]
	}
	p.Count++

	n := len(p.History)
	weights := make([]float64, n)
	var total float64
	for i := range weights {
		weights[i] = math.Pow(decayAlpha, float64(n-1-i))
		total += weights[i]
	}

	centroid := make([]float64, len(embedding))
	for i, h := range p.History {
		floats.AddScaled(centroid, weights[i]/total, h)
	}
	p.Centroid = centroid

	if n >= varianceWindow {
		p.updateVariance()
	}

	if n >= stableMinCount && !p.Stable {
		p.Stable = true // Монотонно: обратно не сбрасывается
	}
}

// updateVariance оценивает разброс профиля как дисперсию косинусов
// последних эмбеддингов к текущему центроиду
func (p *SpeakerProfile) updateVariance() {
	recent := p.History[len(p.History)-varianceWindow:]

	sims := make([]float64, len(recent))
	var mean float64
	for i, h := range recent {
		sims[i] = cosineSimilarity(h, p.Centroid)
		mean += sims[i]
	}
	mean /= float64(len(sims))

	var variance float64
	for _, s := range sims {
		d := s - mean
		variance += d * d
	}
	p.Variance = variance / float64(len(sims))
}

// cosineSimilarity косинусное сходство двух векторов, [-1, 1].
// Нулевой вектор даёт 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	dot := floats.Dot(a, b)
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (normA * normB)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim
}
