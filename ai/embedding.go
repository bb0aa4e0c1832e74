package ai

import "math"

// EmbeddingExtractor способность "аудио -> вектор голоса". Движок выбирается
// один раз при инициализации и не меняется до конца сессии.
//
// Вектор возвращается нормированным и в float64: за границей экстрактора
// float32 из тензоров жить не должен, иначе он доползает до JSON-сериализации.
type EmbeddingExtractor interface {
	// Extract извлекает эмбеддинг из аудио. Ошибка означает "окно
	// пропустить", а не "поток остановить".
	Extract(samples []float32, sampleRate int) ([]float64, error)

	// Backend имя движка для ready/capabilities записей
	Backend() string

	Close()
}

// normalizeEmbedding переводит вектор в float64 и нормирует до единичной
// длины. Нулевой вектор возвращается как есть.
func normalizeEmbedding(v []float32) []float64 {
	out := make([]float64, len(v))
	var sumSq float64
	for i, x := range v {
		out[i] = float64(x)
		sumSq += float64(x) * float64(x)
	}

	norm := math.Sqrt(sumSq)
	if norm < 1e-6 {
		return out
	}
	for i := range out {
		out[i] /= norm
	}
	return out
}
