package ai

import "strings"

// Whisper-модели галлюцинируют на тишине и шуме: выдают типовые фразы из
// обучающих данных (концовки YouTube-роликов, описания музыки) и зацикленные
// повторы. Такие сегменты фильтруются до вывода.
var hallucinationPatterns = []string{
	"thank you for watching",
	"thanks for watching",
	"please subscribe",
	"like and subscribe",
	"see you next time",
	"goodbye",
	"bye bye",
	"thank you",
	"subtitles by",
	"captions by",
	"transcribed by",
	"music playing",
	"music",
	"[music]",
	"(music)",
	"♪",
	"♫",
	"la la la",
	"na na na",
	"da da da",
	"oh oh oh",
	"oh, oh, oh",
	"ah ah ah",
	"i am an angel",
	"for each i am",
	"the crap out",
}

// minAcceptConfidence ниже этого порога сегмент почти наверняка галлюцинация
const minAcceptConfidence = 0.3

// IsLikelyHallucination решает, стоит ли отбросить сегмент как галлюцинацию
func IsLikelyHallucination(text string, confidence float64, hasConfidence bool) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	if hasConfidence && confidence < minAcceptConfidence {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, pattern := range hallucinationPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return isRepetitive(lower)
}

// isRepetitive ловит зацикленный текст: одно слово занимает больше половины
// сегмента, либо какой-то 2-3-словный n-gram повторяется 3+ раза
func isRepetitive(lower string) bool {
	words := strings.Fields(lower)
	if len(words) < 4 {
		return false
	}

	wordCounts := make(map[string]int, len(words))
	maxCount := 0
	for _, w := range words {
		wordCounts[w]++
		if wordCounts[w] > maxCount {
			maxCount = wordCounts[w]
		}
	}
	if float64(maxCount) > float64(len(words))*0.5 {
		return true
	}

	for _, n := range []int{2, 3} {
		if len(words) < n*2 {
			continue
		}
		ngramCounts := make(map[string]int)
		for i := 0; i+n <= len(words); i++ {
			key := strings.Join(words[i:i+n], " ")
			ngramCounts[key]++
			if ngramCounts[key] >= 3 {
				return true
			}
		}
	}

	return false
}

// maxDedupWords сколько последних слов помнить для дедупликации между чанками
const maxDedupWords = 10

// Deduplicator убирает повтор слов на стыке чанков: конец чанка N и начало
// чанка N+1 иногда транскрибируются одинаково, и без этой зачистки слова
// дублируются в выводе.
type Deduplicator struct {
	lastWords []string
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,!?;:"))
}

// Deduplicate удаляет из начала text слова, совпадающие с хвостом
// предыдущего текста
func (d *Deduplicator) Deduplicate(text string) string {
	if len(d.lastWords) == 0 || text == "" {
		return text
	}

	newWords := strings.Fields(text)
	if len(newWords) == 0 {
		return text
	}

	maxOverlap := minInt(len(newWords), len(d.lastWords))
	overlap := 0

	for i := 1; i <= maxOverlap; i++ {
		match := true
		for j := 0; j < i; j++ {
			if normalizeWord(newWords[j]) != normalizeWord(d.lastWords[len(d.lastWords)-i+j]) {
				match = false
				break
			}
		}
		if match {
			overlap = i
		}
	}

	if overlap == 0 {
		return text
	}

	return strings.Join(newWords[overlap:], " ")
}

// Update запоминает хвост выведенного текста для следующей проверки
func (d *Deduplicator) Update(text string) {
	if text == "" {
		return
	}
	words := strings.Fields(text)
	if len(words) > maxDedupWords {
		words = words[len(words)-maxDedupWords:]
	}
	d.lastWords = words
}
