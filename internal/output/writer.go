package output

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"sync"
)

// Writer пишет записи в поток построчно (JSON Lines) с немедленным flush.
// Весь stdout принадлежит этому типу: диагностика идёт только в log (stderr),
// иначе фронтенд не сможет распарсить вывод.
type Writer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	hub *Hub // опциональная ws-трансляция, может быть nil
}

// NewWriter создаёт Writer поверх произвольного io.Writer (обычно os.Stdout)
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// AttachHub подключает websocket-трансляцию выходных записей
func (w *Writer) AttachHub(hub *Hub) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hub = hub
}

// Emit сериализует и пишет одну запись.
// json.Marshal падает на NaN/Infinity ("unsupported value") - в этом случае
// запись прогоняется через Sanitize и сериализуется повторно. Если не помогло,
// вместо записи выводится маркер serialization_error: пайплайн не должен
// останавливаться из-за одного кривого значения.
func (w *Writer) Emit(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		sanitized := Sanitize(rec)
		data, err = json.Marshal(sanitized)
		if err != nil {
			log.Printf("[OUTPUT] serialization failed after sanitize (%s): %v", rec.RecordType(), err)
			fallback := SerializationError{
				Type:         "serialization_error",
				OriginalType: rec.RecordType(),
				Error:        err.Error(),
			}
			data, err = json.Marshal(fallback)
			if err != nil {
				return // совсем безнадёжно, не блокируем пайплайн
			}
		}
	}

	w.mu.Lock()
	w.w.Write(data)
	w.w.WriteByte('\n')
	w.w.Flush()
	hub := w.hub
	w.mu.Unlock()

	if hub != nil {
		hub.Broadcast(data)
	}
}

// EmitStatus сокращение для простых статусных сообщений
func (w *Writer) EmitStatus(message string) {
	w.Emit(Status{Type: "status", Message: message})
}

// EmitError сокращение для записи об ошибке
func (w *Writer) EmitError(message, code string) {
	w.Emit(Error{Type: "error", Message: message, Code: code})
}
