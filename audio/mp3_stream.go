package audio

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Stream декодирует MP3 поток в сырой PCM на лету (чистый Go, без FFmpeg).
// go-mp3 всегда отдаёт signed 16-bit stereo interleaved на частоте файла,
// поэтому после обёртки вход выглядит как обычный PCM источник и проходит
// через тот же Ingestor. Используется для прогона записанных встреч через
// живой пайплайн (--input-format mp3).
type MP3Stream struct {
	decoder *mp3.Decoder
}

// NewMP3Stream оборачивает произвольный поток MP3 байтов
func NewMP3Stream(r io.Reader) (*MP3Stream, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}
	return &MP3Stream{decoder: decoder}, nil
}

// SampleRate частота дискретизации декодированного PCM
func (s *MP3Stream) SampleRate() int {
	return s.decoder.SampleRate()
}

// Channels go-mp3 всегда декодирует в стерео
func (s *MP3Stream) Channels() int {
	return 2
}

// BitDepth go-mp3 всегда декодирует в 16 бит
func (s *MP3Stream) BitDepth() int {
	return 16
}

// Read отдаёт декодированные PCM16LE байты
func (s *MP3Stream) Read(p []byte) (int, error) {
	return s.decoder.Read(p)
}
