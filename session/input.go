package session

import (
	"fmt"
	"io"
	"os"

	"github.com/ziadeh/flow-recap/audio"
	"github.com/ziadeh/flow-recap/internal/config"
)

// InputSource открытый источник входного аудио. Формат описывает реальные
// параметры PCM после возможной обёртки (MP3 декодер меняет их на свои).
type InputSource struct {
	Reader     io.Reader
	Closer     io.Closer // может быть nil (stdin)
	SampleRate int
	Channels   int
	BitDepth   int
}

// OpenInput выбирает источник входа по конфигурации: устройство захвата,
// именованный канал или stdin; поверх опционально MP3 декодер.
func OpenInput(cfg *config.Config) (*InputSource, error) {
	var reader io.Reader
	var closer io.Closer

	switch {
	case cfg.CaptureName != "":
		capture, err := audio.NewCapture(cfg.CaptureName, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture device: %w", err)
		}
		if err := capture.Start(); err != nil {
			capture.Close()
			return nil, err
		}
		reader, closer = capture, capture

	case cfg.PipePath != "":
		pipe, err := openPipe(cfg.PipePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open pipe: %w", err)
		}
		reader, closer = pipe, pipe

	default:
		reader = os.Stdin
	}

	src := &InputSource{
		Reader:     reader,
		Closer:     closer,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BitDepth:   cfg.BitDepth,
	}

	// MP3 вход декодируется на лету; формат PCM диктует декодер
	if cfg.InputFormat == "mp3" {
		stream, err := audio.NewMP3Stream(reader)
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, err
		}
		src.Reader = stream
		src.SampleRate = stream.SampleRate()
		src.Channels = stream.Channels()
		src.BitDepth = stream.BitDepth()
	}

	return src, nil
}
