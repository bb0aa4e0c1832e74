//go:build windows

package session

import (
	"fmt"
	"io"
	"log"

	"github.com/Microsoft/go-winio"
)

// openPipe поднимает сервер именованного канала Windows и ждёт одного
// пишущего клиента. Эквивалент POSIX FIFO для этой платформы; путь вида
// \\.\pipe\flowrecap-audio.
func openPipe(path string) (io.ReadCloser, error) {
	listener, err := winio.ListenPipe(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on pipe %s: %w", path, err)
	}

	log.Printf("[INPUT] waiting for writer on named pipe: %s", path)
	conn, err := listener.Accept()
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to accept pipe connection: %w", err)
	}

	// Слушатель больше не нужен: источник один на сессию
	listener.Close()
	return conn, nil
}
