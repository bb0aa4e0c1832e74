//go:build !windows

package session

import (
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sys/unix"
)

// openPipe открывает именованный канал для чтения, создавая FIFO при
// необходимости. Открытие блокируется до подключения пишущей стороны -
// то же поведение, что у чтения из stdin до первого байта.
func openPipe(path string) (io.ReadCloser, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("failed to create FIFO %s: %w", path, err)
		}
		log.Printf("[INPUT] created named pipe: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FIFO %s: %w", path, err)
	}
	return f, nil
}
