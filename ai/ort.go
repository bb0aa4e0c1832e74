// Package ai содержит модельные движки пайплайна: Silero VAD, энкодеры
// голосовых эмбеддингов (ONNX и sherpa-onnx) и ASR распознаватель.
package ai

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNX Runtime глобальная инициализация
var (
	onnxInitialized bool
	onnxInitMu      sync.Mutex
)

func initONNXRuntime() error {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()

	if onnxInitialized {
		return nil
	}

	// Переменная окружения имеет приоритет
	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")

	if libPath == "" {
		exeDir := filepath.Dir(os.Args[0])
		searchPaths := []string{
			filepath.Join(exeDir, onnxLibName()),
			filepath.Join(exeDir, "lib", onnxLibName()),
			filepath.Join("lib", onnxLibName()),
			onnxLibName(),
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}

	if libPath != "" {
		log.Printf("[ONNX] using runtime library: %s", libPath)
		ort.SetSharedLibraryPath(libPath)
	} else {
		return fmt.Errorf("ONNX Runtime library not found (set ONNXRUNTIME_SHARED_LIBRARY_PATH)")
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}

	onnxInitialized = true
	log.Println("[ONNX] runtime initialized")
	return nil
}

func onnxLibName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
