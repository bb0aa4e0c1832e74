package audio

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// Capture захватывает живое аудио с устройства и отдаёт его как поток
// сырых PCM16 байтов через io.Reader - тот же контракт, что stdin и
// именованный канал, поэтому остальной пайплайн не знает об источнике.
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	sampleRate int
	channels   int

	dataChan chan []byte
	leftover []byte
	closed   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewCapture инициализирует malgo контекст и находит устройство по имени
// (частичное совпадение без регистра). Пустое имя = устройство по умолчанию.
func NewCapture(deviceName string, sampleRate, channels int) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	c := &Capture{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		// Большой буфер чтобы не терять данные при медленной обработке
		dataChan: make(chan []byte, 1000),
		closed:   make(chan struct{}),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if deviceName != "" && deviceName != "default" {
		id, err := c.findDeviceByName(deviceName)
		if err != nil {
			ctx.Uninit()
			ctx.Free()
			return nil, err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		data := make([]byte, len(pInputSamples))
		copy(data, pInputSamples)
		select {
		case c.dataChan <- data:
		case <-c.closed:
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to init capture device: %w", err)
	}
	c.device = device

	return c, nil
}

// findDeviceByName ищет устройство захвата по имени (частичное совпадение)
func (c *Capture) findDeviceByName(name string) (*malgo.DeviceID, error) {
	devices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	nameLower := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name()), nameLower) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("capture device not found: %s", name)
}

// Start запускает захват
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("capture already running")
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	c.running = true
	log.Printf("[CAPTURE] started: %dHz, %d channel(s)", c.sampleRate, c.channels)
	return nil
}

// Read реализует io.Reader поверх канала захвата. Блокируется до появления
// данных; после Close возвращает io.EOF (как закрытый stdin).
func (c *Capture) Read(p []byte) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}

	select {
	case data, ok := <-c.dataChan:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, data)
		if n < len(data) {
			c.leftover = data[n:]
		}
		return n, nil
	case <-c.closed:
		// Дочитываем что осталось в канале
		select {
		case data := <-c.dataChan:
			n := copy(p, data)
			if n < len(data) {
				c.leftover = data[n:]
			}
			return n, nil
		default:
			return 0, io.EOF
		}
	}
}

// Close останавливает захват и освобождает устройство
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false

	close(c.closed)
	c.device.Uninit()
	c.ctx.Uninit()
	c.ctx.Free()
	log.Printf("[CAPTURE] stopped")
	return nil
}
