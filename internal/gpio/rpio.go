//go:build linux

package gpio

import (
	"fmt"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// RpioWriter drives outputs through /dev/gpiomem. Used on older kernels and
// images where the character device is not available.
type RpioWriter struct {
	pins map[int]rpio.Pin
}

// NewRpioWriter maps GPIO memory and configures each pin as a low output.
func NewRpioWriter(offsets []int) (*RpioWriter, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpiomem: %w", err)
	}
	w := &RpioWriter{pins: make(map[int]rpio.Pin, len(offsets))}
	for _, off := range offsets {
		pin := rpio.Pin(off)
		pin.Output()
		pin.Low()
		w.pins[off] = pin
	}
	return w, nil
}

// Write drives a configured pin.
func (w *RpioWriter) Write(line int, high bool) error {
	pin, ok := w.pins[line]
	if !ok {
		return fmt.Errorf("pin %d: %w", line, ErrUnknownLine)
	}
	if high {
		pin.High()
	} else {
		pin.Low()
	}
	return nil
}

// Close drives every pin low, returns it to input and unmaps GPIO memory.
func (w *RpioWriter) Close() error {
	for _, pin := range w.pins {
		pin.Low()
		pin.Input()
		pin.PullDown()
	}
	w.pins = nil
	if err := rpio.Close(); err != nil {
		return fmt.Errorf("close gpiomem: %w", err)
	}
	return nil
}
