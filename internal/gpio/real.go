//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// CdevWriter drives outputs through the Linux GPIO character device.
type CdevWriter struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewCdevWriter requests each line as an output, initially low.
func NewCdevWriter(chipName string, offsets []int) (*CdevWriter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	w := &CdevWriter{chip: chip, lines: make(map[int]*gpiocdev.Line, len(offsets))}
	for _, off := range offsets {
		if _, ok := w.lines[off]; ok {
			continue
		}
		line, err := chip.RequestLine(off, gpiocdev.AsOutput(0))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request output pin %d: %w", off, err)
		}
		w.lines[off] = line
	}
	return w, nil
}

// Write drives a requested line.
func (w *CdevWriter) Write(line int, high bool) error {
	l, ok := w.lines[line]
	if !ok {
		return fmt.Errorf("pin %d: %w", line, ErrUnknownLine)
	}
	v := 0
	if high {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", line, err)
	}
	return nil
}

// Close releases GPIO resources.
// Lines are driven low and reconfigured to input with pull-down (matching Pi
// boot defaults) before closing so no relay coil is left energized.
func (w *CdevWriter) Close() error {
	var errs []error

	for off, l := range w.lines {
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive pin %d low: %w", off, err))
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", off, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", off, err))
		}
	}
	w.lines = nil

	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
