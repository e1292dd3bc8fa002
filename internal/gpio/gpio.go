// Package gpio drives the digital output lines wired to the latching relays.
// The real implementations use the Linux GPIO character device or /dev/gpiomem.
// The fake implementation allows testing without hardware.
package gpio

import "errors"

// Writer sets digital output lines.
type Writer interface {
	// Write drives the given line (BCM offset) high or low.
	Write(line int, high bool) error

	// Close releases GPIO resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendCdev = "cdev"
	BackendRpio = "rpio"
)

// DefaultChip is the character device used by the cdev backend.
const DefaultChip = "gpiochip0"

// ErrUnknownLine is returned when writing a line that was not requested at open.
var ErrUnknownLine = errors.New("gpio: line not requested")

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("gpio: unknown backend")

// Open creates a Writer for the named backend with every line configured as
// an output driven low.
func Open(backend, chip string, lines []int) (Writer, error) {
	switch backend {
	case BackendCdev, "":
		if chip == "" {
			chip = DefaultChip
		}
		w, err := NewCdevWriter(chip, lines)
		if err != nil {
			return nil, err
		}
		return w, nil
	case BackendRpio:
		w, err := NewRpioWriter(lines)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, ErrUnknownBackend
	}
}
