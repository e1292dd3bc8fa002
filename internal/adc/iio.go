package adc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultIIODevice is the sysfs directory of the first IIO ADC.
const DefaultIIODevice = "/sys/bus/iio/devices/iio:device0"

// IIOReader reads in_voltageN_raw attributes exposed by a Linux IIO ADC driver
// (ADS1015/ADS1115, MCP3008 and similar).
type IIOReader struct {
	dir string
	now func() time.Time
}

// NewIIOReader creates a reader for the given device directory.
func NewIIOReader(dir string) (*IIOReader, error) {
	if dir == "" {
		dir = DefaultIIODevice
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("open iio device: %w", err)
	}
	return &IIOReader{dir: dir, now: time.Now}, nil
}

// ReadRaw reads in_voltage<channel>_raw.
func (r *IIOReader) ReadRaw(channel int) (float64, time.Time, error) {
	path := fmt.Sprintf("%s/in_voltage%d_raw", r.dir, channel)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read channel %d: %w", channel, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse channel %d: %w", channel, err)
	}
	return v, r.now(), nil
}
