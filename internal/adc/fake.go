package adc

import "time"

// FakeReader is a test double that returns scripted values per channel.
type FakeReader struct {
	// Samples maps a channel to the values returned by successive reads.
	// When exhausted, the last value repeats.
	Samples map[int][]float64

	// Errors maps a channel to an error returned by every read.
	Errors map[int]error

	// Calls counts reads per channel.
	Calls map[int]int

	// Now is the timestamp attached to every sample.
	Now time.Time

	index map[int]int
}

// NewFakeReader creates a FakeReader with no scripted samples.
func NewFakeReader() *FakeReader {
	return &FakeReader{
		Samples: make(map[int][]float64),
		Errors:  make(map[int]error),
		Calls:   make(map[int]int),
		index:   make(map[int]int),
	}
}

// Script replaces the samples for a channel and rewinds it.
func (f *FakeReader) Script(channel int, values ...float64) {
	f.Samples[channel] = values
	f.index[channel] = 0
}

// Constant scripts a single value repeated forever.
func (f *FakeReader) Constant(channel int, v float64) {
	f.Script(channel, v)
}

// ReadRaw returns the next scripted sample for the channel.
func (f *FakeReader) ReadRaw(channel int) (float64, time.Time, error) {
	f.Calls[channel]++
	if err := f.Errors[channel]; err != nil {
		return 0, time.Time{}, err
	}
	values := f.Samples[channel]
	if len(values) == 0 {
		return 0, f.Now, ErrNoSample
	}
	i := f.index[channel]
	v := values[i]
	if i < len(values)-1 {
		f.index[channel] = i + 1
	}
	return v, f.Now, nil
}
