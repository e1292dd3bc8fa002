package gpio

// FakeWriter is a test double that records every write.
type FakeWriter struct {
	// Writes contains every Write call in order.
	Writes []WriteOp

	// Values holds the current level of each line written so far.
	Values map[int]bool

	// WriteError, if set, is returned by Write (no write is recorded).
	WriteError error

	// FailLine limits WriteError to a single line when non-zero.
	FailLine int

	// Closed tracks if Close was called.
	Closed bool
}

// WriteOp is a single recorded write.
type WriteOp struct {
	Line int
	High bool
}

// NewFakeWriter creates an empty FakeWriter.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{Values: make(map[int]bool)}
}

// Write records the write unless an error is scripted.
func (f *FakeWriter) Write(line int, high bool) error {
	if f.WriteError != nil && (f.FailLine == 0 || f.FailLine == line) {
		return f.WriteError
	}
	f.Writes = append(f.Writes, WriteOp{Line: line, High: high})
	f.Values[line] = high
	return nil
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.Closed = true
	return nil
}

// Pulses returns how many complete high→low pulses were written to line.
func (f *FakeWriter) Pulses(line int) int {
	n := 0
	high := false
	for _, w := range f.Writes {
		if w.Line != line {
			continue
		}
		if w.High {
			high = true
		} else if high {
			n++
			high = false
		}
	}
	return n
}

// Reset clears recorded writes.
func (f *FakeWriter) Reset() {
	f.Writes = nil
	f.Values = make(map[int]bool)
	f.WriteError = nil
	f.FailLine = 0
	f.Closed = false
}
