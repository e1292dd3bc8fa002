package mqtt

import "github.com/sweeney/thermostat/internal/logger"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// A retained message replaces an older retained message on the same topic,
// since the broker would only keep the last one anyway.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
	dropped  int
	log      *logger.Logger
}

func newRingBuffer(capacity int, log *logger.Logger) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
		log:      log,
	}
}

func (r *ringBuffer) index(i int) int {
	return (r.head - r.count + i + r.capacity) % r.capacity
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if msg.retained {
		for i := 0; i < r.count; i++ {
			j := r.index(i)
			if r.buf[j].retained && r.buf[j].topic == msg.topic {
				r.buf[j] = msg
				return
			}
		}
	}
	if r.count == r.capacity {
		if !r.overflow {
			r.log.Warnw("mqtt buffer full, dropping oldest", "capacity", r.capacity)
			r.overflow = true
		}
		r.dropped++
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[r.index(i)]
	}

	if r.dropped > 0 {
		r.log.Warnw("mqtt buffer replaying after overflow", "dropped", r.dropped, "replaying", r.count)
	}
	r.count = 0
	r.head = 0
	r.overflow = false
	r.dropped = 0
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
