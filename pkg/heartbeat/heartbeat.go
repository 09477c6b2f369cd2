// Package heartbeat decodes the shared heartbeat segment that a supervised
// worker updates through its monitoring shim. The segment starts with a
// state word followed by a monotonic tick counter, both little-endian. The
// tracer only ever reads the segment; the worker side is provided by the
// shim library linked into the worker.
package heartbeat

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-errors/errors"
)

// Worker states.
const (
	StateNotSupp  = 0
	StateStarting = 1
	StateRunning  = 2
	StateStopping = 3
)

// segmentSize is the portion of the segment the tracer interprets.
const segmentSize = 8

// Heartbeat is a decoded snapshot of the worker's heartbeat segment.
type Heartbeat struct {
	State int32
	Ticks uint32
}

// StateName renders the state word for the trace header.
func (hb Heartbeat) StateName() string {
	switch hb.State {
	case StateNotSupp:
		return "not-supported"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("unknown(%d)", hb.State)
}

// Decode interprets the raw bytes of a heartbeat segment.
func Decode(seg []byte) (Heartbeat, error) {
	if len(seg) < segmentSize {
		return Heartbeat{}, errors.Errorf("heartbeat segment too small: %d bytes", len(seg))
	}
	return Heartbeat{
		State: int32(binary.LittleEndian.Uint32(seg[0:4])),
		Ticks: binary.LittleEndian.Uint32(seg[4:8]),
	}, nil
}

// ReadFile decodes the heartbeat segment backing file that the supervisor
// hands down to the worker.
func ReadFile(path string) (Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Heartbeat{}, errors.Wrap(err, 0)
	}
	return Decode(data)
}
