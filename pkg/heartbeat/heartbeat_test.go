package heartbeat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	hb, err := Decode([]byte{2, 0, 0, 0, 0x39, 0x05, 0, 0})
	assert.NoError(t, err)
	assert.EqualValues(t, StateRunning, hb.State)
	assert.EqualValues(t, 1337, hb.Ticks)
	assert.Equal(t, "running", hb.StateName())
}

func TestDecodeShortSegment(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestStateNames(t *testing.T) {
	type scenario struct {
		state    int32
		expected string
	}

	scenarios := []scenario{
		{StateNotSupp, "not-supported"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{9, "unknown(9)"},
	}

	for _, s := range scenarios {
		assert.Equal(t, s.expected, Heartbeat{State: s.state}.StateName())
	}
}
