package midimsg_test

import (
	"testing"

	"coplayer/midimsg"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatus(t *testing.T) {
	status, ch := midimsg.SplitStatus(0x93)
	assert.Equal(t, midimsg.NoteOn, status)
	assert.Equal(t, uint8(3), ch)
}

func TestIsNoteOnOff(t *testing.T) {
	on := midimsg.Message{Status: midimsg.NoteOn, D0: 60, D1: 100}
	assert.True(t, on.IsNoteOn())
	assert.False(t, on.IsNoteOff())

	onZeroVel := midimsg.Message{Status: midimsg.NoteOn, D0: 60, D1: 0}
	assert.False(t, onZeroVel.IsNoteOn())
	assert.True(t, onZeroVel.IsNoteOff())

	off := midimsg.Message{Status: midimsg.NoteOff, D0: 60, D1: 0}
	assert.True(t, off.IsNoteOff())
}

func TestSustainDown(t *testing.T) {
	down := midimsg.Message{Status: midimsg.ControlChange, D0: midimsg.CCSustainPedal, D1: 100}
	up := midimsg.Message{Status: midimsg.ControlChange, D0: midimsg.CCSustainPedal, D1: 0}
	assert.True(t, midimsg.SustainDown(down))
	assert.False(t, midimsg.SustainDown(up))
}

func TestFromGomidiBytes(t *testing.T) {
	m := midimsg.FromGomidiBytes([]byte{0x91, 64, 90}, 1.5, 0, 0, 7)
	assert.Equal(t, midimsg.NoteOn, m.Status)
	assert.Equal(t, uint8(1), m.Ch)
	assert.Equal(t, uint8(64), m.D0)
	assert.Equal(t, uint8(90), m.D1)
	assert.Equal(t, 1.5, m.Timestamp)
}
