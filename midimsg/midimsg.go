// Package midimsg defines the MIDI channel message type used on the
// record bus (spec §3) and small helpers for building/decoding
// gitlab.com/gomidi/midi/v2 messages the way the teacher's
// midi/generator.go and midi/realtime.go do (status/channel masking,
// note-on/off construction).
package midimsg

import (
	"gitlab.com/gomidi/midi/v2"
)

// Status is a MIDI status byte with the channel nibble removed, e.g.
// 0x90 for note-on regardless of channel.
type Status uint8

const (
	NoteOff         Status = 0x80
	NoteOn          Status = 0x90
	PolyAftertouch  Status = 0xA0
	ControlChange   Status = 0xB0
	ProgramChange   Status = 0xC0
	ChannelPressure Status = 0xD0
	PitchBend       Status = 0xE0
)

// Sustain/sostenuto pedal controller numbers (§4.4 pedal precompute).
const (
	CCSustainPedal   = 64
	CCSostenutoPedal = 66
	CCAllSoundOff    = 120
	CCAllNotesOff    = 123
	CCResetAllCtrl   = 121
)

// Message is the channel message shape from spec §3:
// {timestamp, port_idx, dev_idx, uid, ch, status, d0, d1}.
type Message struct {
	Timestamp float64 // seconds
	PortIdx   uint8
	DevIdx    uint8
	UID       uint32
	Ch        uint8 // 0-15
	Status    Status
	D0        uint8
	D1        uint8
}

// IsNoteOn reports whether m is a note-on with a non-zero velocity;
// note-on with velocity 0 is a note-off in disguise per the MIDI spec.
func (m Message) IsNoteOn() bool {
	return m.Status == NoteOn && m.D1 > 0
}

// IsNoteOff reports whether m is a note-off, including note-on/vel=0.
func (m Message) IsNoteOff() bool {
	return m.Status == NoteOff || (m.Status == NoteOn && m.D1 == 0)
}

// Pitch returns D0 when m is a note event; ok is false otherwise.
func (m Message) Pitch() (pitch uint8, ok bool) {
	if m.Status == NoteOn || m.Status == NoteOff {
		return m.D0, true
	}
	return 0, false
}

// SplitStatus separates a raw MIDI status byte into channel-stripped
// status and channel, mirroring the teacher's
// `status & 0x0F` / `status & 0xF0` masking in midi/realtime.go.
func SplitStatus(raw uint8) (status Status, ch uint8) {
	return Status(raw & 0xF0), raw & 0x0F
}

// ToGomidi converts a Message to a gomidi/midi/v2 wire message, used
// when rendering an emitted record to a Standard MIDI File (see
// package midiexport).
func (m Message) ToGomidi() midi.Message {
	switch m.Status {
	case NoteOn:
		return midi.NoteOn(m.Ch, m.D0, m.D1)
	case NoteOff:
		return midi.NoteOff(m.Ch, m.D0)
	case ControlChange:
		return midi.ControlChange(m.Ch, m.D0, m.D1)
	case ProgramChange:
		return midi.ProgramChange(m.Ch, m.D0)
	default:
		return midi.Message{byte(m.Status) | m.Ch, m.D0, m.D1}
	}
}

// FromGomidiBytes decodes a raw 2-3 byte gomidi message into a
// Message, stripping the channel out of the status byte.
func FromGomidiBytes(raw []byte, timestamp float64, portIdx, devIdx uint8, uid uint32) Message {
	m := Message{Timestamp: timestamp, PortIdx: portIdx, DevIdx: devIdx, UID: uid}
	if len(raw) == 0 {
		return m
	}
	m.Status, m.Ch = SplitStatus(raw[0])
	if len(raw) > 1 {
		m.D0 = raw[1]
	}
	if len(raw) > 2 {
		m.D1 = raw[2]
	}
	return m
}

// SustainDown reports whether a controller message is a sustain-pedal
// "down" event (value >= 64, the standard MIDI threshold).
func SustainDown(m Message) bool {
	return m.Status == ControlChange && m.D0 == CCSustainPedal && m.D1 >= 64
}

// SostenutoDown reports whether a controller message is a sostenuto
// pedal "down" event.
func SostenutoDown(m Message) bool {
	return m.Status == ControlChange && m.D0 == CCSostenutoPedal && m.D1 >= 64
}

// AllNotesOff builds the controller message that silences every note
// on a channel (CC 123).
func AllNotesOff(ch uint8) Message {
	return Message{Status: ControlChange, Ch: ch, D0: CCAllNotesOff, D1: 0}
}

// ResetAllControllers builds the controller message that resets
// sustain/sostenuto/modulation etc. on a channel (CC 121).
func ResetAllControllers(ch uint8) Message {
	return Message{Status: ControlChange, Ch: ch, D0: CCResetAllCtrl, D1: 0}
}

// SustainPedalMsg builds a sustain-pedal controller message, down when
// down is true (value 127), up otherwise (value 0).
func SustainPedalMsg(ch uint8, down bool) Message {
	v := uint8(0)
	if down {
		v = 127
	}
	return Message{Status: ControlChange, Ch: ch, D0: CCSustainPedal, D1: v}
}

// SostenutoPedalMsg builds a sostenuto-pedal controller message.
func SostenutoPedalMsg(ch uint8, down bool) Message {
	v := uint8(0)
	if down {
		v = 127
	}
	return Message{Status: ControlChange, Ch: ch, D0: CCSostenutoPedal, D1: v}
}
