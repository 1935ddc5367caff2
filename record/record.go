// Package record implements the typed record bus conventions from
// spec §3/§4.6: a fixed set of named fields flowing through a bounded
// ring buffer, single-producer/single-consumer, owned by the
// producing component (§5). Push writes into ring storage preallocated
// at Buffer creation and never allocates; Drain returns a newly
// allocated copy of the held records on every call.
package record

import (
	"coplayer/midimsg"
	"coplayer/perrors"
)

// Record is the typed tuple carried on the bus: {midi, loc, meas,
// port_id, score_vel, piano_id}. Optional fields use a Has* flag
// instead of a pointer so Records can live in a preallocated array
// without per-record heap allocation.
type Record struct {
	HasMidi bool
	Midi    midimsg.Message

	HasLoc bool
	Loc    uint32

	HasMeas bool
	Meas    uint32

	HasPortID bool
	PortID    string

	HasScoreVel bool
	ScoreVel    uint8

	HasPianoID bool
	PianoID    string
}

// WithMidi returns a copy of r with the MIDI field set.
func (r Record) WithMidi(m midimsg.Message) Record {
	r.HasMidi, r.Midi = true, m
	return r
}

// WithLoc returns a copy of r with the loc field set.
func (r Record) WithLoc(loc uint32) Record {
	r.HasLoc, r.Loc = true, loc
	return r
}

// WithMeas returns a copy of r with the meas field set.
func (r Record) WithMeas(meas uint32) Record {
	r.HasMeas, r.Meas = true, meas
	return r
}

// WithPortID returns a copy of r with the port_id field set.
func (r Record) WithPortID(portID string) Record {
	r.HasPortID, r.PortID = true, portID
	return r
}

// WithScoreVel returns a copy of r with the score_vel field set.
func (r Record) WithScoreVel(vel uint8) Record {
	r.HasScoreVel, r.ScoreVel = true, vel
	return r
}

// WithPianoID returns a copy of r with the piano_id field set.
func (r Record) WithPianoID(pianoID string) Record {
	r.HasPianoID, r.PianoID = true, pianoID
	return r
}

// Buffer is a bounded ring of Records. It is single-producer/
// single-consumer: the producing component calls Push during its own
// exec; a consumer calls Drain once per cycle, on the next exec, to
// borrow the records emitted since the last Drain.
type Buffer struct {
	storage []Record
	head    int // next write position
	count   int // number of live records
}

// NewBuffer allocates a ring of the given fixed capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{storage: make([]Record, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.storage) }

// Len returns the number of records currently held.
func (b *Buffer) Len() int { return b.count }

// Push appends a record, returning perrors.BufTooSmall if the ring is
// already full instead of silently overwriting or growing.
func (b *Buffer) Push(r Record) *perrors.Error {
	if b.count == len(b.storage) {
		return perrors.New(perrors.BufTooSmall, "record.Buffer.Push", "ring full")
	}
	idx := (b.head + b.count) % len(b.storage)
	b.storage[idx] = r
	b.count++
	return nil
}

// Drain returns every live record in emission order and empties the
// buffer, ready for the next producing cycle. The returned slice is a
// fresh copy; it does not alias internal storage, so the consumer can
// hold it past the next Push.
func (b *Buffer) Drain() []Record {
	out := make([]Record, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.storage[(b.head+i)%len(b.storage)]
	}
	b.head = (b.head + b.count) % len(b.storage)
	b.count = 0
	return out
}

// Reset empties the buffer without returning its contents.
func (b *Buffer) Reset() {
	b.head = 0
	b.count = 0
}
