// Package midiexport renders the record bus's emitted MIDI events to a
// Standard MIDI File for offline review — the one place in this module
// a record's MIDI field is converted to an actual gomidi wire message
// (spec §1 non-goals exclude live MIDI device I/O; writing a .mid file
// is not that).
//
// Grounded on the teacher's midi/generator.go: one smf.Track per
// timeline, delta-time accumulation from a sorted absolute-tick event
// list, and an explicit tempo meta event on track 0 — generalized from
// a fixed chord/bass/drum track layout to one track per port_id seen
// on the record bus.
package midiexport

import (
	"os"
	"sort"

	"coplayer/perrors"
	"coplayer/record"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const ticksPerQuarter = 480

// defaultPortID labels records with no port_id (e.g. the Score
// Player's own output) in the exported track list.
const defaultPortID = "main"

// TimedRecord pairs a bus record with the elapsed seconds at which it
// was emitted, the timeline an export is built from.
type TimedRecord struct {
	Sec float64
	Rec record.Record
}

type trackEvent struct {
	tick uint32
	msg  midi.Message
}

// WriteSMF renders trs (in emission order) to a Standard MIDI File at
// path: one track per distinct port_id carrying a MIDI field, a fixed
// tempo meta event on track 0, 480 ticks per quarter note.
func WriteSMF(path string, trs []TimedRecord, bpm float64) *perrors.Error {
	if bpm <= 0 {
		return perrors.New(perrors.InvalidArg, "midiexport.WriteSMF", "bpm must be positive")
	}

	byPort := map[string][]trackEvent{}
	var order []string
	secsPerTick := 60.0 / (bpm * float64(ticksPerQuarter))

	for _, tr := range trs {
		if !tr.Rec.HasMidi {
			continue
		}
		port := defaultPortID
		if tr.Rec.HasPortID && tr.Rec.PortID != "" {
			port = tr.Rec.PortID
		}
		if _, ok := byPort[port]; !ok {
			order = append(order, port)
		}
		tick := uint32(tr.Sec / secsPerTick)
		byPort[port] = append(byPort[port], trackEvent{tick: tick, msg: tr.Rec.Midi.ToGomidi()})
	}
	sort.Strings(order)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(ticksPerQuarter)

	var tempoTrack smf.Track
	tempoTrack.Add(0, smf.MetaTempo(bpm))
	tempoTrack.Close(0)
	s.Add(tempoTrack)

	for _, port := range order {
		evts := byPort[port]
		sort.SliceStable(evts, func(i, j int) bool { return evts[i].tick < evts[j].tick })

		var trk smf.Track
		prevTick := uint32(0)
		for _, evt := range evts {
			trk.Add(evt.tick-prevTick, evt.msg)
			prevTick = evt.tick
		}
		trk.Close(0)
		s.Add(trk)
	}

	f, err := os.Create(path)
	if err != nil {
		return perrors.Wrap(perrors.OpFail, "midiexport.WriteSMF", "create midi file", err)
	}
	defer f.Close()
	if _, err := s.WriteTo(f); err != nil {
		return perrors.Wrap(perrors.OpFail, "midiexport.WriteSMF", "write midi file", err)
	}
	return nil
}
