package score

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"coplayer/midimsg"
	"coplayer/perrors"
)

// sciPitchToMIDI converts scientific pitch notation ("C4", "Bb3",
// "F#5") to a MIDI note number (C4 = 60), following the same
// note-name-to-offset idiom as the teacher's theory.NoteToMidi, plus
// an octave digit.
func sciPitchToMIDI(s string) (uint8, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	noteMap := map[string]int{
		"C": 0, "C#": 1, "Db": 1,
		"D": 2, "D#": 3, "Eb": 3,
		"E": 4, "Fb": 4, "E#": 5,
		"F": 5, "F#": 6, "Gb": 6,
		"G": 7, "G#": 8, "Ab": 8,
		"A": 9, "A#": 10, "Bb": 10,
		"B": 11, "Cb": 11, "B#": 0,
	}
	// Split trailing signed integer (octave) from the leading note name.
	i := len(s)
	for i > 0 && (s[i-1] == '-' || (s[i-1] >= '0' && s[i-1] <= '9')) {
		i--
		if s[i] == '-' {
			break
		}
	}
	if i == 0 || i == len(s) {
		return 0, false
	}
	name, octStr := s[:i], s[i:]
	offset, ok := noteMap[name]
	if !ok {
		return 0, false
	}
	oct, err := strconv.Atoi(octStr)
	if err != nil {
		return 0, false
	}
	midi := offset + (oct+1)*12
	if midi < 0 || midi > 127 {
		return 0, false
	}
	return uint8(midi), true
}

// columnIndex maps header names to positions; -1 means absent.
type columnIndex map[string]int

func indexColumns(header []string) columnIndex {
	idx := make(columnIndex, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func (c columnIndex) get(row []string, name string) (string, bool) {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return "", false
	}
	return row[i], true
}

func (c columnIndex) getFloat(row []string, name string) (float64, bool) {
	s, ok := c.get(row, name)
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func (c columnIndex) getUint(row []string, name string) (uint64, bool) {
	s, ok := c.get(row, name)
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 32)
	return v, err == nil
}

// requiredColumns are the column set Load demands per spec §6.
var requiredColumns = []string{"meas", "loc", "sec", "sci_pitch", "status", "d0", "d1", "bar"}

// Load reads a line-oriented score CSV with a header row (spec §6),
// building the event arena, one implicit Dyn/Even/Tempo set per
// section (the CSV format names sections explicitly but not
// per-variable set membership, so each section's own event range
// stands in as its Dyn/Even/Tempo set — documented in DESIGN.md), and
// the section list itself. Locs must be strictly increasing; a repeated
// or decreasing loc is a hard load error (§6). Presence of an "oloc"
// column marks a MIDI-only recording, not a score, and is rejected
// here; use LoadPerformanceLog for that shape.
func Load(path string) (*Score, *perrors.Error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "score.Load", "open score file", err)
	}
	defer f.Close()
	return loadFrom(f, path)
}

func loadFrom(r io.Reader, path string) (*Score, *perrors.Error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "score.Load", "read header row", err)
	}
	cols := indexColumns(header)
	if _, hasOloc := cols["oloc"]; hasOloc {
		return nil, perrors.New(perrors.InvalidArg, "score.Load", path+": has 'oloc' column, this is a MIDI-only recording not a score (use LoadPerformanceLog)")
	}
	for _, want := range requiredColumns {
		if _, ok := cols[want]; !ok {
			return nil, perrors.New(perrors.OpFail, "score.Load", "missing required column: "+want)
		}
	}

	sc := &Score{}
	sectionByName := map[string]int{}
	barPitchCounts := map[[2]uint32]uint8{} // [bar, pitch] -> count so far, for hash

	var lastLoc int64 = -1
	for {
		row, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, perrors.Wrap(perrors.OpFail, "score.Load", "parse csv row", rerr)
		}
		if len(row) == 0 {
			continue
		}

		locU, ok := cols.getUint(row, "loc")
		if !ok {
			return nil, perrors.New(perrors.OpFail, "score.Load", "row missing loc")
		}
		loc := int64(locU)
		if loc <= lastLoc {
			return nil, perrors.New(perrors.InvalidArg, "score.Load", "loc is not strictly increasing (a repeated or decreasing loc is a hard error)")
		}
		lastLoc = loc

		measU, _ := cols.getUint(row, "meas")
		sec, _ := cols.getFloat(row, "sec")
		barU, _ := cols.getUint(row, "bar")

		pitchStr, _ := cols.get(row, "sci_pitch")
		pitch, pitchOK := sciPitchToMIDI(pitchStr)
		if !pitchOK {
			return nil, perrors.New(perrors.OpFail, "score.Load", "unparsable sci_pitch: "+pitchStr)
		}

		statusStr, _ := cols.get(row, "status")
		statusU, serr := strconv.ParseUint(strings.TrimSpace(statusStr), 0, 8)
		if serr != nil {
			return nil, perrors.Wrap(perrors.OpFail, "score.Load", "unparsable status", serr)
		}
		d0U, _ := cols.getUint(row, "d0")
		d1U, _ := cols.getUint(row, "d1")

		ev := Event{
			Loc:    uint32(loc),
			Meas:   uint32(measU),
			Sec:    sec,
			Status: midimsg.Status(statusU),
			D0:     uint8(d0U),
			D1:     uint8(d1U),
			Pitch:  pitch,
		}

		if idxStr, ok := cols.get(row, "index"); ok && idxStr != "" {
			if n, err := strconv.Atoi(idxStr); err == nil {
				ev.HasChord = true
				ev.ChordNoteIdx = uint8(n)
			}
		}

		key := [2]uint32{uint32(barU), uint32(pitch)}
		barPitchIdx := barPitchCounts[key]
		barPitchCounts[key] = barPitchIdx + 1
		ev.Hash = ComputeHash(uint8(statusU>>4), uint16(barU), pitch, barPitchIdx)

		if pianoID, ok := cols.get(row, "piano_id"); ok && pianoID != "" {
			_ = pianoID // carried by caller via multiplayer/program wiring, not stored on Event
		}

		sectionName, hasSection := cols.get(row, "section")
		if hasSection && sectionName != "" {
			ev.HasSection = true
			sIdx, exists := sectionByName[sectionName]
			if !exists {
				sIdx = len(sc.Sections)
				sectionByName[sectionName] = sIdx
				prev := -1
				if sIdx > 0 {
					prev = sIdx - 1
				}
				sc.Sections = append(sc.Sections, Section{
					Name:        sectionName,
					PrevSection: prev,
					Begin:       ev.Loc,
					End:         ev.Loc,
				})
			}
			sc.Sections[sIdx].End = ev.Loc
			ev.SectionIdx = sIdx
		}

		sc.Events = append(sc.Events, ev)
	}

	buildImplicitSets(sc)
	return sc, nil
}

// buildImplicitSets gives each section one Dyn/Even/Tempo set spanning
// its own event range (see Load's doc comment).
func buildImplicitSets(sc *Score) {
	for si := range sc.Sections {
		sec := &sc.Sections[si]
		var evts []uint32
		for loc := sec.Begin; loc <= sec.End; loc++ {
			evts = append(evts, loc)
		}
		for v := Dyn; v <= Tempo; v++ {
			setIdx := len(sc.Sets)
			sc.Sets = append(sc.Sets, Set{VarID: v, Evt: evts, TargetSection: si})
			sec.SetIdxByVar[v] = append(sec.SetIdxByVar[v], setIdx)
			for _, loc := range evts {
				sc.Events[loc].HasSet[v] = true
				sc.Events[loc].SetIdx[v] = setIdx
			}
		}
	}
}

// PerformedNote is one row of a MIDI-only recording CSV (oloc column
// present), a performance already aligned back to score locations.
type PerformedNote struct {
	OLoc  uint32
	Sec   float64
	Pitch uint8
	Vel   uint8
}

// LoadPerformanceLog reads a MIDI-only CSV (distinguished from a score
// CSV by the presence of "oloc", spec §6) for offline replay against a
// Score Follower in tests or rehearsal tooling.
func LoadPerformanceLog(path string) ([]PerformedNote, *perrors.Error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "score.LoadPerformanceLog", "open performance log", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, rerr := reader.Read()
	if rerr != nil {
		return nil, perrors.Wrap(perrors.OpFail, "score.LoadPerformanceLog", "read header row", rerr)
	}
	cols := indexColumns(header)
	if _, ok := cols["oloc"]; !ok {
		return nil, perrors.New(perrors.InvalidArg, "score.LoadPerformanceLog", path+": missing 'oloc' column, this looks like a score CSV not a MIDI-only recording")
	}

	var out []PerformedNote
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, perrors.Wrap(perrors.OpFail, "score.LoadPerformanceLog", "parse csv row", err)
		}
		olocU, _ := cols.getUint(row, "oloc")
		sec, _ := cols.getFloat(row, "sec")
		pitchStr, _ := cols.get(row, "sci_pitch")
		pitch, _ := sciPitchToMIDI(pitchStr)
		velU, _ := cols.getUint(row, "d1")
		out = append(out, PerformedNote{OLoc: uint32(olocU), Sec: sec, Pitch: pitch, Vel: uint8(velU)})
	}
	return out, nil
}
