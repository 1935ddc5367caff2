// Package velmap implements the velocity-table mapper (spec §2): it
// remaps outgoing MIDI velocity via a named lookup table, optionally
// driven by a score-matched velocity carried on the record bus instead
// of the raw input velocity.
//
// Grounded on cwFlowPerf.cpp's vel_table namespace (original_source):
// named tables loaded from one file, one activated at a time, note-on
// d1 rewritten through the active table's tblA[], preferring
// score_vel when the inbound record carries one.
package velmap

import (
	"os"

	"coplayer/perrors"
	"coplayer/record"

	"gopkg.in/yaml.v3"
)

// Table is one named velocity lookup, index by raw velocity (or
// score_vel) 0..127.
type Table struct {
	Label string `yaml:"name"`
	Vals  []uint8 `yaml:"table"`
}

type tableFile struct {
	Tables []Table `yaml:"tables"`
}

// Mapper holds the loaded tables and the currently active one.
type Mapper struct {
	tables map[string]Table
	active string
}

// LoadFile reads a velocity table file (spec §6 style: a named YAML
// document, here reusing the teacher's yaml.v3 config idiom) holding
// one or more named tables.
func LoadFile(path string) (*Mapper, *perrors.Error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "velmap.LoadFile", "read velocity table file", err)
	}
	var tf tableFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "velmap.LoadFile", "parse velocity table file", err)
	}
	if len(tf.Tables) == 0 {
		return nil, perrors.New(perrors.OpFail, "velmap.LoadFile", "velocity table file has no 'tables' field")
	}
	m := &Mapper{tables: make(map[string]Table, len(tf.Tables))}
	for _, t := range tf.Tables {
		if len(t.Vals) == 0 {
			return nil, perrors.New(perrors.OpFail, "velmap.LoadFile", "velocity table '"+t.Label+"' is blank")
		}
		m.tables[t.Label] = t
	}
	return m, nil
}

// Activate selects the table used by Map, by label.
func (m *Mapper) Activate(label string) *perrors.Error {
	if _, ok := m.tables[label]; !ok {
		return perrors.New(perrors.EleNotFound, "velmap.Activate", "velocity table not found: "+label)
	}
	m.active = label
	return nil
}

// Active returns the currently activated table's label, or "" if none.
func (m *Mapper) Active() string { return m.active }

// Map rewrites rec's MIDI d1 (note-on velocity only) through the
// active table: preferring r.ScoreVel when the record carries one,
// falling back to the MIDI message's own d1 otherwise. Non-note-on
// records, and records with no MIDI field, pass through unchanged.
func (m *Mapper) Map(rec record.Record) (record.Record, *perrors.Error) {
	if !rec.HasMidi {
		return rec, nil
	}
	if !rec.Midi.IsNoteOn() {
		return rec, nil
	}
	tbl, ok := m.tables[m.active]
	if !ok {
		return rec, perrors.New(perrors.InvalidState, "velmap.Map", "no active velocity table")
	}

	var srcVel uint8
	if rec.HasScoreVel {
		srcVel = rec.ScoreVel
	} else {
		srcVel = rec.Midi.D1
	}
	if int(srcVel) >= len(tbl.Vals) {
		return rec, perrors.New(perrors.InvalidArg, "velmap.Map", "velocity out of table range")
	}

	mapped := rec.Midi
	mapped.D1 = tbl.Vals[srcVel]
	return rec.WithMidi(mapped), nil
}

// MapBuffer applies Map to every record in in, pushing successes into
// out and returning the count of records dropped due to a mapping
// error (spec §7: exec-time errors are logged and recovered locally by
// dropping the offending record, leaving state unchanged).
func (m *Mapper) MapBuffer(in []record.Record, out *record.Buffer) (dropped int) {
	for _, r := range in {
		mapped, err := m.Map(r)
		if err != nil {
			dropped++
			continue
		}
		if perr := out.Push(mapped); perr != nil {
			dropped++
		}
	}
	return dropped
}
