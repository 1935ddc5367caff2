package velmap_test

import (
	"os"
	"path/filepath"
	"testing"

	"coplayer/midimsg"
	"coplayer/record"
	"coplayer/velmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTableFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "tables:\n" +
		"  - name: soft\n" +
		"    table: [0, 10, 20, 30]\n" +
		"  - name: loud\n" +
		"    table: [90, 100, 110, 120]\n"
	path := filepath.Join(dir, "veltbl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndActivate(t *testing.T) {
	m, err := velmap.LoadFile(writeTableFile(t))
	require.Nil(t, err)

	require.Nil(t, m.Activate("loud"))
	assert.Equal(t, "loud", m.Active())

	activateErr := m.Activate("missing")
	require.Error(t, activateErr)
}

func TestMapPrefersScoreVelOverRawVelocity(t *testing.T) {
	m, err := velmap.LoadFile(writeTableFile(t))
	require.Nil(t, err)
	require.Nil(t, m.Activate("soft"))

	rec := record.Record{}.WithMidi(midimsg.Message{Status: midimsg.NoteOn, D0: 60, D1: 3}).WithScoreVel(1)

	mapped, merr := m.Map(rec)
	require.Nil(t, merr)
	assert.Equal(t, uint8(10), mapped.Midi.D1, "score_vel index 1 maps to soft[1]=10")
}

func TestMapFallsBackToRawVelocityWithoutScoreVel(t *testing.T) {
	m, err := velmap.LoadFile(writeTableFile(t))
	require.Nil(t, err)
	require.Nil(t, m.Activate("soft"))

	rec := record.Record{}.WithMidi(midimsg.Message{Status: midimsg.NoteOn, D0: 60, D1: 2})
	mapped, merr := m.Map(rec)
	require.Nil(t, merr)
	assert.Equal(t, uint8(20), mapped.Midi.D1)
}

func TestMapPassesThroughNonNoteOn(t *testing.T) {
	m, err := velmap.LoadFile(writeTableFile(t))
	require.Nil(t, err)
	require.Nil(t, m.Activate("soft"))

	rec := record.Record{}.WithMidi(midimsg.Message{Status: midimsg.ControlChange, D0: 64, D1: 127})
	mapped, merr := m.Map(rec)
	require.Nil(t, merr)
	assert.Equal(t, uint8(127), mapped.Midi.D1)
}

func TestMapRejectsOutOfRangeVelocity(t *testing.T) {
	m, err := velmap.LoadFile(writeTableFile(t))
	require.Nil(t, err)
	require.Nil(t, m.Activate("soft"))

	rec := record.Record{}.WithMidi(midimsg.Message{Status: midimsg.NoteOn, D0: 60, D1: 100})
	_, merr := m.Map(rec)
	require.Error(t, merr)
}
