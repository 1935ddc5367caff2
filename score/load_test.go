package score_test

import (
	"os"
	"path/filepath"
	"testing"

	"coplayer/perrors"
	"coplayer/score"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadBasicScore(t *testing.T) {
	dir := t.TempDir()
	body := "meas,loc,sec,sci_pitch,status,d0,d1,bar,section\n" +
		"1,0,0.00,C4,0x90,60,80,1,intro\n" +
		"1,1,0.50,D4,0x90,62,80,1,intro\n" +
		"2,2,1.00,E4,0x90,64,82,2,intro\n" +
		"2,3,1.50,F4,0x90,65,84,2,verse\n"
	path := writeCSV(t, dir, "score.csv", body)

	sc, err := score.Load(path)
	require.Nil(t, err)
	require.Len(t, sc.Events, 4)
	assert.Equal(t, uint8(60), sc.Events[0].Pitch)
	assert.Equal(t, uint8(62), sc.Events[1].Pitch)
	assert.Equal(t, uint32(3), sc.MaxLocID())
	require.Len(t, sc.Sections, 2)
	assert.Equal(t, "intro", sc.Sections[0].Name)
	assert.Equal(t, uint32(0), sc.Sections[0].Begin)
	assert.Equal(t, uint32(2), sc.Sections[0].End)
	assert.Equal(t, -1, sc.Sections[0].PrevSection)
	assert.Equal(t, 0, sc.Sections[1].PrevSection)
}

func TestLoadRejectsDecreasingLoc(t *testing.T) {
	dir := t.TempDir()
	body := "meas,loc,sec,sci_pitch,status,d0,d1,bar\n" +
		"1,1,0.0,C4,0x90,60,80,1\n" +
		"1,0,0.1,D4,0x90,62,80,1\n"
	path := writeCSV(t, dir, "score.csv", body)

	_, err := score.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.Of(perrors.InvalidArg))
}

func TestLoadRejectsOlocColumn(t *testing.T) {
	dir := t.TempDir()
	body := "meas,loc,sec,sci_pitch,status,d0,d1,bar,oloc\n1,0,0.0,C4,0x90,60,80,1,0\n"
	path := writeCSV(t, dir, "score.csv", body)

	_, err := score.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.Of(perrors.InvalidArg))
}

func TestLoadPerformanceLog(t *testing.T) {
	dir := t.TempDir()
	body := "oloc,sec,sci_pitch,d1\n0,0.02,C4,70\n1,0.51,D4,75\n"
	path := writeCSV(t, dir, "perf.csv", body)

	notes, err := score.LoadPerformanceLog(path)
	require.Nil(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, uint32(1), notes[1].OLoc)
	assert.Equal(t, uint8(62), notes[1].Pitch)
}

func TestComputeHashDistinguishesRepeatedBarPitch(t *testing.T) {
	h1 := score.ComputeHash(9, 3, 60, 0)
	h2 := score.ComputeHash(9, 3, 60, 1)
	assert.NotEqual(t, h1, h2)
}
