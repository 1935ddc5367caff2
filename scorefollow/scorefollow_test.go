package scorefollow_test

import (
	"os"
	"path/filepath"
	"testing"

	"coplayer/score"
	"coplayer/scorefollow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFourNoteScore(t *testing.T) *score.Score {
	t.Helper()
	dir := t.TempDir()
	body := "meas,loc,sec,sci_pitch,status,d0,d1,bar\n" +
		"1,0,0.00,C4,0x90,60,80,1\n" +
		"1,1,0.50,D4,0x90,62,80,1\n" +
		"1,2,1.00,E4,0x90,64,80,1\n" +
		"1,3,1.50,F4,0x90,65,80,1\n"
	path := filepath.Join(dir, "score.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	sc, err := score.Load(path)
	require.Nil(t, err)
	return sc
}

func defaultArgs() scorefollow.Args {
	return scorefollow.Args{
		PreAffinitySec:    1.0,
		PostAffinitySec:   3.0,
		MinAffinityLocCnt: 1,
		PreWndSec:         2.0,
		PostWndSec:        5.0,
		MinWndLocCnt:      1,
		DecayCoeff:        0.995,
		DSecErrThreshLo:   0.4,
		DLocThreshLo:      3,
		DSecErrThreshHi:   1.5,
		DLocThreshHi:      4,
		DLocStatsThresh:   3,
	}
}

// Follower smoke (spec §8 seed scenario 1): four clean notes matching
// the score exactly modulo small timing jitter emit their locs in
// order with zero rejections.
func TestFollowerSmoke(t *testing.T) {
	sc := loadFourNoteScore(t)
	f, err := scorefollow.Create(defaultArgs(), sc)
	require.Nil(t, err)

	notes := []struct {
		sec   float64
		pitch uint8
	}{
		{0.02, 60},
		{0.51, 62},
		{1.01, 64},
		{1.52, 65},
	}

	var locs []uint32
	for i, n := range notes {
		res := f.OnNewNote(uint32(i), n.sec, n.pitch, 80)
		require.True(t, res.Matched, "note %d should match", i)
		locs = append(locs, res.Loc)
	}

	assert.Equal(t, []uint32{0, 1, 2, 3}, locs)
	rpt := f.ReportSummary()
	assert.Equal(t, uint(4), rpt.MatchN)
	assert.Equal(t, uint(0), rpt.SpuriousN)
	assert.Equal(t, uint(4), rpt.PerfNoteN)
}

// score_vel (spec §4.1/§6) is the matched score event's own velocity,
// not the performer's input velocity — velmap's "prefer score_vel"
// branch depends on this.
func TestOnNewNoteReturnsScoreVelNotPerformedVel(t *testing.T) {
	sc := loadFourNoteScore(t)
	f, err := scorefollow.Create(defaultArgs(), sc)
	require.Nil(t, err)

	res := f.OnNewNote(0, 0.02, 60, 127)
	require.True(t, res.Matched)
	assert.Equal(t, sc.Events[0].D1, res.ScoreVel)
	assert.NotEqual(t, uint8(127), res.ScoreVel)
}

// Follower robust (spec §8 seed scenario 2): the same four notes, plus
// an inserted spurious note at a pitch absent from the score, rejected
// by having no pitch-matching candidate in the search window; the
// remaining four still match in order.
func TestFollowerRobustRejectsSpuriousNote(t *testing.T) {
	sc := loadFourNoteScore(t)
	f, err := scorefollow.Create(defaultArgs(), sc)
	require.Nil(t, err)

	res0 := f.OnNewNote(0, 0.02, 60, 80)
	require.True(t, res0.Matched)
	res1 := f.OnNewNote(1, 0.51, 62, 80)
	require.True(t, res1.Matched)

	spurious := f.OnNewNote(2, 0.60, 70, 80)
	assert.False(t, spurious.Matched)
	assert.Equal(t, scorefollow.InvalidLoc, spurious.Loc)

	res2 := f.OnNewNote(3, 1.01, 64, 80)
	require.True(t, res2.Matched)
	assert.Equal(t, uint32(2), res2.Loc)

	res3 := f.OnNewNote(4, 1.52, 65, 80)
	require.True(t, res3.Matched)
	assert.Equal(t, uint32(3), res3.Loc)

	rpt := f.ReportSummary()
	assert.Equal(t, uint(4), rpt.MatchN)
	assert.Equal(t, uint(1), rpt.SpuriousN)
	assert.Equal(t, uint(5), rpt.PerfNoteN)
}

func TestCreateRejectsInvalidArgs(t *testing.T) {
	sc := loadFourNoteScore(t)
	args := defaultArgs()
	args.DLocThreshHi = 1
	args.DLocThreshLo = 2 // hi < lo is invalid
	_, err := scorefollow.Create(args, sc)
	require.Error(t, err)
}

func TestCreateRejectsEmptyScore(t *testing.T) {
	_, err := scorefollow.Create(defaultArgs(), &score.Score{})
	require.Error(t, err)
}

func TestResetClearsStateAndClampsRange(t *testing.T) {
	sc := loadFourNoteScore(t)
	f, err := scorefollow.Create(defaultArgs(), sc)
	require.Nil(t, err)

	f.OnNewNote(0, 0.02, 60, 80)
	require.Equal(t, uint(1), f.ReportSummary().MatchN)

	rerr := f.Reset(0, sc.MaxLocID())
	require.Nil(t, rerr)
	assert.Equal(t, uint(0), f.ReportSummary().MatchN)

	badErr := f.Reset(2, 1)
	assert.Error(t, badErr)
}
