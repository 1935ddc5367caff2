package presetsel_test

import (
	"os"
	"path/filepath"
	"testing"

	"coplayer/presetsel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *presetsel.Engine {
	t.Helper()
	cfg := presetsel.Config{
		PresetLabels: []string{"dry", "hall", "room"},
		AltLabels:    []string{"A", "B", "C"},
		DryPresetIdx: 0,
	}
	e, err := presetsel.Create(cfg)
	require.Nil(t, err)
	return e
}

func TestCreateFragmentOrdersByEndLoc(t *testing.T) {
	e := newEngine(t)
	id2 := e.CreateFragment(20, 2.0)
	id1 := e.CreateFragment(10, 1.0)
	id3 := e.CreateFragment(30, 3.0)

	frags := e.Fragments()
	require.Len(t, frags, 3)
	assert.Equal(t, uint32(10), frags[0].EndLoc)
	assert.Equal(t, uint32(20), frags[1].EndLoc)
	assert.Equal(t, uint32(30), frags[2].EndLoc)
	assert.Equal(t, id1, frags[0].FragID)
	assert.Equal(t, id2, frags[1].FragID)
	assert.Equal(t, id3, frags[2].FragID)
}

func TestDeleteFragmentAbsorbsRangeIntoPrevious(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	midID := e.CreateFragment(20, 0)
	e.CreateFragment(30, 0)

	require.Nil(t, e.DeleteFragment(midID))
	frags := e.Fragments()
	require.Len(t, frags, 2)
	assert.Equal(t, uint32(20), frags[0].EndLoc, "previous fragment absorbs the deleted range")
	assert.Equal(t, uint32(30), frags[1].EndLoc)
}

func TestTrackLocMonotoneIgnoresBackwardMoves(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	e.CreateFragment(20, 0)
	e.CreateFragment(30, 0)

	f1, changed1 := e.TrackLoc(5)
	require.True(t, changed1)
	assert.Equal(t, uint32(10), f1.EndLoc)

	f2, changed2 := e.TrackLoc(15)
	require.True(t, changed2)
	assert.Equal(t, uint32(20), f2.EndLoc)

	// loc 8 would map to the 10-end fragment, which is behind the
	// tracked 20-end fragment: ignored.
	f3, changed3 := e.TrackLoc(8)
	assert.False(t, changed3)
	assert.Equal(t, uint32(20), f3.EndLoc)

	f4, changed4 := e.TrackLoc(25)
	require.True(t, changed4)
	assert.Equal(t, uint32(30), f4.EndLoc)
}

func TestTrackLocPastLastFragmentReturnsLast(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	f, changed := e.TrackLoc(1000)
	require.True(t, changed)
	assert.Equal(t, uint32(10), f.EndLoc)
}

func TestFragmentPlayPresetIndexUsesCurrentAlt(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	frags := e.Fragments()
	f := &frags[0]
	f.AltPreset[0] = 1
	f.AltPreset[1] = 2

	idx := presetsel.FragmentPlayPresetIndex(f, 0, 0, false)
	assert.Equal(t, uint32(1), idx)

	require.Nil(t, e.SetAlternative(1))
	idx = presetsel.FragmentPlayPresetIndex(f, 1, 0, false)
	assert.Equal(t, uint32(2), idx)
}

func TestProbSelectWithoutProbPicksLowestNonZeroOrder(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	frags := e.Fragments()
	f := &frags[0]
	f.Presets[0].Order = 0
	f.Presets[1].Order = 2
	f.Presets[2].Order = 1

	idx := e.ProbSelectPresetIndex(f, presetsel.SelectFlags{}, 0, false)
	assert.Equal(t, uint32(2), idx, "preset with order 1 (lowest non-zero) wins")
}

func TestProbSelectDryOnPlayIsDeterministic(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	frags := e.Fragments()
	f := &frags[0]
	f.Presets[0].PlayFl = true // dry preset

	idx := e.ProbSelectPresetIndex(f, presetsel.SelectFlags{UseProb: true, DryOnPlay: true}, 0, false)
	assert.Equal(t, uint32(0), idx)
}

func TestProbSelectGatesByAllowAll(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	frags := e.Fragments()
	f := &frags[0]
	// Only preset 1 is active (order>0); preset 2 has neither order nor play_fl.
	f.Presets[1].Order = 1

	for i := 0; i < 20; i++ {
		idx := e.ProbSelectPresetIndex(f, presetsel.SelectFlags{UseProb: true}, 0, false)
		assert.Equal(t, uint32(1), idx)
	}
}

func TestDryOnlyFlSetWhenSoleActivePresetIsDry(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	frags := e.Fragments()
	f := &frags[0]
	f.Presets[0].PlayFl = true // dry preset, sole active

	e.RecomputeDryFlags(f)
	assert.True(t, f.DryOnlyFl)
	assert.True(t, f.DrySelFl)
}

// ApplyPerLoc (spec §4.3 per_loc_fl) memoizes the fragment's chosen
// preset the first time it's applied at a location, returning the same
// choice on subsequent calls until the cache is invalidated.
func TestApplyPerLocCachesChoiceUntilInvalidated(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 0)
	frags := e.Fragments()
	f := &frags[0]
	f.Presets[0].Order = 0
	f.Presets[1].Order = 2
	f.Presets[2].Order = 1

	first := e.ApplyPerLoc(f, presetsel.SelectFlags{})
	assert.Equal(t, uint32(2), first, "preset with order 1 (lowest non-zero) wins")

	f.Presets[2].Order = 0
	f.Presets[1].Order = 1
	second := e.ApplyPerLoc(f, presetsel.SelectFlags{})
	assert.Equal(t, first, second, "cached choice survives even though selection inputs changed")

	f.InvalidateLocCache()
	third := e.ApplyPerLoc(f, presetsel.SelectFlags{})
	assert.Equal(t, uint32(1), third, "after invalidation the new preset weights are honored")
}

// InterpDist (spec §4.3 interp_dist) samples a crossfade distance in
// [0,1) from the engine's own rng, deterministically seeded so a fresh
// engine reproduces the same sequence.
func TestInterpDistReturnsValueInUnitRangeDeterministically(t *testing.T) {
	e1 := newEngine(t)
	e2 := newEngine(t)

	d1 := e1.InterpDist()
	assert.GreaterOrEqual(t, d1, 0.0)
	assert.Less(t, d1, 1.0)

	d2 := e2.InterpDist()
	assert.Equal(t, d1, d2, "a fresh engine's rng is seeded deterministically")
}

func TestWriteReadRoundTrip(t *testing.T) {
	e := newEngine(t)
	e.CreateFragment(10, 1.5)
	e.CreateFragment(20, 2.5)
	frags := e.Fragments()
	frags[0].Presets[1].Order = 1
	frags[0].Presets[1].AltStr = "A"
	frags[1].Note = "bridge swell"

	dir := t.TempDir()
	path := filepath.Join(dir, "fragments.yaml")
	require.Nil(t, e.Write(path))

	raw, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.Greater(t, raw.Size(), int64(0))

	e2, err := presetsel.Create(e.Config())
	require.Nil(t, err)
	require.Nil(t, e2.Read(path))

	got := e2.Fragments()
	require.Len(t, got, 2)
	assert.Equal(t, uint32(10), got[0].EndLoc)
	assert.Equal(t, uint(1), got[0].Presets[1].Order)
	assert.Equal(t, "A", got[0].Presets[1].AltStr)
	assert.Equal(t, "bridge swell", got[1].Note)
}
