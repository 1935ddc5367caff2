package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsExtractsFlags(t *testing.T) {
	bundlePath, logLevel = "", ""
	rest := parseArgs([]string{"--config", "b.yaml", "--log-level=debug", "rehearse"})
	assert.Equal(t, []string{"rehearse"}, rest)
	assert.Equal(t, "b.yaml", bundlePath)
	assert.Equal(t, "debug", logLevel)
}

func TestParseArgsShortConfigFlag(t *testing.T) {
	bundlePath, logLevel = "", ""
	rest := parseArgs([]string{"-c", "other.yaml", "validate"})
	assert.Equal(t, []string{"validate"}, rest)
	assert.Equal(t, "other.yaml", bundlePath)
}

func TestBundlePathOrDefaultPrefersFlagOverEnv(t *testing.T) {
	bundlePath = "flag.yaml"
	t.Setenv("COPLAYER_BUNDLE", "env.yaml")
	assert.Equal(t, "flag.yaml", bundlePathOrDefault())

	bundlePath = ""
	assert.Equal(t, "env.yaml", bundlePathOrDefault())

	t.Setenv("COPLAYER_BUNDLE", "")
	assert.Equal(t, "coplayer.yaml", bundlePathOrDefault())
}

func writeFixtureBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	scorePath := filepath.Join(dir, "score.csv")
	require.NoError(t, os.WriteFile(scorePath, []byte(
		"meas,loc,sec,sci_pitch,status,d0,d1,bar\n"+
			"1,0,0.00,C4,0x90,60,80,1\n"+
			"1,1,0.50,D4,0x90,62,80,1\n"+
			"2,2,1.00,E4,0x90,64,82,2\n"+
			"2,3,1.50,F4,0x90,65,84,2\n"), 0o644))

	fragPath := filepath.Join(dir, "fragments.yaml")
	require.NoError(t, os.WriteFile(fragPath, []byte(
		"master_wet_in_gain: 1.0\n"+
			"master_wet_out_gain: 1.0\n"+
			"master_dry_gain: 1.0\n"+
			"master_sync_delay_ms: 0\n"+
			"fragments:\n"+
			"  - frag_id: 1\n"+
			"    end_loc: 3\n"+
			"    end_ts: 1.5\n"), 0o644))

	playersPath := filepath.Join(dir, "players.yaml")
	require.NoError(t, os.WriteFile(playersPath, []byte(
		"drums:\n"+
			"  player_id: 1\n"+
			"  port_id: p1\n"+
			"  msgL:\n"+
			"    - uid: 1\n"+
			"      sec: 0.0\n"+
			"      ch: 0\n"+
			"      status: 144\n"+
			"      d0: 36\n"+
			"      d1: 100\n"), 0o644))

	programPath := filepath.Join(dir, "program.yaml")
	require.NoError(t, os.WriteFile(programPath, []byte(
		"ctlL:\n"+
			"  - loc_id: 0\n"+
			"    seg_id: 1\n"+
			"    active_sf_id: a\n"+
			"    cmdL:\n"+
			"      - type: play\n"+
			"        player_id: drums\n"), 0o644))

	bundlePath := filepath.Join(dir, "bundle.yaml")
	require.NoError(t, os.WriteFile(bundlePath, []byte(
		"score: "+scorePath+"\n"+
			"preset_fragments: "+fragPath+"\n"+
			"players: "+playersPath+"\n"+
			"program: "+programPath+"\n"+
			"start_seg: 1\n"+
			"sample_rate: 48000\n"+
			"stopping_ms: 50\n"+
			"channel: 0\n"+
			"preset_config:\n"+
			"  preset_labels: [wet, dry]\n"+
			"  alt_labels: [A]\n"+
			"follower_args:\n"+
			"  pre_affinity_sec: 1.0\n"+
			"  post_affinity_sec: 3.0\n"+
			"  min_affinity_loc_cnt: 1\n"+
			"  pre_wnd_sec: 2.0\n"+
			"  post_wnd_sec: 5.0\n"+
			"  min_wnd_loc_cnt: 1\n"+
			"  decay_coeff: 0.9\n"+
			"  d_sec_err_thresh_lo: 0.25\n"+
			"  d_loc_thresh_lo: 1\n"+
			"  d_sec_err_thresh_hi: 1.0\n"+
			"  d_loc_thresh_hi: 4\n"+
			"  d_loc_stats_thresh: 2\n"+
			"  rpt_fl: true\n"), 0o644))

	return bundlePath
}

func TestLoadBundleParsesEveryField(t *testing.T) {
	path := writeFixtureBundle(t)
	b, err := loadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, 48000, b.SampleRate)
	assert.Equal(t, uint32(1), b.StartSeg)
	assert.Equal(t, []string{"wet", "dry"}, b.PresetConfig.PresetLabels)
	assert.Equal(t, 0.9, b.FollowerArgs.DecayCoeff)
}

func TestBuildEngineWiresEveryComponent(t *testing.T) {
	b, err := loadBundle(writeFixtureBundle(t))
	require.NoError(t, err)

	eng, perr := buildEngine(b)
	require.Nil(t, perr)
	assert.Equal(t, []string{"drums"}, eng.mp.Labels())
	assert.Equal(t, "a", string(eng.ctrl.ActiveOutlet()))
}

func TestEngineStepDrivesFollowerAndController(t *testing.T) {
	b, err := loadBundle(writeFixtureBundle(t))
	require.NoError(t, err)
	eng, perr := buildEngine(b)
	require.Nil(t, perr)

	for i := 0; i < len(eng.sc.Events); i++ {
		require.Nil(t, eng.step(512))
	}

	rpt := eng.sfA.ReportSummary()
	assert.Equal(t, uint(4), rpt.MatchN)
	assert.Equal(t, uint32(3), eng.lastLoc)

	status := eng.Status()
	require.Len(t, status.Players, 1)
	assert.Equal(t, "drums", status.Players[0].Label)
}

func TestValidateBundleAcceptsWellFormedFixture(t *testing.T) {
	path := writeFixtureBundle(t)
	b, err := loadBundle(path)
	require.NoError(t, err)
	_, perr := buildEngine(b)
	assert.Nil(t, perr)
}
