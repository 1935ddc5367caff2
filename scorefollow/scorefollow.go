// Package scorefollow implements the real-time Score Follower (spec
// §4.1): it maps incoming (time, pitch, velocity) note triples to
// locations in a symbolic score under missed, spurious, and
// out-of-order notes, via a sliding affinity envelope over expected
// locations.
//
// Grounded directly on cwScoreFollow2.h (original_source) for the
// algorithm; the per-cycle decay shape mirrors the teacher's
// player/realtime.go playbackLoop tick-driven state advance,
// generalized from a wall-clock ticker to a host-invoked do_exec.
package scorefollow

import (
	"math"

	"coplayer/perrors"
	"coplayer/score"

	"github.com/go-playground/validator/v10"
)

// InvalidLoc marks "no location" in results, matching the C++
// kInvalidId sentinel's role in on_new_note's failure paths.
const InvalidLoc = ^uint32(0)

var validate = validator.New()

// Args mirrors cwScoreFollow2.h's args_t. Field comments carry the
// source's suggested defaults.
type Args struct {
	PreAffinitySec    float64 `yaml:"pre_affinity_sec" validate:"gt=0"`      // 1.0 look back affinity duration
	PostAffinitySec   float64 `yaml:"post_affinity_sec" validate:"gt=0"`     // 3.0 look forward affinity duration
	MinAffinityLocCnt uint    `yaml:"min_affinity_loc_cnt" validate:"gte=0"` // min loc's in back/forward affinity window
	PreWndSec         float64 `yaml:"pre_wnd_sec" validate:"gt=0"`           // 2.0 look back search window
	PostWndSec        float64 `yaml:"post_wnd_sec" validate:"gt=0"`          // 5.0 look forward search window
	MinWndLocCnt      uint    `yaml:"min_wnd_loc_cnt" validate:"gte=0"`      // min loc's in back/forward search window
	DecayCoeff        float64 `yaml:"decay_coeff" validate:"gt=0,lt=1"`
	DSecErrThreshLo   float64 `yaml:"d_sec_err_thresh_lo" validate:"gt=0"`
	DLocThreshLo      int     `yaml:"d_loc_thresh_lo" validate:"gte=0"`
	DSecErrThreshHi   float64 `yaml:"d_sec_err_thresh_hi" validate:"gt=0"`
	DLocThreshHi      int     `yaml:"d_loc_thresh_hi" validate:"gte=0"`
	DLocStatsThresh   int     `yaml:"d_loc_stats_thresh" validate:"gte=0"`
	RptFl             bool    `yaml:"rpt_fl"`
}

func (a Args) validateSelf() *perrors.Error {
	if err := validate.Struct(a); err != nil {
		return perrors.Wrap(perrors.InvalidArg, "scorefollow.Args", "invalid follower args", err)
	}
	if a.DLocThreshHi < a.DLocThreshLo {
		return perrors.New(perrors.InvalidArg, "scorefollow.Args", "d_loc_thresh_hi must be >= d_loc_thresh_lo")
	}
	return nil
}

// Rpt is the match/miss/spurious/performed-note summary from
// cwScoreFollow2.h's rpt_str (SPEC_FULL.md §4 supplemented feature).
// MissN is not counted by this follower and stays 0.
type Rpt struct {
	MatchN    uint
	MissN     uint
	SpuriousN uint
	PerfNoteN uint
}

// Result is what on_new_note returns: a matched loc/meas/score_vel, or
// Loc == InvalidLoc if the note was rejected.
type Result struct {
	Loc      uint32
	Meas     uint32
	ScoreVel uint8
	Matched  bool
}

// Follower is the score_follow_2 handle.
type Follower struct {
	args           Args
	sc             *score.Score
	begLoc, endLoc uint32

	expV []float64 // expectation envelope, one entry per score loc

	// time-alignment statistics for predicting the next expected onset
	lastMatchLoc      uint32
	lastMatchPerfSec  float64
	lastMatchScoreSec float64
	haveLastMatch     bool

	rpt Rpt
}

// Create builds a Follower bound to sc. Errors here are fatal to the
// component per spec §7.
func Create(args Args, sc *score.Score) (*Follower, *perrors.Error) {
	if err := args.validateSelf(); err != nil {
		return nil, err
	}
	if sc == nil || len(sc.Events) == 0 {
		return nil, perrors.New(perrors.InvalidState, "scorefollow.Create", "score not loaded")
	}
	f := &Follower{
		args: args,
		sc:   sc,
		expV: make([]float64, len(sc.Events)),
	}
	f.begLoc, f.endLoc = 0, sc.MaxLocID()
	return f, nil
}

// Reset clamps tracking to the closed [begLoc, endLoc] range and
// clears the affinity envelope.
func (f *Follower) Reset(begLoc, endLoc uint32) *perrors.Error {
	if !f.sc.InRange(begLoc) || !f.sc.InRange(endLoc) || endLoc < begLoc {
		return perrors.New(perrors.InvalidArg, "scorefollow.Reset", "beg_loc/end_loc out of range")
	}
	f.begLoc, f.endLoc = begLoc, endLoc
	for i := range f.expV {
		f.expV[i] = 0
	}
	f.haveLastMatch = false
	f.rpt = Rpt{}
	return nil
}

// MaxLocID returns the score's highest valid loc id.
func (f *Follower) MaxLocID() uint32 { return f.sc.MaxLocID() }

// ReportSummary returns the match/miss/spurious/performed-note
// counters accumulated since the last Reset.
func (f *Follower) ReportSummary() Rpt { return f.rpt }

type candidate struct {
	loc     uint32
	score   float64
	dLoc    int
	dSecErr float64
}

// OnNewNote processes one live (uid, sec, pitch, vel) triple. Per spec
// §4.1: score candidates in the search window by pitch equality,
// expectation weight and d-time penalty; pick the best; apply the
// reject gates; on acceptance, bump the affinity window and update the
// next-onset prediction if within the stats threshold.
func (f *Follower) OnNewNote(uid uint32, perfSec float64, pitch, vel uint8) Result {
	f.rpt.PerfNoteN++

	expectedLoc, anchorPerfSec, anchorScoreSec := f.anchor(perfSec)
	lo, hi := f.windowBounds(expectedLoc, f.args.PreWndSec, f.args.PostWndSec, f.args.MinWndLocCnt)

	var best *candidate
	for loc := lo; loc <= hi; loc++ {
		ev := &f.sc.Events[loc]
		if ev.Pitch != pitch {
			continue
		}
		dLoc := int(loc) - int(expectedLoc)
		predicted := anchorPerfSec + (ev.Sec - anchorScoreSec)
		dSecErr := perfSec - predicted
		sc := candidateScore(f.expV[loc], dLoc, dSecErr)
		c := candidate{loc: loc, score: sc, dLoc: dLoc, dSecErr: dSecErr}
		if best == nil || betterCandidate(c, *best) {
			cc := c
			best = &cc
		}
	}

	if best == nil {
		f.rpt.SpuriousN++
		return Result{Loc: InvalidLoc}
	}

	absDLoc := absInt(best.dLoc)
	absDSecErr := math.Abs(best.dSecErr)

	if absDLoc > f.args.DLocThreshLo && absDSecErr > f.args.DSecErrThreshLo {
		f.rpt.SpuriousN++
		return Result{Loc: InvalidLoc}
	}
	if absDLoc > f.args.DLocThreshHi {
		f.rpt.SpuriousN++
		return Result{Loc: InvalidLoc}
	}
	if absDSecErr > f.args.DSecErrThreshHi && best.dLoc != 0 {
		f.rpt.SpuriousN++
		return Result{Loc: InvalidLoc}
	}

	f.applyAffinity(best.loc)
	if absDLoc <= f.args.DLocStatsThresh {
		f.lastMatchLoc = best.loc
		f.lastMatchPerfSec = perfSec
		f.lastMatchScoreSec = f.sc.Events[best.loc].Sec
		f.haveLastMatch = true
	}

	f.rpt.MatchN++
	ev := &f.sc.Events[best.loc]
	return Result{Loc: best.loc, Meas: ev.Meas, ScoreVel: ev.D1, Matched: true}
}

// candidateScore combines pitch-match expectation weight and a d-time
// penalty; higher is better.
func candidateScore(expWeight float64, dLoc int, dSecErr float64) float64 {
	return expWeight - float64(absInt(dLoc))*0.1 - math.Abs(dSecErr)*0.5
}

// betterCandidate implements the tie-break rule: higher score wins;
// on equal score, lower |d_loc|, then lower |d_sec_err|.
func betterCandidate(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if absInt(a.dLoc) != absInt(b.dLoc) {
		return absInt(a.dLoc) < absInt(b.dLoc)
	}
	return math.Abs(a.dSecErr) < math.Abs(b.dSecErr)
}

// anchor returns the expected loc and the (perfSec, scoreSec) pair that
// candidate onset times are predicted from: the last-accepted match
// within d_loc_stats_thresh, or — before any match — the tracking
// range's begin loc with perfSec itself as the anchor (so the very
// first note carries no mandatory time error).
func (f *Follower) anchor(perfSec float64) (loc uint32, anchorPerfSec, anchorScoreSec float64) {
	if !f.haveLastMatch {
		return f.begLoc, perfSec, f.sc.Events[f.begLoc].Sec
	}
	return f.lastMatchLoc, f.lastMatchPerfSec, f.lastMatchScoreSec
}

// windowBounds computes [lo, hi] loc bounds around center using a
// time span (preSec/postSec) widened, if needed, to meet a minimum
// location-count floor on each side, clamped to the tracking range.
func (f *Follower) windowBounds(center uint32, preSec, postSec float64, minLocCnt uint) (uint32, uint32) {
	centerSec := f.sc.Events[center].Sec

	lo := center
	for lo > f.begLoc && centerSec-f.sc.Events[lo-1].Sec <= preSec {
		lo--
	}
	for center-lo < uint32(minLocCnt) && lo > f.begLoc {
		lo--
	}

	hi := center
	for hi < f.endLoc && f.sc.Events[hi+1].Sec-centerSec <= postSec {
		hi++
	}
	for hi-center < uint32(minLocCnt) && hi < f.endLoc {
		hi++
	}

	return lo, hi
}

// applyAffinity adds a bump to expV[] centered on loc, spanning the
// affinity window (pre/post seconds with a minimum location floor).
func (f *Follower) applyAffinity(loc uint32) {
	lo, hi := f.windowBounds(loc, f.args.PreAffinitySec, f.args.PostAffinitySec, f.args.MinAffinityLocCnt)
	for l := lo; l <= hi; l++ {
		d := absInt(int(l) - int(loc))
		bump := 1.0 / (1.0 + float64(d))
		f.expV[l] += bump
	}
}

// DoExec is the per-cycle decay tick: multiply every entry of expV[]
// inside the current search window by decay_coeff.
func (f *Follower) DoExec() {
	lo, hi := f.windowBounds(f.currentCenter(), f.args.PreWndSec, f.args.PostWndSec, f.args.MinWndLocCnt)
	for l := lo; l <= hi; l++ {
		f.expV[l] *= f.args.DecayCoeff
	}
}

func (f *Follower) currentCenter() uint32 {
	if f.haveLastMatch {
		return f.lastMatchLoc
	}
	return f.begLoc
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
