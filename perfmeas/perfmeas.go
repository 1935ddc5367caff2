// Package perfmeas implements per-section performance measurement
// (spec §4.2): dynamics, evenness, tempo and match-cost statistics,
// evaluated lazily once every event of the sets feeding a section has
// been performed.
//
// Grounded on cwPerfMeas.h/.cpp (original_source): a calc record
// attaches to the location of the last event of the last set whose
// measurements feed a section; when that location's sets are complete
// the calc evaluates all sets and the section aggregate, firing once.
package perfmeas

import (
	"math"

	"coplayer/score"

	"gonum.org/v1/gonum/stat"
)

// Engine evaluates section aggregates against a Score as the
// performance proceeds. It holds no goroutines and no I/O: the host
// calls Exec once per cycle after feeding performed-note updates into
// the Score's events.
type Engine struct {
	sc          *score.Score
	calcLoc     []uint32 // one calc location per section, in section order
	fired       []bool
	onSection   func(sectionIdx int, agg score.Aggregate)
}

// New builds an Engine over sc. onSection, if non-nil, is invoked
// exactly once per section the first cycle its aggregate becomes
// available.
func New(sc *score.Score, onSection func(sectionIdx int, agg score.Aggregate)) *Engine {
	e := &Engine{sc: sc, onSection: onSection}
	e.calcLoc = make([]uint32, len(sc.Sections))
	e.fired = make([]bool, len(sc.Sections))
	for i, sec := range sc.Sections {
		e.calcLoc[i] = sec.End
	}
	return e
}

// Exec is the per-cycle tick: for every section whose calc location is
// reachable — every event in its feeding sets has been performed, or
// the followed loc stream has already passed the calc location —
// compute and fire its aggregate exactly once.
func (e *Engine) Exec(followedLoc uint32) {
	for si := range e.sc.Sections {
		if e.fired[si] {
			continue
		}
		sec := &e.sc.Sections[si]
		complete := e.setsComplete(sec)
		passed := followedLoc >= e.calcLoc[si]
		if !complete && !passed {
			continue
		}
		agg := e.evaluate(si)
		sec.Values = agg
		sec.ValuesValid = [4]bool{true, true, true, true}
		e.fired[si] = true
		if e.onSection != nil {
			e.onSection(si, agg)
		}
	}
}

func (e *Engine) setsComplete(sec *score.Section) bool {
	for v := score.Dyn; v <= score.Tempo; v++ {
		for _, setIdx := range sec.SetIdxByVar[v] {
			for _, loc := range e.sc.Sets[setIdx].Evt {
				if !e.sc.Events[loc].Performed {
					return false
				}
			}
		}
	}
	return true
}

func (e *Engine) evaluate(sectionIdx int) score.Aggregate {
	sec := &e.sc.Sections[sectionIdx]
	return score.Aggregate{
		Dyn:       e.dynamics(sec),
		Even:      e.evenness(sec),
		Tempo:     e.tempo(sec),
		MatchCost: e.matchCost(sec),
	}
}

// dynamics is the RMS of (score_dyn_level - perf_dyn_level) over
// performed events of every set targeting this section (spec §4.2).
func (e *Engine) dynamics(sec *score.Section) float64 {
	var diffs []float64
	for _, setIdx := range sec.SetIdxByVar[score.Dyn] {
		for _, loc := range e.sc.Sets[setIdx].Evt {
			ev := &e.sc.Events[loc]
			if !ev.Performed {
				continue
			}
			diffs = append(diffs, float64(ev.D1)-float64(ev.PerfVel))
		}
	}
	return rms(diffs)
}

// evenness computes, within each evenness set, a per-location onset
// time (the performed event's PerfSec; each loc holds exactly one
// event, so no chord averaging happens), interpolates missing locations linearly from
// surrounding matched ones, then returns the stddev of successive time
// deltas. Sets with fewer than three usable locations are skipped.
func (e *Engine) evenness(sec *score.Section) float64 {
	var allDeltas []float64
	for _, setIdx := range sec.SetIdxByVar[score.Even] {
		onsets := e.perLocationOnsets(e.sc.Sets[setIdx].Evt)
		if len(onsets) < 3 {
			continue
		}
		for i := 1; i < len(onsets); i++ {
			allDeltas = append(allDeltas, onsets[i]-onsets[i-1])
		}
	}
	if len(allDeltas) == 0 {
		return 0
	}
	return stat.StdDev(allDeltas, nil)
}

// tempo is the coefficient of variation of inter-onset intervals
// within the section's tempo sets (SPEC_FULL.md open-question
// decision #1): stddev(deltas)/mean(deltas), the same per-location
// onset/interpolation machinery as evenness but normalized so it
// reads as a relative "evenness of pace" rather than an absolute
// spread of seconds.
func (e *Engine) tempo(sec *score.Section) float64 {
	var allDeltas []float64
	for _, setIdx := range sec.SetIdxByVar[score.Tempo] {
		onsets := e.perLocationOnsets(e.sc.Sets[setIdx].Evt)
		if len(onsets) < 3 {
			continue
		}
		for i := 1; i < len(onsets); i++ {
			allDeltas = append(allDeltas, onsets[i]-onsets[i-1])
		}
	}
	if len(allDeltas) == 0 {
		return 0
	}
	mean := stat.Mean(allDeltas, nil)
	if mean == 0 {
		return 0
	}
	return stat.StdDev(allDeltas, nil) / mean
}

// matchCost is the mean per-event match cost over
// prev_section.end..section.end for events flagged performed.
func (e *Engine) matchCost(sec *score.Section) float64 {
	begin := uint32(0)
	if sec.PrevSection >= 0 {
		begin = e.sc.Sections[sec.PrevSection].End
	}
	var costs []float64
	for loc := begin; loc <= sec.End; loc++ {
		ev := &e.sc.Events[loc]
		if ev.Performed && ev.HasMatchCost {
			costs = append(costs, ev.MatchCost)
		}
	}
	if len(costs) == 0 {
		return 0
	}
	return stat.Mean(costs, nil)
}

// perLocationOnsets returns, per location in evtLocs in order, the
// onset time: the PerfSec of the event at that location if it was
// performed, or a linear interpolation from surrounding matched
// locations if nothing at that location was performed. Locations with
// no neighbors on both sides are dropped.
func (e *Engine) perLocationOnsets(evtLocs []uint32) []float64 {
	raw := make([]float64, len(evtLocs))
	have := make([]bool, len(evtLocs))
	for i, loc := range evtLocs {
		ev := &e.sc.Events[loc]
		if ev.Performed {
			raw[i] = ev.PerfSec
			have[i] = true
		}
	}

	out := make([]float64, 0, len(evtLocs))
	for i := range evtLocs {
		if have[i] {
			out = append(out, raw[i])
			continue
		}
		lo, loOK := prevHave(raw, have, i)
		hi, hiOK := nextHave(raw, have, i)
		if !loOK || !hiOK {
			continue
		}
		frac := float64(i-lo) / float64(hi-lo)
		out = append(out, raw[lo]+(raw[hi]-raw[lo])*frac)
	}
	return out
}

func prevHave(raw []float64, have []bool, i int) (int, bool) {
	for j := i - 1; j >= 0; j-- {
		if have[j] {
			return j, true
		}
	}
	return 0, false
}

func nextHave(raw []float64, have []bool, i int) (int, bool) {
	for j := i + 1; j < len(have); j++ {
		if have[j] {
			return j, true
		}
	}
	return 0, false
}

func rms(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range vals {
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}
