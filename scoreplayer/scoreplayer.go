// Package scoreplayer implements the Score Player (spec §4.4):
// sample-accurate playback of a pre-recorded MIDI stream annotated
// with loc/meas, driven by a host-invoked Exec(framesPerCycle) instead
// of a wall-clock ticker.
//
// Grounded on the teacher's player/realtime.go playbackLoop/allNotesOff/
// Stop shape, adapted from a goroutine ticker to the spec's
// single-threaded cooperative exec model (§5): no blocking, no
// sleeping, no background tasks.
package scoreplayer

import (
	"coplayer/midimsg"
	"coplayer/perrors"
	"coplayer/record"
	"coplayer/score"
)

// State is the Idle/Play/Stopping state machine (spec §4.4).
type State int

const (
	Idle State = iota
	Play
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Play:
		return "play"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Player is the score_player handle.
type Player struct {
	sc         *score.Score
	sampleRate int
	eventSmp   []int64 // eventSmp[i] = sc.Events[i].Sec * sampleRate, precomputed at load

	// pedal state precomputed per event index (spec §4.4: "damper-pedal
	// and sostenuto-pedal state are pre-computed per message at load
	// time so that starting mid-score restores pedal position")
	sustainDownAt   []bool
	sostenutoDownAt []bool

	state State

	bLoc, eLoc   uint32
	bMeas, eMeas uint32

	cursorSmp    int64 // current sample position
	msgIdx       int   // next message to emit
	endMsgIdx    int   // first index at/after eLoc; len(Events) means "to end"
	stoppingDeadlineSmp int64
	liveNoteCnt  int

	stoppingMs float64
	ch         uint8

	done bool
}

// Create builds a Player bound to sc, precomputing per-event sample
// indices and pedal state. Errors here are fatal to the component.
func Create(sc *score.Score, sampleRate int, stoppingMs float64, ch uint8) (*Player, *perrors.Error) {
	if sc == nil || len(sc.Events) == 0 {
		return nil, perrors.New(perrors.InvalidState, "scoreplayer.Create", "score not loaded")
	}
	if sampleRate <= 0 {
		return nil, perrors.New(perrors.InvalidArg, "scoreplayer.Create", "sample_rate must be positive")
	}
	p := &Player{
		sc:         sc,
		sampleRate: sampleRate,
		stoppingMs: stoppingMs,
		ch:         ch,
		state:      Idle,
	}
	p.precompute()
	p.bLoc, p.eLoc = 0, sc.MaxLocID()+1
	p.endMsgIdx = len(sc.Events)
	return p, nil
}

func (p *Player) precompute() {
	n := len(p.sc.Events)
	p.eventSmp = make([]int64, n)
	p.sustainDownAt = make([]bool, n)
	p.sostenutoDownAt = make([]bool, n)

	sustain, sostenuto := false, false
	for i, ev := range p.sc.Events {
		p.eventSmp[i] = int64(ev.Sec * float64(p.sampleRate))
		if ev.Status == midimsg.ControlChange {
			if ev.D0 == midimsg.CCSustainPedal {
				sustain = ev.D1 >= 64
			} else if ev.D0 == midimsg.CCSostenutoPedal {
				sostenuto = ev.D1 >= 64
			}
		}
		p.sustainDownAt[i] = sustain
		p.sostenutoDownAt[i] = sostenuto
	}
}

// Destroy releases the player. It holds no off-heap resources; this
// exists to match the component lifecycle's create/destroy symmetry.
func (p *Player) Destroy() {}

// SetBeginLoc snaps the begin position to the first message at or
// after loc and updates the sibling BegMeas field (spec §4.4 edge
// case: "b_loc/b_meas change at runtime snaps to the first message at
// or after the requested position and updates the sibling field").
func (p *Player) SetBeginLoc(loc uint32) {
	idx := p.firstIdxAtOrAfterLoc(loc)
	p.bLoc = p.sc.Events[idx].Loc
	p.bMeas = p.sc.Events[idx].Meas
}

// SetBeginMeas is the meas-indexed counterpart of SetBeginLoc.
func (p *Player) SetBeginMeas(meas uint32) {
	idx := p.firstIdxAtOrAfterMeas(meas)
	p.bLoc = p.sc.Events[idx].Loc
	p.bMeas = p.sc.Events[idx].Meas
}

// SetEndLoc sets the end position; eLoc one past the score's max loc
// means "play to end" (spec §4.4 edge case).
func (p *Player) SetEndLoc(loc uint32) {
	p.eLoc = loc
	p.endMsgIdx = p.firstIdxAtOrAfterLoc(loc)
}

func (p *Player) firstIdxAtOrAfterLoc(loc uint32) int {
	for i, ev := range p.sc.Events {
		if ev.Loc >= loc {
			return i
		}
	}
	return len(p.sc.Events)
}

func (p *Player) firstIdxAtOrAfterMeas(meas uint32) int {
	for i, ev := range p.sc.Events {
		if ev.Meas >= meas {
			return i
		}
	}
	return len(p.sc.Events)
}

// State returns the current lifecycle state.
func (p *Player) State() State { return p.state }

// Start is the *start* trigger (spec §4.4): if not Idle, perform a
// stop-now first; set the cursor to the first message at or after
// b_loc, emit pedal-down if the pedal was down at that position, and
// transition to Play.
func (p *Player) Start(out *record.Buffer) *perrors.Error {
	if p.state != Idle {
		if err := p.stopNow(out); err != nil {
			return err
		}
	}
	startIdx := p.firstIdxAtOrAfterLoc(p.bLoc)
	if startIdx >= len(p.sc.Events) {
		return perrors.New(perrors.InvalidState, "scoreplayer.Start", "b_loc is past the end of the score")
	}

	p.msgIdx = startIdx
	p.cursorSmp = p.eventSmp[startIdx]
	p.liveNoteCnt = 0
	p.done = false
	p.state = Play

	if startIdx > 0 {
		if p.sustainDownAt[startIdx-1] {
			if err := emit(out, midimsg.SustainPedalMsg(p.ch, true)); err != nil {
				return err
			}
		}
		if p.sostenutoDownAt[startIdx-1] {
			if err := emit(out, midimsg.SostenutoPedalMsg(p.ch, true)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop is the *stop* trigger: emit all-notes-off + reset-all-controllers,
// mark done, and return to Idle.
func (p *Player) Stop(out *record.Buffer) *perrors.Error {
	return p.stopNow(out)
}

func (p *Player) stopNow(out *record.Buffer) *perrors.Error {
	if err := emit(out, midimsg.AllNotesOff(p.ch)); err != nil {
		return err
	}
	if err := emit(out, midimsg.ResetAllControllers(p.ch)); err != nil {
		return err
	}
	p.state = Idle
	p.done = true
	p.liveNoteCnt = 0
	return nil
}

// Done reports whether playback has reached Idle via a completed or
// explicit stop since the last Start.
func (p *Player) Done() bool { return p.done }

// Exec advances the sample cursor by framesPerCycle and emits every
// cached message whose sample_idx has been reached, per spec §4.4.
func (p *Player) Exec(framesPerCycle int, out *record.Buffer) *perrors.Error {
	if p.state == Idle {
		return nil
	}
	p.cursorSmp += int64(framesPerCycle)

	// In Play the cursor stops at endMsgIdx; in Stopping it runs on past
	// it so note-offs and controllers after e_loc still go out.
	for p.msgIdx < len(p.sc.Events) && (p.state == Stopping || p.msgIdx < p.endMsgIdx) && p.eventSmp[p.msgIdx] <= p.cursorSmp {
		ev := &p.sc.Events[p.msgIdx]

		if p.state == Stopping && ev.Status == midimsg.NoteOn && ev.D1 > 0 {
			// Drop further note-ons while stopping (spec §4.4).
			p.msgIdx++
			continue
		}

		msg := midimsg.Message{Status: ev.Status, Ch: p.ch, D0: ev.D0, D1: ev.D1}
		rec := record.Record{}.WithMidi(msg).WithLoc(ev.Loc).WithMeas(ev.Meas)
		if err := out.Push(rec); err != nil {
			return perrors.Wrap(perrors.BufTooSmall, "scoreplayer.Exec", "output record buffer overflow", err)
		}

		if msg.IsNoteOn() {
			p.liveNoteCnt++
		} else if msg.IsNoteOff() {
			if p.liveNoteCnt > 0 {
				p.liveNoteCnt--
			}
		}
		p.msgIdx++
	}

	if p.state == Play && p.msgIdx >= p.endMsgIdx {
		p.state = Stopping
		p.stoppingDeadlineSmp = p.cursorSmp + int64(p.stoppingMs*float64(p.sampleRate)/1000.0)
	}

	if p.state == Stopping {
		scoreExhausted := p.msgIdx >= len(p.sc.Events)
		if p.liveNoteCnt == 0 || p.cursorSmp >= p.stoppingDeadlineSmp || scoreExhausted {
			return p.stopNow(out)
		}
	}

	return nil
}

func emit(out *record.Buffer, m midimsg.Message) *perrors.Error {
	if err := out.Push(record.Record{}.WithMidi(m)); err != nil {
		return perrors.Wrap(perrors.BufTooSmall, "scoreplayer.emit", "output record buffer overflow", err)
	}
	return nil
}

// Report returns a lightweight status snapshot for diagnostics/console
// display.
type Report struct {
	State       State
	MsgIdx      int
	LiveNoteCnt int
}

func (p *Player) Report() Report {
	return Report{State: p.state, MsgIdx: p.msgIdx, LiveNoteCnt: p.liveNoteCnt}
}
