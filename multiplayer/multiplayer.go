// Package multiplayer implements the Multi-Player (spec §4.5): many
// named, independently startable MIDI timelines, emitted to tagged
// port_ids with proper note-off/controller cleanup.
//
// Grounded on the teacher's player/realtime.go for the
// activeNotes-map-plus-allNotesOff cleanup idiom and ToggleTrackMute's
// per-track state, generalized from four fixed tracks to N named
// players carrying their own port_id.
package multiplayer

import (
	"os"
	"sort"

	"coplayer/midimsg"
	"coplayer/perrors"
	"coplayer/record"

	"gopkg.in/yaml.v3"
)

// Msg is one timeline entry. A PitchBend-status message is interpreted
// as a measure-number marker (spec §6 Multi-Player file), not MIDI
// output: D0/D1 together encode the measure number and Sec still
// anchors it on the timeline.
type Msg struct {
	UID    uint32         `yaml:"uid"`
	Sec    float64        `yaml:"sec"`
	Ch     uint8          `yaml:"ch"`
	Status midimsg.Status `yaml:"status"`
	D0     uint8          `yaml:"d0"`
	D1     uint8          `yaml:"d1"`
}

func (m Msg) isMeasureMarker() bool { return m.Status == midimsg.PitchBend }
func (m Msg) measureNumber() uint32 { return uint32(m.D0) | uint32(m.D1)<<7 }

// playerDef is one named player entry in the on-disk file (spec §6).
type playerDef struct {
	PlayerID uint32 `yaml:"player_id"`
	PortID   string `yaml:"port_id"`
	Msgs     []Msg  `yaml:"msgL"`
}

type file map[string]playerDef

// Player is the per-player runtime state (spec §4.5): "{id, label,
// port_id, msg[], key_state[16x128], ctl_state[16x128], next_msg_idx,
// start_smp_idx}".
type Player struct {
	ID       uint32
	Label    string
	PortID   string
	Msgs     []Msg
	msgSmp   []int64

	keyState [16][128]bool
	ctlState [16][128]bool

	nextMsgIdx  int
	startSmpIdx int64
	armed       bool

	lastMeas uint32
}

// Engine holds every configured player plus the global state shared
// across them: the set of unique port_ids and the global sample
// counter. Note-off and controller-reset messages are built when they
// are emitted, not kept in pre-built tables.
type Engine struct {
	sampleRate int
	players    map[string]*Player
	order      []string // insertion order, for deterministic exec iteration
	ports      map[string]bool

	globalSmp int64

	onDone func(label string)
}

// New builds an empty Engine. Load or AddPlayer populate it.
func New(sampleRate int, onDone func(label string)) *Engine {
	return &Engine{
		sampleRate: sampleRate,
		players:    map[string]*Player{},
		ports:      map[string]bool{},
		onDone:     onDone,
	}
}

// Load reads a Multi-Player file (spec §6: dictionary of player label
// -> {player_id, port_id, msgL}). Players are registered in sorted
// label order.
func Load(path string, sampleRate int, onDone func(label string)) (*Engine, *perrors.Error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "multiplayer.Load", "read multiplayer file", err)
	}
	var fl file
	if err := yaml.Unmarshal(raw, &fl); err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "multiplayer.Load", "parse multiplayer file", err)
	}
	e := New(sampleRate, onDone)
	labels := make([]string, 0, len(fl))
	for label := range fl {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		def := fl[label]
		e.AddPlayer(label, def.PlayerID, def.PortID, def.Msgs)
	}
	return e, nil
}

// AddPlayer registers a named player timeline.
func (e *Engine) AddPlayer(label string, id uint32, portID string, msgs []Msg) {
	smp := make([]int64, len(msgs))
	for i, m := range msgs {
		smp[i] = int64(m.Sec * float64(e.sampleRate))
	}
	e.players[label] = &Player{ID: id, Label: label, PortID: portID, Msgs: msgs, msgSmp: smp}
	e.order = append(e.order, label)
	e.ports[portID] = true
}

// Start plays the player named by label (spec §4.5 "start" notification).
func (e *Engine) Start(label string) *perrors.Error {
	return e.Play(label)
}

// Play arms an additional player without disturbing others.
func (e *Engine) Play(label string) *perrors.Error {
	p, ok := e.players[label]
	if !ok {
		return perrors.New(perrors.InvalidId, "multiplayer.Play", "unknown player: "+label)
	}
	p.armed = true
	p.nextMsgIdx = 0
	p.startSmpIdx = e.globalSmp
	return nil
}

// PlayExcl resets everything first, then starts exactly one player
// (spec §4.5 "play_excl").
func (e *Engine) PlayExcl(label string, out *record.Buffer) *perrors.Error {
	if err := e.Clear(out); err != nil {
		return err
	}
	return e.Play(label)
}

// Clear emits offs for every player with non-zero key/ctl state and
// marks all players stopped; the global sample counter is not reset
// (spec §4.5 "clear").
func (e *Engine) Clear(out *record.Buffer) *perrors.Error {
	for _, label := range e.order {
		p := e.players[label]
		if err := e.silence(p, out); err != nil {
			return err
		}
		p.armed = false
	}
	return nil
}

// Reset is clear, then zero the global sample counter and emit
// all-notes-off + reset-all-controllers out every unique port_id
// (spec §4.5 "reset").
func (e *Engine) Reset(out *record.Buffer) *perrors.Error {
	if err := e.Clear(out); err != nil {
		return err
	}
	e.globalSmp = 0
	for port := range e.ports {
		for ch := uint8(0); ch < 16; ch++ {
			if err := emitPort(out, port, midimsg.AllNotesOff(ch)); err != nil {
				return err
			}
			if err := emitPort(out, port, midimsg.ResetAllControllers(ch)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) silence(p *Player, out *record.Buffer) *perrors.Error {
	for ch := 0; ch < 16; ch++ {
		for note := 0; note < 128; note++ {
			if p.keyState[ch][note] {
				msg := midimsg.Message{Status: midimsg.NoteOff, Ch: uint8(ch), D0: uint8(note), D1: 0}
				if err := emitForPlayer(out, p, msg); err != nil {
					return err
				}
				p.keyState[ch][note] = false
			}
		}
		any := false
		for ctl := 0; ctl < 128; ctl++ {
			if p.ctlState[ch][ctl] {
				any = true
				p.ctlState[ch][ctl] = false
			}
		}
		if any {
			if err := emitForPlayer(out, p, midimsg.ResetAllControllers(uint8(ch))); err != nil {
				return err
			}
		}
	}
	return nil
}

// Exec is the per-cycle tick (spec §4.5): for each armed player whose
// next message's sample_idx has been reached relative to the
// player's own start offset, emit it with {midi, port_id, meas},
// update key/ctl state, advance the index; fire done(label) and
// disarm once the index passes the end. Emitted records carry no loc
// field: player timeline messages have no score location.
func (e *Engine) Exec(framesPerCycle int, out *record.Buffer) *perrors.Error {
	e.globalSmp += int64(framesPerCycle)

	for _, label := range e.order {
		p := e.players[label]
		if !p.armed {
			continue
		}
		for p.nextMsgIdx < len(p.Msgs) {
			due := p.msgSmp[p.nextMsgIdx] <= e.globalSmp-p.startSmpIdx
			if !due {
				break
			}
			m := p.Msgs[p.nextMsgIdx]
			if m.isMeasureMarker() {
				p.lastMeas = m.measureNumber()
				p.nextMsgIdx++
				continue
			}

			msg := midimsg.Message{Status: m.Status, Ch: m.Ch, D0: m.D0, D1: m.D1}
			rec := record.Record{}.WithMidi(msg).WithPortID(p.PortID).WithMeas(p.lastMeas)
			if err := out.Push(rec); err != nil {
				return perrors.Wrap(perrors.BufTooSmall, "multiplayer.Exec", "output record buffer overflow", err)
			}
			e.updateState(p, msg)
			p.nextMsgIdx++
		}
		if p.nextMsgIdx >= len(p.Msgs) {
			p.armed = false
			if e.onDone != nil {
				e.onDone(label)
			}
		}
	}
	return nil
}

func (e *Engine) updateState(p *Player, m midimsg.Message) {
	switch m.Status {
	case midimsg.NoteOn:
		p.keyState[m.Ch][m.D0] = m.D1 > 0
	case midimsg.NoteOff:
		p.keyState[m.Ch][m.D0] = false
	case midimsg.ControlChange:
		p.ctlState[m.Ch][m.D0] = true
	}
}

func emitForPlayer(out *record.Buffer, p *Player, m midimsg.Message) *perrors.Error {
	rec := record.Record{}.WithMidi(m).WithPortID(p.PortID)
	if err := out.Push(rec); err != nil {
		return perrors.Wrap(perrors.BufTooSmall, "multiplayer.silence", "output record buffer overflow", err)
	}
	return nil
}

func emitPort(out *record.Buffer, portID string, m midimsg.Message) *perrors.Error {
	rec := record.Record{}.WithMidi(m).WithPortID(portID)
	if err := out.Push(rec); err != nil {
		return perrors.Wrap(perrors.BufTooSmall, "multiplayer.Reset", "output record buffer overflow", err)
	}
	return nil
}

// Player returns the named player's state for diagnostics, or nil if
// not found.
func (e *Engine) Player(label string) *Player { return e.players[label] }

// Labels returns every registered player label in insertion order.
func (e *Engine) Labels() []string { return append([]string(nil), e.order...) }

// Armed reports whether this player is currently scheduled to emit.
func (p *Player) Armed() bool { return p.armed }
