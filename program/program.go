// Package program implements the Program Controller (spec §4.6): the
// top-level state machine that sequences Score-Follower resets and
// Multi-Player cues as a performance traverses a user-defined segment
// list, including live recovery onto a backup Score Follower. The
// controller holds no reference to the Preset-Selection engine and
// does not drive preset selection.
//
// Grounded on cwFlowPerf.cpp (original_source) for the two-outlet A/B
// SF routing and the recover-onto-the-other-outlet shape; teacher
// main.go's command-dispatch-by-string idiom for the sub-command
// {play, sf} dispatch.
package program

import (
	"os"

	"coplayer/multiplayer"
	"coplayer/perrors"
	"coplayer/record"
	"coplayer/scorefollow"

	"gopkg.in/yaml.v3"
)

// Outlet identifies one of the controller's two fixed SF outlets
// (spec §4.6: "the controller owns two SF outlets A and B").
type Outlet string

const (
	OutletA Outlet = "a"
	OutletB Outlet = "b"
)

// CmdType is the sub-command discriminator (spec §6 program-controller
// config: `cmdL[{type: "play"|"sf", ...}]`).
type CmdType string

const (
	CmdPlay CmdType = "play"
	CmdSF   CmdType = "sf"
)

// Cmd is one sub-command of a ctl record. Fields are a union over the
// play and sf shapes; only the fields relevant to Type are populated.
type Cmd struct {
	Type CmdType `yaml:"type"`

	// play(seg_type, seg_id, player_id, person_seg_num)
	SegType      string `yaml:"seg_type,omitempty"`
	PlayerID     string `yaml:"player_id,omitempty"`
	PersonSegNum uint32 `yaml:"person_seg_num,omitempty"`

	// sf(sf_id, beg_loc, end_loc, enable_fl)
	SFID     Outlet `yaml:"sf_id,omitempty"`
	BegLoc   uint32 `yaml:"beg_loc,omitempty"`
	EndLoc   uint32 `yaml:"end_loc,omitempty"`
	EnableFl bool   `yaml:"enable_fl,omitempty"`
}

// Ctl is one row of the program-controller config (spec §6): pinned to
// a loc_id, carrying the segment it opens and which SF outlet is
// active on it.
type Ctl struct {
	LocID      uint32 `yaml:"loc_id"`
	SegID      uint32 `yaml:"seg_id"`
	ActiveSFID Outlet `yaml:"active_sf_id"`
	Cmds       []Cmd  `yaml:"cmdL"`
}

type file struct {
	Ctls []Ctl `yaml:"ctlL"`
}

// Load reads a program-controller config file (spec §6).
func Load(path string) ([]Ctl, *perrors.Error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "program.Load", "read program config", err)
	}
	var fl file
	if err := yaml.Unmarshal(raw, &fl); err != nil {
		return nil, perrors.Wrap(perrors.OpFail, "program.Load", "parse program config", err)
	}
	return fl.Ctls, nil
}

type outletState struct {
	follower *scorefollow.Follower
	enabled  bool
}

// Controller is the program_controller handle (spec §4.6).
type Controller struct {
	outlets [2]outletState // index 0 = OutletA, 1 = OutletB
	mp      *multiplayer.Engine

	ctls     []Ctl
	byLoc    map[uint32]int
	bySeg    map[uint32]int // first ctl index for a given seg_id
	startSeg uint32

	activeSF Outlet

	lastLoc        uint32
	haveLastLoc    bool
	lastCtlIdx     int
	haveLastCtlIdx bool

	// SimReset/SprReset are fired by goto_seg (spec §4.6); they model
	// external collaborators (score-player simulator reset, the score
	// player's own reset) that the core does not own (spec §1
	// non-goals: UI transport, external record-play utility). Either
	// may be left nil.
	SimReset func()
	SprReset func()
}

// Create builds a Controller over a ctl list and the two SF followers
// it drives, plus the Multi-Player engine its play sub-commands target.
// startSeg is the segment reset() returns to.
func Create(ctls []Ctl, sfA, sfB *scorefollow.Follower, mp *multiplayer.Engine, startSeg uint32) (*Controller, *perrors.Error) {
	if len(ctls) == 0 {
		return nil, perrors.New(perrors.InvalidArg, "program.Create", "ctl list is empty")
	}
	c := &Controller{
		outlets: [2]outletState{
			{follower: sfA, enabled: true},
			{follower: sfB, enabled: false},
		},
		mp:       mp,
		ctls:     ctls,
		byLoc:    map[uint32]int{},
		bySeg:    map[uint32]int{},
		startSeg: startSeg,
		activeSF: OutletA,
	}
	for i, ctl := range ctls {
		c.byLoc[ctl.LocID] = i
		if _, ok := c.bySeg[ctl.SegID]; !ok {
			c.bySeg[ctl.SegID] = i
		}
	}
	return c, nil
}

func (c *Controller) outletIdx(o Outlet) int {
	if o == OutletB {
		return 1
	}
	return 0
}

// OnRTLoc is the real-time loc notification (spec §4.6): "if loc
// matches a ctl record and differs from the last seen loc, apply that
// record ... and cache the record as last_ctl_idx."
func (c *Controller) OnRTLoc(loc uint32, out *record.Buffer) *perrors.Error {
	if c.haveLastLoc && loc == c.lastLoc {
		return nil
	}
	c.lastLoc = loc
	c.haveLastLoc = true

	idx, ok := c.byLoc[loc]
	if !ok {
		return nil
	}
	if err := c.apply(c.ctls[idx], true, false, out); err != nil {
		return err
	}
	c.lastCtlIdx = idx
	c.haveLastCtlIdx = true
	return nil
}

// GotoSeg applies a segment's SF commands only (not its play command),
// then fires sim_reset, spr_reset, and clears the controller's own
// tracking state (spec §4.6).
func (c *Controller) GotoSeg(segID uint32, out *record.Buffer) *perrors.Error {
	idx, ok := c.bySeg[segID]
	if !ok {
		return perrors.New(perrors.InvalidId, "program.GotoSeg", "unknown seg_id")
	}
	if err := c.apply(c.ctls[idx], false, false, out); err != nil {
		return err
	}
	if c.SimReset != nil {
		c.SimReset()
	}
	if c.SprReset != nil {
		c.SprReset()
	}
	c.haveLastLoc = false
	c.haveLastCtlIdx = false
	return nil
}

// PlayNow applies a segment's SF and play commands together; the
// play-now flag commands Multi-Player exclusively so the segment
// starts immediately (spec §4.6).
func (c *Controller) PlayNow(segID uint32, out *record.Buffer) *perrors.Error {
	idx, ok := c.bySeg[segID]
	if !ok {
		return perrors.New(perrors.InvalidId, "program.PlayNow", "unknown seg_id")
	}
	if err := c.apply(c.ctls[idx], true, true, out); err != nil {
		return err
	}
	c.lastCtlIdx = idx
	c.haveLastCtlIdx = true
	return nil
}

// Recover finds, starting from last_ctl_idx+1, the first ctl whose
// active_sf_id differs from the current active SF, applies it without
// a play command, then disables the originally active outlet (spec
// §4.6: "expected to be unresponsive").
func (c *Controller) Recover(out *record.Buffer) *perrors.Error {
	origActive := c.activeSF
	start := 0
	if c.haveLastCtlIdx {
		start = c.lastCtlIdx + 1
	}
	for i := start; i < len(c.ctls); i++ {
		if c.ctls[i].ActiveSFID != origActive {
			if err := c.apply(c.ctls[i], false, false, out); err != nil {
				return err
			}
			c.lastCtlIdx = i
			c.haveLastCtlIdx = true
			c.outlets[c.outletIdx(origActive)].enabled = false
			return nil
		}
	}
	return perrors.New(perrors.EleNotFound, "program.Recover", "no later ctl targets a different active_sf_id")
}

// Reset clears memoized state and re-applies goto_seg to the
// controller's starting segment (spec §4.6).
func (c *Controller) Reset(out *record.Buffer) *perrors.Error {
	c.haveLastLoc = false
	c.haveLastCtlIdx = false
	c.outlets[0].enabled = true
	c.outlets[1].enabled = false
	c.activeSF = OutletA
	return c.GotoSeg(c.startSeg, out)
}

// apply issues each sub-command's effect. playCmds gates whether
// "play" sub-commands run at all (goto_seg suppresses them); exclusive
// selects PlayExcl over Play for any play sub-command that does run.
func (c *Controller) apply(ctl Ctl, playCmds, exclusive bool, out *record.Buffer) *perrors.Error {
	for _, cmd := range ctl.Cmds {
		switch cmd.Type {
		case CmdSF:
			idx := c.outletIdx(cmd.SFID)
			o := &c.outlets[idx]
			if o.follower != nil {
				if err := o.follower.Reset(cmd.BegLoc, cmd.EndLoc); err != nil {
					return err
				}
			}
			o.enabled = cmd.EnableFl
		case CmdPlay:
			if !playCmds || c.mp == nil {
				continue
			}
			var err *perrors.Error
			if exclusive {
				err = c.mp.PlayExcl(cmd.PlayerID, out)
			} else {
				err = c.mp.Play(cmd.PlayerID)
			}
			if err != nil {
				return err
			}
		}
	}
	c.activeSF = ctl.ActiveSFID
	return nil
}

// ActiveOutlet reports which SF outlet is presently active.
func (c *Controller) ActiveOutlet() Outlet { return c.activeSF }

// OutletEnabled reports whether the given outlet's matches should be
// honored by the host (a disabled outlet's follower may still be fed
// notes but its loc results should not drive on_rt_loc).
func (c *Controller) OutletEnabled(o Outlet) bool {
	return c.outlets[c.outletIdx(o)].enabled
}

// LastCtlIdx returns the cached last-applied ctl index and whether one
// has been applied yet.
func (c *Controller) LastCtlIdx() (int, bool) { return c.lastCtlIdx, c.haveLastCtlIdx }
