// Package presetsel implements the Preset-Selection engine (spec
// §4.3): a fragment-indexed policy over score location that chooses
// DSP parameter presets, optionally interpolating between two and
// optionally driven by a weighted probability distribution.
//
// Grounded on cwPresetSel.h/.cpp (original_source) for the frag_t
// shape, track_loc's memoized monotone lookup, and the dry-preset
// special casing; persistence follows the teacher's config.go use of
// gopkg.in/yaml.v3 for on-disk structures.
package presetsel

import (
	"math/rand/v2"
	"os"
	"sort"

	"coplayer/perrors"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const InvalidIdx = ^uint32(0)

var validate = validator.New()

// Preset is one per-preset sub-record of a Fragment (frag_t.presetA in
// the original): selection weight, play/seq flags, and the "alt" slot
// label a human selector assigned it.
type Preset struct {
	PresetIdx uint32 `yaml:"preset_idx"`
	Order     uint   `yaml:"order"`
	PlayFl    bool   `yaml:"play_fl"`
	SeqFl     bool   `yaml:"seq_fl"`
	AltStr    string `yaml:"alt_str"`
}

// Fragment is a preset-selection record over a contiguous loc range
// (spec §3 GLOSSARY). Its begin loc is implicit: the previous
// fragment's EndLoc + 1, or 0 for the first fragment in the list.
type Fragment struct {
	FragID     uint32    `yaml:"frag_id"`
	EndLoc     uint32    `yaml:"end_loc"`
	EndTS      float64   `yaml:"end_ts"`
	InGain     float64   `yaml:"in_gain"`
	OutGain    float64   `yaml:"out_gain"`
	WetDryGain float64   `yaml:"wet_dry_gain"`
	FadeOutMs  float64   `yaml:"fade_out_ms"`
	BegPlayLoc uint32    `yaml:"beg_play_loc"`
	EndPlayLoc uint32    `yaml:"end_play_loc"`
	Note       string    `yaml:"note"`
	PerNoteFl  bool      `yaml:"per_note_fl"`
	PerLocFl   bool      `yaml:"per_loc_fl"`
	InterpFl   bool      `yaml:"interp_fl"`
	SeqAllFl   bool      `yaml:"seq_all_fl"`
	DryOnlyFl  bool      `yaml:"dry_only_fl"`
	DrySelFl   bool      `yaml:"dry_selected_fl"`
	Presets    []Preset  `yaml:"presets"`
	AltPreset  []uint32  `yaml:"alt_preset_idx"` // indexed by alt slot, InvalidIdx if unset

	cachedLocPreset uint32 // per_loc_fl cache: last-chosen preset index for this fragment
	cachedLocValid  bool
}

// Config names preset labels, alt labels (a fixed ordered A/B/C/...
// set), default gains, the default preset, and which preset is "dry"
// (spec §4.3 create(cfg)).
type Config struct {
	PresetLabels     []string `yaml:"preset_labels" validate:"required,min=1"`
	AltLabels        []string `yaml:"alt_labels" validate:"required,min=1"`
	DryPresetIdx     uint32   `yaml:"dry_preset_idx"`
	DefaultPresetIdx uint32   `yaml:"default_preset_idx"`
	MasterWetInGain  float64  `yaml:"master_wet_in_gain"`
	MasterWetOutGain float64  `yaml:"master_wet_out_gain"`
	MasterDryGain    float64  `yaml:"master_dry_gain"`
	MasterSyncDelayMs float64 `yaml:"master_sync_delay_ms"`
}

// file is the on-disk shape: master gains plus the fragment list (spec
// §6 Preset-selection file, §4.3 persistence round-trip property).
type file struct {
	MasterWetInGain   float64    `yaml:"master_wet_in_gain"`
	MasterWetOutGain  float64    `yaml:"master_wet_out_gain"`
	MasterDryGain     float64    `yaml:"master_dry_gain"`
	MasterSyncDelayMs float64    `yaml:"master_sync_delay_ms"`
	Fragments         []Fragment `yaml:"fragments"`
}

// Engine is the preset_sel handle.
type Engine struct {
	cfg       Config
	fragments []Fragment // ordered strictly by EndLoc
	curAltIdx uint32

	lastFragIdx   int // index into fragments, -1 if none tracked yet
	haveLastFrag  bool

	rng *rand.Rand
}

// Create builds an Engine from cfg. Errors here are fatal to the
// component per spec §7.
func Create(cfg Config) (*Engine, *perrors.Error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, perrors.Wrap(perrors.InvalidArg, "presetsel.Create", "invalid config", err)
	}
	if int(cfg.DryPresetIdx) >= len(cfg.PresetLabels) {
		return nil, perrors.New(perrors.InvalidArg, "presetsel.Create", "dry_preset_idx out of range")
	}
	return &Engine{
		cfg:         cfg,
		lastFragIdx: -1,
		rng:         rand.New(rand.NewPCG(1, 2)),
	}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// PresetCount and AltCount expose the fixed config arrays.
func (e *Engine) PresetCount() int { return len(e.cfg.PresetLabels) }
func (e *Engine) AltCount() int    { return len(e.cfg.AltLabels) }

func (e *Engine) PresetLabel(idx uint32) (string, *perrors.Error) {
	if int(idx) >= len(e.cfg.PresetLabels) {
		return "", perrors.New(perrors.EleNotFound, "presetsel.PresetLabel", "preset index not found")
	}
	return e.cfg.PresetLabels[idx], nil
}

// CreateFragment inserts a fragment in order by EndLoc and returns its
// FragID (spec §4.3 create_fragment). FragID is one past the largest id
// in the current list (and at least the list length), so it never
// collides with a live fragment; the id of a deleted fragment that held
// the largest id can be assigned again.
func (e *Engine) CreateFragment(endLoc uint32, endTS float64) uint32 {
	fragID := uint32(len(e.fragments))
	for _, f := range e.fragments {
		if f.FragID >= fragID {
			fragID = f.FragID + 1
		}
	}
	altPreset := make([]uint32, len(e.cfg.AltLabels))
	for i := range altPreset {
		altPreset[i] = InvalidIdx
	}
	presets := make([]Preset, len(e.cfg.PresetLabels))
	for i := range presets {
		presets[i] = Preset{PresetIdx: uint32(i)}
	}
	frag := Fragment{
		FragID:    fragID,
		EndLoc:    endLoc,
		EndTS:     endTS,
		PerLocFl:  true,
		Presets:   presets,
		AltPreset: altPreset,
	}

	i := sort.Search(len(e.fragments), func(i int) bool { return e.fragments[i].EndLoc >= endLoc })
	e.fragments = append(e.fragments, Fragment{})
	copy(e.fragments[i+1:], e.fragments[i:])
	e.fragments[i] = frag
	e.invalidateTracking()
	return fragID
}

// DeleteFragment removes a fragment and absorbs its loc range into the
// previous fragment (spec §4.3 delete_fragment): the previous
// fragment's EndLoc is extended to the deleted fragment's EndLoc, or,
// if it was the first fragment, the next fragment simply becomes the
// new first (its implicit begin stays 0).
func (e *Engine) DeleteFragment(fragID uint32) *perrors.Error {
	idx, ok := e.findFragIndex(fragID)
	if !ok {
		return perrors.New(perrors.InvalidId, "presetsel.DeleteFragment", "frag_id not found")
	}
	if idx > 0 {
		e.fragments[idx-1].EndLoc = e.fragments[idx].EndLoc
	}
	e.fragments = append(e.fragments[:idx], e.fragments[idx+1:]...)
	e.invalidateTracking()
	return nil
}

func (e *Engine) findFragIndex(fragID uint32) (int, bool) {
	for i, f := range e.fragments {
		if f.FragID == fragID {
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) invalidateTracking() {
	e.lastFragIdx = -1
	e.haveLastFrag = false
}

// SetAlternative selects the active alt slot used by
// FragmentPlayPresetIndex.
func (e *Engine) SetAlternative(altIdx uint32) *perrors.Error {
	if int(altIdx) >= len(e.cfg.AltLabels) {
		return perrors.New(perrors.InvalidArg, "presetsel.SetAlternative", "alt_idx out of range")
	}
	e.curAltIdx = altIdx
	return nil
}

// TrackLoc is a monotone-friendly lookup with a memoized last-fragment
// pointer (spec §4.3 track_loc): loc that would move the selection
// backward is ignored, matching cwPresetSel.cpp's track_loc.
func (e *Engine) TrackLoc(loc uint32) (frag *Fragment, changed bool) {
	if len(e.fragments) == 0 {
		return nil, false
	}
	idx := sort.Search(len(e.fragments), func(i int) bool { return e.fragments[i].EndLoc >= loc })
	if idx >= len(e.fragments) {
		idx = len(e.fragments) - 1
	}

	if !e.haveLastFrag {
		e.lastFragIdx = idx
		e.haveLastFrag = true
		return &e.fragments[idx], true
	}
	if idx == e.lastFragIdx {
		return &e.fragments[e.lastFragIdx], false
	}
	if idx < e.lastFragIdx {
		// loc moved backward relative to the tracked fragment: ignored.
		return &e.fragments[e.lastFragIdx], false
	}
	e.lastFragIdx = idx
	return &e.fragments[idx], true
}

// FragmentPlayPresetIndex returns the preset to play for a fragment
// (spec §4.3 fragment_play_preset_index): without a sequencing index,
// the current alt slot's recorded preset; with one, the nth preset
// whose SeqFl (or SeqAllFl) is set.
func FragmentPlayPresetIndex(f *Fragment, curAltIdx uint32, seqIdx uint32, hasSeqIdx bool) uint32 {
	if !hasSeqIdx {
		if int(curAltIdx) >= len(f.AltPreset) {
			return InvalidIdx
		}
		idx := f.AltPreset[curAltIdx]
		if idx == InvalidIdx && len(f.AltPreset) > 0 {
			idx = f.AltPreset[0]
		}
		return idx
	}
	var n uint32
	for i := range f.Presets {
		if f.Presets[i].SeqFl || f.SeqAllFl {
			if n == seqIdx {
				return f.Presets[i].PresetIdx
			}
			n++
		}
	}
	return InvalidIdx
}

// SelectFlags gates prob_select_preset_index (spec §4.3 selection
// policy), mirroring cwPresetSel.h's kUseProbFl/.../kDryOnSelFl.
type SelectFlags struct {
	UseProb   bool
	Uniform   bool
	DryOnPlay bool
	AllowAll  bool
	DryOnSel  bool
}

type probEntry struct {
	presetIdx uint32
	order     uint
	domain    uint
}

// ProbSelectPresetIndex implements the probability-driven preset
// selection described in spec §4.3. skip, if ok, excludes a preset
// already chosen as the primary selection (used when picking a
// distinct secondary preset to interpolate toward).
func (e *Engine) ProbSelectPresetIndex(f *Fragment, flags SelectFlags, skip uint32, hasSkip bool) uint32 {
	dry := e.cfg.DryPresetIdx

	if flags.DryOnPlay {
		for i := range f.Presets {
			if f.Presets[i].PresetIdx == dry && f.Presets[i].PlayFl {
				return dry
			}
		}
	}

	if !flags.UseProb {
		return lowestNonZeroOrder(f, skip, hasSkip)
	}

	candidates := e.activeCandidates(f, flags, skip, hasSkip)
	if len(candidates) == 0 {
		return InvalidIdx
	}

	if flags.DryOnSel {
		for _, c := range candidates {
			if c.presetIdx == dry && (c.order > 0 || presetPlays(f, dry)) {
				return dry
			}
		}
	}

	entries := buildProbDomain(candidates, flags.Uniform)
	return sampleProbDomain(entries, e.rng)
}

func lowestNonZeroOrder(f *Fragment, skip uint32, hasSkip bool) uint32 {
	best := InvalidIdx
	bestOrder := uint(0)
	for i := range f.Presets {
		p := &f.Presets[i]
		if hasSkip && p.PresetIdx == skip {
			continue
		}
		if p.Order == 0 {
			continue
		}
		if best == InvalidIdx || p.Order < bestOrder || (p.Order == bestOrder && p.PlayFl) {
			best = p.PresetIdx
			bestOrder = p.Order
		}
	}
	if best != InvalidIdx {
		return best
	}
	for i := range f.Presets {
		p := &f.Presets[i]
		if hasSkip && p.PresetIdx == skip {
			continue
		}
		if p.PlayFl {
			return p.PresetIdx
		}
	}
	return InvalidIdx
}

func (e *Engine) activeCandidates(f *Fragment, flags SelectFlags, skip uint32, hasSkip bool) []probEntry {
	var out []probEntry
	for i := range f.Presets {
		p := &f.Presets[i]
		if hasSkip && p.PresetIdx == skip {
			continue
		}
		if !flags.AllowAll && p.Order == 0 && !p.PlayFl {
			continue
		}
		out = append(out, probEntry{presetIdx: p.PresetIdx, order: p.Order})
	}
	return out
}

func presetPlays(f *Fragment, presetIdx uint32) bool {
	for i := range f.Presets {
		if f.Presets[i].PresetIdx == presetIdx {
			return f.Presets[i].PlayFl
		}
	}
	return false
}

// buildProbDomain assigns each candidate a chunk of the probability
// domain: equal chunks if uniform, otherwise a chunk proportional to
// (maxOrder+1-order) so a smaller 'order' (more preferred) gets a
// larger chunk, per spec §4.3's "stable proportional sampling" contract.
func buildProbDomain(candidates []probEntry, uniform bool) []probEntry {
	if uniform {
		for i := range candidates {
			candidates[i].domain = 1
		}
		return candidates
	}
	maxOrder := uint(0)
	for _, c := range candidates {
		if c.order > maxOrder {
			maxOrder = c.order
		}
	}
	for i := range candidates {
		candidates[i].domain = maxOrder + 1 - candidates[i].order
	}
	return candidates
}

func sampleProbDomain(entries []probEntry, rng *rand.Rand) uint32 {
	total := uint(0)
	for _, e := range entries {
		total += e.domain
	}
	if total == 0 {
		return entries[0].presetIdx
	}
	pick := uint(rng.IntN(int(total)))
	acc := uint(0)
	for _, e := range entries {
		acc += e.domain
		if pick < acc {
			return e.presetIdx
		}
	}
	return entries[len(entries)-1].presetIdx
}

// InterpDist samples a crossfade distance uniformly in [0,1) for
// per-note interpolation when no explicit distance is set (spec §4.3
// Interpolation).
func (e *Engine) InterpDist() float64 { return e.rng.Float64() }

// ApplyPerLoc returns the cached per-location preset choice for a
// fragment if present, computing and caching it otherwise (spec §4.3
// per-location application: "picks once per score location and
// caches").
func (e *Engine) ApplyPerLoc(f *Fragment, flags SelectFlags) uint32 {
	if f.cachedLocValid {
		return f.cachedLocPreset
	}
	choice := e.ProbSelectPresetIndex(f, flags, 0, false)
	f.cachedLocPreset = choice
	f.cachedLocValid = true
	return choice
}

// InvalidateLocCache clears the per-location cache, e.g. on fragment
// transition.
func (f *Fragment) InvalidateLocCache() { f.cachedLocValid = false }

// Write persists master gains and the fragment list to path (spec
// §4.3 persistence).
func (e *Engine) Write(path string) *perrors.Error {
	fl := file{
		MasterWetInGain:   e.cfg.MasterWetInGain,
		MasterWetOutGain:  e.cfg.MasterWetOutGain,
		MasterDryGain:     e.cfg.MasterDryGain,
		MasterSyncDelayMs: e.cfg.MasterSyncDelayMs,
		Fragments:         e.fragments,
	}
	out, err := yaml.Marshal(fl)
	if err != nil {
		return perrors.Wrap(perrors.OpFail, "presetsel.Write", "marshal fragment list", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return perrors.Wrap(perrors.OpFail, "presetsel.Write", "write fragment file", err)
	}
	return nil
}

// Read loads master gains and the fragment list from path, replacing
// the engine's current list (spec §4.3 persistence). Read fails closed
// (SPEC_FULL.md open-question decision #3): on a read or parse error it
// returns OpFail and leaves the engine's current list unchanged.
func (e *Engine) Read(path string) *perrors.Error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return perrors.Wrap(perrors.OpFail, "presetsel.Read", "read fragment file", err)
	}
	var fl file
	if err := yaml.Unmarshal(raw, &fl); err != nil {
		return perrors.Wrap(perrors.OpFail, "presetsel.Read", "parse fragment file", err)
	}
	e.cfg.MasterWetInGain = fl.MasterWetInGain
	e.cfg.MasterWetOutGain = fl.MasterWetOutGain
	e.cfg.MasterDryGain = fl.MasterDryGain
	e.cfg.MasterSyncDelayMs = fl.MasterSyncDelayMs
	e.fragments = fl.Fragments
	e.invalidateTracking()
	return nil
}

// Fragments returns the current fragment list in EndLoc order.
func (e *Engine) Fragments() []Fragment { return e.fragments }

// RecomputeDryFlags sets DryOnlyFl/DrySelFl per spec §8: a fragment
// with exactly one active preset is dry_only_fl iff that preset is
// dry; dry_selected_fl iff the dry preset's PlayFl is set.
func (e *Engine) RecomputeDryFlags(f *Fragment) {
	activeN := 0
	dryActive := false
	drySel := false
	for i := range f.Presets {
		p := &f.Presets[i]
		if p.Order > 0 || p.PlayFl {
			activeN++
			if p.PresetIdx == e.cfg.DryPresetIdx {
				dryActive = true
			}
		}
		if p.PresetIdx == e.cfg.DryPresetIdx && p.PlayFl {
			drySel = true
		}
	}
	f.DrySelFl = drySel
	f.DryOnlyFl = activeN == 1 && dryActive
}
