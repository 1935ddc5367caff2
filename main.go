package main

import (
	"fmt"
	"os"
	"strings"

	"coplayer/console"
	"coplayer/logging"
	"coplayer/midiexport"
	"coplayer/multiplayer"
	"coplayer/perfmeas"
	"coplayer/perrors"
	"coplayer/presetsel"
	"coplayer/program"
	"coplayer/record"
	"coplayer/score"
	"coplayer/scorefollow"
	"coplayer/scoreplayer"
	"coplayer/velmap"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// bundlePath is the config bundle path (can be set via --config flag).
var bundlePath string

// logLevel is the slog level name (can be set via --log-level flag).
var logLevel string

func main() {
	_ = godotenv.Load()

	args := parseArgs(os.Args[1:])
	if err := logging.Init(logLevel); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	switch command := args[0]; command {
	case "rehearse":
		rehearse(bundlePathOrDefault())
	case "validate":
		validateBundle(bundlePathOrDefault())
	case "console":
		runConsole(bundlePathOrDefault())
	default:
		printUsage()
		os.Exit(1)
	}
}

// parseArgs extracts flags and returns remaining args.
func parseArgs(args []string) []string {
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				bundlePath = args[i+1]
				i++
			} else {
				fmt.Println("Error: --config requires a path")
				os.Exit(1)
			}
		case strings.HasPrefix(arg, "--config="):
			bundlePath = strings.TrimPrefix(arg, "--config=")
		case arg == "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--log-level="):
			logLevel = strings.TrimPrefix(arg, "--log-level=")
		case arg == "--help" || arg == "-h":
			printUsage()
			os.Exit(0)
		default:
			remaining = append(remaining, arg)
		}
	}

	return remaining
}

func bundlePathOrDefault() string {
	if bundlePath != "" {
		return bundlePath
	}
	if env := os.Getenv("COPLAYER_BUNDLE"); env != "" {
		return env
	}
	return "coplayer.yaml"
}

// bundle is the set of component config files a rehearsal wires
// together (spec §6 external interfaces, one file per component).
type bundle struct {
	Score           string           `yaml:"score"`
	PresetConfig    presetsel.Config `yaml:"preset_config"`
	PresetFragments string           `yaml:"preset_fragments"`
	VelTable        string           `yaml:"vel_table,omitempty"`
	Players         string           `yaml:"players"`
	Program         string           `yaml:"program"`
	StartSeg        uint32           `yaml:"start_seg"`
	SampleRate      int              `yaml:"sample_rate"`
	StoppingMs      float64          `yaml:"stopping_ms"`
	Channel         uint8            `yaml:"channel"`
	FollowerArgs    scorefollow.Args `yaml:"follower_args"`
	ExportMidi      string           `yaml:"export_midi,omitempty"`
	ExportBPM       float64          `yaml:"export_bpm,omitempty"`
}

func loadBundle(path string) (*bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return &b, nil
}

// engine holds every wired-up component for one rehearsal session.
type engine struct {
	sc         *score.Score
	sfA, sfB   *scorefollow.Follower
	presets    *presetsel.Engine
	vel        *velmap.Mapper
	mp         *multiplayer.Engine
	sp         *scoreplayer.Player
	ctrl       *program.Controller
	meas       *perfmeas.Engine
	out        *record.Buffer
	velOut     *record.Buffer
	cycleN     int
	sampleRate int
	elapsedSmp int64

	lastLoc    uint32
	lastMeas   uint32
	lastFragID uint32
	haveFrag   bool

	exported []midiexport.TimedRecord
}

func buildEngine(b *bundle) (*engine, *perrors.Error) {
	sc, err := score.Load(b.Score)
	if err != nil {
		return nil, err
	}

	sfA, err := scorefollow.Create(b.FollowerArgs, sc)
	if err != nil {
		return nil, err
	}
	sfB, err := scorefollow.Create(b.FollowerArgs, sc)
	if err != nil {
		return nil, err
	}

	presets, err := presetsel.Create(b.PresetConfig)
	if err != nil {
		return nil, err
	}
	if b.PresetFragments != "" {
		if err := presets.Read(b.PresetFragments); err != nil {
			return nil, err
		}
	}

	var vel *velmap.Mapper
	if b.VelTable != "" {
		vel, err = velmap.LoadFile(b.VelTable)
		if err != nil {
			return nil, err
		}
	}

	mp, err := multiplayer.Load(b.Players, b.SampleRate, nil)
	if err != nil {
		return nil, err
	}

	sp, err := scoreplayer.Create(sc, b.SampleRate, b.StoppingMs, b.Channel)
	if err != nil {
		return nil, err
	}

	ctls, err := program.Load(b.Program)
	if err != nil {
		return nil, err
	}
	ctrl, err := program.Create(ctls, sfA, sfB, mp, b.StartSeg)
	if err != nil {
		return nil, err
	}

	onSection := func(sectionIdx int, agg score.Aggregate) {
		logging.Component("perfmeas").Info("section measured",
			"section", sc.Sections[sectionIdx].Name,
			"dyn", agg.Dyn, "even", agg.Even, "tempo", agg.Tempo, "match_cost", agg.MatchCost)
	}

	eng := &engine{
		sc: sc, sfA: sfA, sfB: sfB, presets: presets, vel: vel,
		mp: mp, sp: sp, ctrl: ctrl,
		meas:       perfmeas.New(sc, onSection),
		out:        record.NewBuffer(256),
		velOut:     record.NewBuffer(256),
		sampleRate: b.SampleRate,
	}

	// goto_seg's spr_reset hook for this CLI restarts the score player
	// from its own current begin loc (spec §4.6).
	ctrl.SprReset = func() {
		if err := sp.Start(eng.out); err != nil {
			logging.Component("program").Warn("score player restart failed", "err", err)
		}
	}

	if err := sp.Start(eng.out); err != nil {
		return nil, err
	}
	eng.out.Drain()
	return eng, nil
}

// step drives one exec cycle by replaying the score itself as the
// performed note stream: there is no live MIDI device in this headless
// CLI, so rehearse simulates a perfect performance to exercise SF,
// Preset-Selection, and the Program Controller end to end.
func (e *engine) step(framesPerCycle int) *perrors.Error {
	ev, ok := e.sc.Event(uint32(e.cycleN))
	if ok {
		res := e.sfA.OnNewNote(uint32(e.cycleN), ev.Sec, ev.Pitch, ev.D1)
		if res.Matched {
			e.lastLoc, e.lastMeas = res.Loc, res.Meas
			if matchedEv, ok := e.sc.Event(res.Loc); ok {
				matchedEv.Performed = true
				matchedEv.PerfSec = ev.Sec
				matchedEv.PerfVel = ev.D1
			}
			if err := e.ctrl.OnRTLoc(res.Loc, e.out); err != nil {
				return err
			}
			if frag, changed := e.presets.TrackLoc(res.Loc); changed && frag != nil {
				e.lastFragID, e.haveFrag = frag.FragID, true
				logging.Component("program").Info("fragment changed", "frag_id", frag.FragID, "loc", res.Loc)
			}
			e.meas.Exec(res.Loc)
		}
		e.cycleN++
	}
	e.sfA.DoExec()
	e.sfB.DoExec()
	if err := e.mp.Exec(framesPerCycle, e.out); err != nil {
		return err
	}
	if err := e.sp.Exec(framesPerCycle, e.out); err != nil {
		return err
	}
	recs := e.out.Drain()
	if e.vel != nil {
		e.velOut.Reset()
		if dropped := e.vel.MapBuffer(recs, e.velOut); dropped > 0 {
			logging.Component("velmap").Debug("dropped records on velocity remap", "n", dropped)
		}
		recs = e.velOut.Drain()
	}

	elapsedSec := float64(e.elapsedSmp) / float64(e.sampleRate)
	for _, rec := range recs {
		e.exported = append(e.exported, midiexport.TimedRecord{Sec: elapsedSec, Rec: rec})
	}
	e.elapsedSmp += int64(framesPerCycle)

	return nil
}

func (e *engine) Status() console.Status {
	rpt := e.sfA.ReportSummary()
	players := make([]console.PlayerStatus, 0, len(e.mp.Labels()))
	for _, label := range e.mp.Labels() {
		players = append(players, console.PlayerStatus{Label: label, Armed: e.mp.Player(label).Armed()})
	}
	return console.Status{
		Loc: e.lastLoc, Meas: e.lastMeas,
		MatchN: rpt.MatchN, SpuriousN: rpt.SpuriousN,
		ActiveOutlet: string(e.ctrl.ActiveOutlet()),
		OutletAOK:    e.ctrl.OutletEnabled(program.OutletA),
		OutletBOK:    e.ctrl.OutletEnabled(program.OutletB),
		FragID:       e.lastFragID,
		HaveFrag:     e.haveFrag,
		PlayerState:  e.sp.State().String(),
		Players:      players,
	}
}

func rehearse(path string) {
	b, err := loadBundle(path)
	if err != nil {
		fmt.Printf("Error loading bundle: %v\n", err)
		os.Exit(1)
	}
	eng, perr := buildEngine(b)
	if perr != nil {
		fmt.Printf("Error building engine: %v\n", perr)
		os.Exit(1)
	}

	fmt.Println("rehearsing...")
	framesPerCycle := 512
	for i := 0; i < len(eng.sc.Events); i++ {
		if perr := eng.step(framesPerCycle); perr != nil {
			fmt.Printf("Error at cycle %d: %v\n", i, perr)
			os.Exit(1)
		}
	}
	rpt := eng.sfA.ReportSummary()
	fmt.Printf("done: matched=%d spurious=%d performed=%d\n", rpt.MatchN, rpt.SpuriousN, rpt.PerfNoteN)

	if b.ExportMidi != "" {
		bpm := b.ExportBPM
		if bpm <= 0 {
			bpm = 120
		}
		if perr := midiexport.WriteSMF(b.ExportMidi, eng.exported, bpm); perr != nil {
			fmt.Printf("Error exporting midi: %v\n", perr)
			os.Exit(1)
		}
		fmt.Printf("exported %s\n", b.ExportMidi)
	}
}

func validateBundle(path string) {
	b, err := loadBundle(path)
	if err != nil {
		fmt.Printf("Error loading bundle: %v\n", err)
		os.Exit(1)
	}
	if _, perr := buildEngine(b); perr != nil {
		fmt.Printf("invalid: %v\n", perr)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func runConsole(path string) {
	b, err := loadBundle(path)
	if err != nil {
		fmt.Printf("Error loading bundle: %v\n", err)
		os.Exit(1)
	}
	eng, perr := buildEngine(b)
	if perr != nil {
		fmt.Printf("Error building engine: %v\n", perr)
		os.Exit(1)
	}

	m := console.New(eng)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running console: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("coplayer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coplayer rehearse [--config bundle.yaml]   Drive every component through a simulated exec loop")
	fmt.Println("  coplayer validate [--config bundle.yaml]   Load and validate the config bundle without running")
	fmt.Println("  coplayer console  [--config bundle.yaml]   Launch the rehearsal status console")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config, -c <path>    Config bundle path (default: coplayer.yaml)")
	fmt.Println("  --log-level <level>    debug|info|warn|error (default: info)")
	fmt.Println("  --help, -h             Show this help")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  COPLAYER_BUNDLE        Default bundle path")
	fmt.Println()
	fmt.Println("Bundle fields export_midi/export_bpm (optional): rehearse")
	fmt.Println("writes every emitted record to a Standard MIDI File for review.")
}
