// Package sequencer implements the Sequencer Engine (C8): the playback
// loop, the public control surface (load/unload, play/stop, seek,
// loop/count-in, per-track mute/solo/velocity/transpose/rechannelize/
// time-shift/out-port/processor, and the supplemented MIDI-thru and
// warp-position surface), and the recursive-mutex discipline of
// SPEC_FULL.md §5. Grounded on the donor's goroutine-driven playback loop
// in pkg/engine/midi_player.go and on
// original_source/include/advancedsequencer.h's AdvancedSequencer.
package sequencer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zurustar/miditrack/pkg/logger"
	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/multitrack"
	"github.com/zurustar/miditrack/pkg/notify"
	"github.com/zurustar/miditrack/pkg/processor"
	"github.com/zurustar/miditrack/pkg/seqerr"
	"github.com/zurustar/miditrack/pkg/seqstate"
	"github.com/zurustar/miditrack/pkg/tickcomp"
)

// maxEventsPerTick bounds a single tick invocation's dispatch loop so a
// burst of zero-duration events cannot starve the next tick (SPEC_FULL.md
// §4.5).
const maxEventsPerTick = 100

// PlayMode selects whether the engine auto-stops after the last event or
// keeps emitting beat-markers indefinitely.
type PlayMode int

const (
	// PlayBounded stops automatically once no more real events remain.
	PlayBounded PlayMode = iota
	// PlayUnbounded never auto-stops; useful when recording against an
	// open-ended click.
	PlayUnbounded
)

// PortManager is the subset of pkg/port.Manager the engine depends on
// (SPEC_FULL.md §6, "Port manager interface (consumed)"). *port.Manager
// satisfies this interface; tests may supply a fake.
type PortManager interface {
	NumOuts() int
	IsValidPort(id int) bool
	AllNotesOff() error
	OpenOutPorts() error
	CloseOutPorts() error
	WriteWithRetry(portID int, msg midimsg.TimedMessage) error
}

// Options configures a new Engine. The zero value is a reasonable
// default (follow-MIDI-message metronome, bounded play, no count-in).
type Options struct {
	Metronome      seqstate.MetronomeMode
	PlayMode       PlayMode
	CountInEnabled bool
	Notifier       notify.Notifier
	Logger         *slog.Logger
}

type trackConfig struct {
	processor *processor.Processor
	outPort   int
}

// Engine is the Sequencer Engine (C8). Construct with NewEngine, load a
// score with Load, then drive playback with Play/Stop and the rest of
// the control surface. A single recursive-mutex-equivalent discipline
// (SPEC_FULL.md §4.10) is realized here not with a true reentrant
// mutex (Go's goroutine-anonymous sync.Mutex cannot safely detect
// same-goroutine recursion without unsafe tricks) but with the idiomatic
// split: every exported method takes Engine.mu once and calls an
// unexported "Locked" method; internal helpers that need to call each
// other while the lock is already held always call the Locked variant
// directly, never the exported wrapper. This gives the exact recursion
// the spec asks for without a hand-rolled reentrant-mutex hack.
type Engine struct {
	mu sync.Mutex

	ports PortManager
	opts  Options
	log   *slog.Logger
	clock *tickcomp.Framework

	mt    *multitrack.MultiTrack
	it    *multitrack.Iterator
	state *seqstate.State

	tracks           []trackConfig
	timeShiftOffsets []midimsg.Tick

	playing         bool
	autoStopPending bool
	countInStartMs  int64

	loopEnabled               bool
	loopStartMeasure, loopEnd int

	thruEnabled   bool
	thruProcessor *processor.Processor
	thruOutPort   int
}

// NewEngine constructs an Engine bound to ports and driven by clock.
// NewEngine registers the engine's tick callback with clock immediately;
// Play starts clock (Start is idempotent), so callers need not start it. Construction fails if
// ports exposes zero output ports (SPEC_FULL.md §7, NoOutputPorts is
// fatal at construction).
func NewEngine(ports PortManager, clock *tickcomp.Framework, opts Options) (*Engine, error) {
	if ports == nil || ports.NumOuts() == 0 {
		return nil, fmt.Errorf("%w: engine requires at least one output port", seqerr.ErrNoOutputPorts)
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	e := &Engine{
		ports:         ports,
		opts:          opts,
		log:           log,
		clock:         clock,
		thruProcessor: processor.New(),
	}
	clock.Register(0, e.tick)
	return e, nil
}

// Load installs mt as the active score, resetting all playback and
// per-track state. Any in-progress playback is stopped first.
func (e *Engine) Load(mt *multitrack.MultiTrack) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.stopLocked()
	}

	e.mt = mt
	e.it = multitrack.NewIterator(mt)
	e.state = seqstate.New(mt.NumTracks(), mt.ClocksPerBeat(), 120, e.opts.Notifier)
	e.state.SetMetronomeMode(e.opts.Metronome)

	e.tracks = make([]trackConfig, mt.NumTracks())
	for i := range e.tracks {
		e.tracks[i] = trackConfig{processor: processor.New(), outPort: 0}
	}
	e.timeShiftOffsets = make([]midimsg.Tick, mt.NumTracks())

	e.autoStopPending = false
	return nil
}

// Unload clears the active score, stopping playback first if necessary.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.stopLocked()
	}
	e.mt, e.it, e.state, e.tracks, e.timeShiftOffsets = nil, nil, nil, nil, nil
}

func (e *Engine) requireScoreLocked() error {
	if e.mt == nil {
		return fmt.Errorf("%w: no score loaded", seqerr.ErrInvalidEdit)
	}
	return nil
}

func (e *Engine) checkTrackLocked(trackIdx int) error {
	if trackIdx < 0 || trackIdx >= len(e.tracks) {
		return fmt.Errorf("%w: track index %d", seqerr.ErrInvalidTrack, trackIdx)
	}
	return nil
}

// Play starts playback, arming count-in first if enabled. It is
// idempotent: calling Play while already playing is a no-op.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireScoreLocked(); err != nil {
		return err
	}
	if e.playing {
		return nil
	}

	if err := e.ports.OpenOutPorts(); err != nil {
		return err
	}

	e.playing = true
	e.autoStopPending = false
	e.clock.Start()
	now := e.clock.Now()
	e.clock.SetSystemTimeOffset(now)
	e.clock.SetDeviceTimeOffset(int64(e.state.CurrentMs))

	if e.opts.CountInEnabled {
		e.state.CountInEnabled = true
		e.state.CountInPending = true
		e.state.CountInElapsed = 0
		e.countInStartMs = now
	} else {
		e.notify(notify.GroupTransport, notify.ItemStart, -1)
	}
	return nil
}

// Stop halts playback, silences every sounding note, and closes ports.
// It is idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *Engine) stopLocked() {
	if !e.playing {
		return
	}
	e.playing = false
	e.autoStopPending = false
	e.state.CountInPending = false

	if err := e.ports.AllNotesOff(); err != nil && e.log != nil {
		e.log.Warn("all-notes-off on stop failed", "err", err)
	}
	if e.state != nil {
		for _, ts := range e.state.Tracks {
			ts.Matrix.Reset()
		}
	}
	if err := e.ports.CloseOutPorts(); err != nil && e.log != nil {
		e.log.Warn("close ports on stop failed", "err", err)
	}
	e.notify(notify.GroupTransport, notify.ItemStop, -1)
}

// Close stops playback (if any) and halts the underlying tick-component
// framework. Use for final process teardown, not for a normal stop.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.playing {
		e.stopLocked()
	}
	e.mu.Unlock()
	e.clock.Stop()
}

func (e *Engine) notify(group notify.Group, item notify.Item, track int) {
	if e.opts.Notifier != nil {
		e.opts.Notifier.Notify(notify.Event{Group: group, Item: item, Track: track})
	}
}

func (e *Engine) anySoloedLocked() bool {
	for _, tc := range e.tracks {
		if tc.processor.Solo {
			return true
		}
	}
	return false
}

// tick is the callback registered with the tick-component framework; it
// is invoked from the single timer thread once per period (SPEC_FULL.md
// §4.5).
func (e *Engine) tick(sysMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.autoStopPending || !e.playing {
		return
	}

	if e.state.CountInPending {
		e.tickCountInLocked(sysMs)
		return
	}

	wallMs := float64(e.clock.WallMs(sysMs))

	for i := 0; i < maxEventsPerTick; i++ {
		msg, trackIdx := nextScheduled(e.it, e.state)
		evMs := e.state.CurrentMs + float64(msg.Tick()-e.state.CurrentTick)*e.state.MsPerClock
		if evMs > wallMs {
			break
		}

		if msg.IsBeatMarker() {
			consumeScheduled(e.it, e.state, msg, trackIdx)
			if e.loopEnabled && e.state.CurrentBeat == 0 && e.state.CurrentMeasure == e.loopEnd {
				e.closeLoopLocked(sysMs)
				break
			}
			continue
		}

		consumeScheduled(e.it, e.state, msg, trackIdx)
		if msg.IsChannel() || msg.IsSysex() {
			e.dispatchLocked(msg, trackIdx)
		}
	}

	if !e.loopEnabled {
		if _, _, hasReal := e.it.Peek(); !hasReal && e.opts.PlayMode == PlayBounded {
			e.autoStopPending = true
			go e.Stop()
		}
	}
}

func (e *Engine) tickCountInLocked(sysMs int64) {
	elapsedMs := float64(sysMs - e.countInStartMs)
	target := midimsg.Tick(e.state.BeatsPerMeasure * e.state.BeatLength)

	for e.state.CountInPending && e.state.CountInElapsed < target &&
		float64(e.state.CountInElapsed)*e.state.MsPerClock < elapsedMs {
		e.state.Process(midimsg.BeatMarker(e.state.CountInElapsed), -1)
	}

	if e.state.CountInElapsed >= target && float64(target)*e.state.MsPerClock <= elapsedMs {
		e.state.CountInPending = false
		e.clock.SetSystemTimeOffset(sysMs)
		e.countInStartMs = sysMs
		e.notify(notify.GroupTransport, notify.ItemStart, -1)
	}
}

func (e *Engine) dispatchLocked(msg midimsg.TimedMessage, trackIdx int) {
	tc := e.tracks[trackIdx]
	out, ok := tc.processor.Process(msg, e.anySoloedLocked(), false)
	if !ok {
		return
	}
	if err := e.ports.WriteWithRetry(tc.outPort, out); err != nil && e.log != nil {
		e.log.Warn("dropping event after driver busy", "track", trackIdx, "err", err)
	}
}

func (e *Engine) closeLoopLocked(sysMs int64) {
	if err := e.ports.AllNotesOff(); err != nil && e.log != nil {
		e.log.Warn("loop closure all-notes-off failed", "err", err)
	}
	for _, ts := range e.state.Tracks {
		ts.Matrix.Reset()
	}
	if err := e.seekToMeasureLocked(e.loopStartMeasure, 0); err != nil && e.log != nil {
		e.log.Warn("loop seek-to-start failed", "err", err)
	}
	e.clock.SetSystemTimeOffset(sysMs)
	e.clock.SetDeviceTimeOffset(int64(e.state.CurrentMs))
}

// silenceTrackLocked emits the explicit note-offs needed to cleanly mute
// or reroute a track whose notes are currently sounding (SPEC_FULL.md §8,
// property 7).
func (e *Engine) silenceTrackLocked(trackIdx int) {
	ts := e.state.Tracks[trackIdx]
	offs := ts.Matrix.AllNotesOff(e.state.CurrentTick)
	for _, m := range offs {
		if err := e.ports.WriteWithRetry(e.tracks[trackIdx].outPort, m); err != nil && e.log != nil {
			e.log.Warn("silence track failed", "track", trackIdx, "err", err)
		}
	}
	ts.Matrix.Reset()
}
