package sequencer

import (
	"fmt"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/multitrack"
	"github.com/zurustar/miditrack/pkg/notify"
	"github.com/zurustar/miditrack/pkg/seqerr"
	"github.com/zurustar/miditrack/pkg/seqstate"
)

// SeekToTick moves the playhead to tick, following the seek protocol of
// SPEC_FULL.md §4.6: snapshot, disable notifier, walk events silently,
// restore the iterator cursor at the target tick, update offsets, and
// force a full UI refresh.
func (e *Engine) SeekToTick(target midimsg.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekToTickLocked(target)
}

// SeekToMs moves the playhead to the first tick whose conductor-track
// wall-clock position reaches targetMs.
func (e *Engine) SeekToMs(targetMs float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireScoreLocked(); err != nil {
		return err
	}
	return e.seekToTickLocked(msToTick(e.mt, targetMs))
}

// SeekToMeasure moves the playhead to the given (measure, beat),
// 0-indexed.
func (e *Engine) SeekToMeasure(measure, beat int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekToMeasureLocked(measure, beat)
}

func (e *Engine) seekToMeasureLocked(measure, beat int) error {
	if err := e.requireScoreLocked(); err != nil {
		return err
	}
	warps := e.warpPositionsLocked()
	if measure < 0 || measure >= len(warps) {
		return fmt.Errorf("%w: measure %d out of range (0-%d)", seqerr.ErrBadRange, measure, len(warps)-1)
	}
	if err := e.seekToTickLocked(warps[measure]); err != nil {
		return err
	}
	if beat <= 0 {
		return nil
	}
	return e.seekToTickLocked(e.state.CurrentTick + midimsg.Tick(beat)*midimsg.Tick(e.state.BeatLength))
}

func (e *Engine) seekToTickLocked(target midimsg.Tick) error {
	if err := e.requireScoreLocked(); err != nil {
		return err
	}
	if e.opts.PlayMode == PlayBounded && target > e.mt.EndTime() {
		return fmt.Errorf("%w: seek target %d past end %d", seqerr.ErrBadRange, target, e.mt.EndTime())
	}

	snapshotState := e.state.Clone()
	snapshotCursors := e.it.SnapshotCursors()
	wasEnabled := true
	if e.state.Notifier != nil {
		wasEnabled = e.state.Notifier.GetEnable()
		e.state.Notifier.SetEnable(false)
	}
	rollback := func() {
		*e.state = *snapshotState
		e.it.RestoreCursors(snapshotCursors)
		if e.state.Notifier != nil {
			e.state.Notifier.SetEnable(wasEnabled)
		}
	}

	if target <= e.state.CurrentTick {
		e.it.Reset()
		scale, mode := e.state.TempoScalePercent, e.state.Metronome
		e.state.Reset(len(e.tracks))
		e.state.SetMetronomeMode(mode)
		e.state.SetTempoScale(scale)
	}

	if err := e.catchEventsBeforeLocked(target); err != nil {
		rollback()
		return err
	}

	atTarget := e.it.SnapshotCursors()
	for {
		msg, trackIdx := nextScheduled(e.it, e.state)
		if msg.Tick() != target {
			break
		}
		consumeScheduled(e.it, e.state, msg, trackIdx)
	}
	e.it.RestoreCursors(atTarget)

	if e.playing {
		if err := e.ports.AllNotesOff(); err != nil && e.log != nil {
			e.log.Warn("seek all-notes-off failed", "err", err)
		}
		for _, ts := range e.state.Tracks {
			ts.Matrix.Reset()
		}
		e.clock.SetDeviceTimeOffset(int64(e.state.CurrentMs))
		e.clock.SetSystemTimeOffset(e.clock.Now())
	}

	if e.state.Notifier != nil {
		e.state.Notifier.SetEnable(wasEnabled)
		e.state.Notifier.Notify(notify.Event{Group: notify.GroupAll, Item: notify.ItemNone, Track: -1})
	}
	return nil
}

// CatchEventsBefore walks every event strictly before target through
// State.process without emitting anything to hardware. The iterator
// cursor and the state's current tick and time both advance to the last
// event walked, as for a seek's walking step. Exposed
// standalone per SPEC_FULL.md §4.9 to resynchronize state after a track
// edit without actually seeking.
func (e *Engine) CatchEventsBefore(target midimsg.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catchEventsBeforeLocked(target)
}

func (e *Engine) catchEventsBeforeLocked(target midimsg.Tick) error {
	if err := e.requireScoreLocked(); err != nil {
		return err
	}
	for {
		msg, trackIdx := nextScheduled(e.it, e.state)
		if msg.Tick() >= target {
			break
		}
		consumeScheduled(e.it, e.state, msg, trackIdx)
	}
	return nil
}

// WarpPositions returns the tick of every measure boundary in the loaded
// score (index i = start tick of measure i), computed by silently
// replaying the whole score against a throwaway iterator and state.
// Grounded on original_source's ExtractWarpPositions (SPEC_FULL.md §4.9).
func (e *Engine) WarpPositions() []midimsg.Tick {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warpPositionsLocked()
}

func (e *Engine) warpPositionsLocked() []midimsg.Tick {
	if e.mt == nil {
		return nil
	}
	tmpIt := multitrack.NewIterator(e.mt)
	tmpState := seqstate.New(e.mt.NumTracks(), e.mt.ClocksPerBeat(), 120, nil)
	tmpState.SetMetronomeMode(e.opts.Metronome)

	warps := []midimsg.Tick{0}
	end := e.mt.EndTime()
	for {
		msg, trackIdx := nextScheduled(tmpIt, tmpState)
		if msg.Tick() > end {
			break
		}
		wasBeatZero := tmpState.CurrentBeat == 0
		consumeScheduled(tmpIt, tmpState, msg, trackIdx)
		if msg.IsBeatMarker() && tmpState.CurrentBeat == 0 && !wasBeatZero {
			warps = append(warps, tmpState.CurrentTick)
		}
	}
	return warps
}

// midiToMs walks the conductor track's tempo segments to find the
// wall-clock millisecond position of tick target (SPEC_FULL.md §4.6).
func midiToMs(mt *multitrack.MultiTrack, target midimsg.Tick) float64 {
	conductor, err := mt.Track(multitrack.ConductorTrack)
	if err != nil {
		return 0
	}
	tempoBPM := 120.0
	msPerClock := 60000.0 / (tempoBPM * float64(mt.ClocksPerBeat()))

	var ms float64
	var lastTick midimsg.Tick
	for i := 0; i < conductor.Len(); i++ {
		ev := conductor.At(i)
		if ev.Tick() > target {
			break
		}
		ms += float64(ev.Tick()-lastTick) * msPerClock
		lastTick = ev.Tick()
		if micros, ok := ev.TempoMicrosPerBeat(); ok && micros > 0 {
			tempoBPM = 60000000.0 / float64(micros)
			msPerClock = 60000.0 / (tempoBPM * float64(mt.ClocksPerBeat()))
		}
	}
	ms += float64(target-lastTick) * msPerClock
	return ms
}

// msToTick is midiToMs's inverse: the first tick whose wall-clock
// position reaches targetMs.
func msToTick(mt *multitrack.MultiTrack, targetMs float64) midimsg.Tick {
	conductor, err := mt.Track(multitrack.ConductorTrack)
	if err != nil {
		return 0
	}
	tempoBPM := 120.0
	msPerClock := 60000.0 / (tempoBPM * float64(mt.ClocksPerBeat()))

	var ms float64
	var lastTick midimsg.Tick
	for i := 0; i < conductor.Len(); i++ {
		ev := conductor.At(i)
		segMs := float64(ev.Tick()-lastTick) * msPerClock
		if ms+segMs > targetMs {
			remaining := targetMs - ms
			return lastTick + midimsg.Tick(remaining/msPerClock)
		}
		ms += segMs
		lastTick = ev.Tick()
		if micros, ok := ev.TempoMicrosPerBeat(); ok && micros > 0 {
			tempoBPM = 60000000.0 / float64(micros)
			msPerClock = 60000.0 / (tempoBPM * float64(mt.ClocksPerBeat()))
		}
	}
	remaining := targetMs - ms
	if msPerClock <= 0 {
		return lastTick
	}
	return lastTick + midimsg.Tick(remaining/msPerClock)
}

// MidiToMs exposes midiToMs as a query: the wall-clock position of tick
// in the currently loaded score.
func (e *Engine) MidiToMs(tick midimsg.Tick) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireScoreLocked(); err != nil {
		return 0, err
	}
	return midiToMs(e.mt, tick), nil
}
