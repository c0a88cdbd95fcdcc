package sequencer

import (
	"github.com/zurustar/miditrack/pkg/midimsg"
)

// CurrentTick returns the playhead's current tick.
func (e *Engine) CurrentTick() midimsg.Tick {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0
	}
	return e.state.CurrentTick
}

// CurrentMs returns the playhead's current wall-clock millisecond position.
func (e *Engine) CurrentMs() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0
	}
	return e.state.CurrentMs
}

// CurrentMeasure returns the 0-indexed measure the playhead is in.
func (e *Engine) CurrentMeasure() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0
	}
	return e.state.CurrentMeasure
}

// CurrentBeat returns the 0-indexed beat within the current measure.
func (e *Engine) CurrentBeat() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0
	}
	return e.state.CurrentBeat
}

// NumMeasures returns the number of measures in the loaded score, computed
// from its warp positions.
func (e *Engine) NumMeasures() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireScoreLocked(); err != nil {
		return 0, err
	}
	return len(e.warpPositionsLocked()), nil
}

// TempoWithScale returns the score's current tempo (BPM) after applying
// the tempo-scale percent.
func (e *Engine) TempoWithScale() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0
	}
	return e.state.TempoBPM * float64(e.state.TempoScalePercent) / 100.0
}

// TimeSig returns the currently active time signature.
func (e *Engine) TimeSig() (numerator, denominator byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 4, 4
	}
	return e.state.TimeSigNumerator, e.state.TimeSigDenominator
}

// KeySig returns the currently active key signature.
func (e *Engine) KeySig() (sharpsFlats int8, mode byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, 0
	}
	return e.state.KeySharpsFlats, e.state.KeyMode
}

// Marker returns the most recently seen marker-text.
func (e *Engine) Marker() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ""
	}
	return e.state.MarkerText
}

// TrackName returns a track's display name.
func (e *Engine) TrackName(trackIdx int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return "", err
	}
	return e.state.Tracks[trackIdx].Name, nil
}

// TrackVolume returns a track's last-seen channel-volume (controller 7)
// value, or -1 (seqstate.ControllerUnset) if never set.
func (e *Engine) TrackVolume(trackIdx int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return 0, err
	}
	return e.state.Tracks[trackIdx].Controllers[midimsg.ControllerVolume], nil
}

// TrackProgram returns a track's last-seen program number, or -1 if never
// set.
func (e *Engine) TrackProgram(trackIdx int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return 0, err
	}
	return e.state.Tracks[trackIdx].Program, nil
}

// TrackNoteCount returns the number of notes currently sounding on a
// track.
func (e *Engine) TrackNoteCount(trackIdx int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return 0, err
	}
	return e.state.Tracks[trackIdx].Matrix.TotalNoteCount(), nil
}

// Playing reports whether the engine is currently in a playing state
// (including while counting in).
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// NumTracks returns the number of tracks in the loaded score.
func (e *Engine) NumTracks() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireScoreLocked(); err != nil {
		return 0, err
	}
	return len(e.tracks), nil
}
