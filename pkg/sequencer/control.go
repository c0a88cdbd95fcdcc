package sequencer

import (
	"fmt"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/processor"
	"github.com/zurustar/miditrack/pkg/seqerr"
)

// SetLoop configures looping between [startMeasure, endMeasure). Disabling
// loop (enabled=false) always succeeds regardless of the measure range.
func (e *Engine) SetLoop(enabled bool, startMeasure, endMeasure int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enabled && startMeasure >= endMeasure {
		return fmt.Errorf("%w: loop start %d must be before end %d", seqerr.ErrBadRange, startMeasure, endMeasure)
	}
	e.loopEnabled = enabled
	e.loopStartMeasure = startMeasure
	e.loopEnd = endMeasure
	return nil
}

// SetCountIn arms (or disarms) one measure of silent beat-marker count-in
// before the next Play actually starts audible playback.
func (e *Engine) SetCountIn(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.CountInEnabled = enabled
}

// SetTempoScale applies an integer percent multiplier on top of the
// score's own tempo (minimum 1).
func (e *Engine) SetTempoScale(percent int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireScoreLocked(); err != nil {
		return err
	}
	if percent < 1 {
		return fmt.Errorf("%w: tempo scale %d must be >= 1", seqerr.ErrBadRange, percent)
	}
	e.state.SetTempoScale(percent)
	return nil
}

// SetMute mutes or unmutes a track. Muting a track with sounding notes
// while playing immediately emits the matching note-offs (SPEC_FULL.md
// §8, property 7).
func (e *Engine) SetMute(trackIdx int, muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	p := e.tracks[trackIdx].processor
	wasMuted := p.Muted
	p.Muted = muted
	if muted && !wasMuted && e.playing {
		e.silenceTrackLocked(trackIdx)
	}
	return nil
}

// SetSolo solos or unsolos a track.
func (e *Engine) SetSolo(trackIdx int, solo bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	e.tracks[trackIdx].processor.Solo = solo
	return nil
}

// UnsoloAll clears the solo flag on every track.
func (e *Engine) UnsoloAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tc := range e.tracks {
		tc.processor.Solo = false
	}
}

// UnmuteAll clears the mute flag on every track.
func (e *Engine) UnmuteAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tc := range e.tracks {
		tc.processor.Muted = false
	}
}

// SetVelocityScale sets a track's note-on velocity scale percent.
func (e *Engine) SetVelocityScale(trackIdx, percent int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	e.tracks[trackIdx].processor.VelocityScalePercent = percent
	return nil
}

// SetTranspose sets a track's transpose offset in semitones.
func (e *Engine) SetTranspose(trackIdx, semitones int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	e.tracks[trackIdx].processor.TransposeSemitones = semitones
	return nil
}

// SetRechannelize sets a track's destination channel; channel < 0 leaves
// channel unchanged.
func (e *Engine) SetRechannelize(trackIdx, channel int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	e.tracks[trackIdx].processor.RechannelizeTo = channel
	return nil
}

// SetProcessorHook installs a user-extension hook ahead of the built-in
// per-track transform chain.
func (e *Engine) SetProcessorHook(trackIdx int, hook processor.Hook) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	e.tracks[trackIdx].processor.Hook = hook
	return nil
}

// SetOutPort routes a track's channel/sysex output to portID.
func (e *Engine) SetOutPort(trackIdx, portID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	if !e.ports.IsValidPort(portID) {
		return fmt.Errorf("%w: port %d", seqerr.ErrInvalidPort, portID)
	}
	e.tracks[trackIdx].outPort = portID
	return nil
}

// SetTimeShift sets a track's tick offset, applied only to its channel
// and sysex events, and (re)enables the iterator's time-shift mode.
func (e *Engine) SetTimeShift(trackIdx int, offset midimsg.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkTrackLocked(trackIdx); err != nil {
		return err
	}
	e.timeShiftOffsets[trackIdx] = offset
	e.it.EnableTimeShift(e.timeShiftOffsets)
	return nil
}

// DisableTimeShift turns off time-shift for every track.
func (e *Engine) DisableTimeShift() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.it != nil {
		e.it.DisableTimeShift()
	}
}

// SetThru enables or disables MIDI-thru and configures the channel and
// transpose applied to live input before it is forwarded to the thru
// port (SPEC_FULL.md §4.9). The live input driver itself is outside this
// package's scope; callers feed messages in via ThruInput.
func (e *Engine) SetThru(enabled bool, outChannel, transpose int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thruEnabled = enabled
	e.thruProcessor.RechannelizeTo = outChannel
	e.thruProcessor.TransposeSemitones = transpose
}

// SetThruOutPort routes thru output to portID.
func (e *Engine) SetThruOutPort(portID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ports.IsValidPort(portID) {
		return fmt.Errorf("%w: port %d", seqerr.ErrInvalidPort, portID)
	}
	e.thruOutPort = portID
	return nil
}

// ThruInput pushes a single live input message through the thru
// processor and out the thru port, independent of play/stop state.
func (e *Engine) ThruInput(msg midimsg.TimedMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.thruEnabled {
		return
	}
	out, ok := e.thruProcessor.Process(msg, false, false)
	if !ok {
		return
	}
	if err := e.ports.WriteWithRetry(e.thruOutPort, out); err != nil && e.log != nil {
		e.log.Warn("thru write failed", "err", err)
	}
}
