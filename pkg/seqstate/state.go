// Package seqstate implements the Sequencer State event-processing
// transition (C7): the authoritative "now" of a playing or scrubbed
// score — current tick/ms/beat/measure, tempo and time/key signature,
// per-track program/controller/bender/note-matrix state, and the beat
// click scheduler. Grounded on SPEC_FULL.md §4.4/§4.7 and
// original_source/include/sequencer.h's MIDISequencerState /
// MIDISequencerTrackState.
package seqstate

import (
	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/notematrix"
	"github.com/zurustar/miditrack/pkg/notify"
)

const numControllers = 128

// ControllerUnset marks a controller slot that has never been set.
const ControllerUnset = -1

// TrackState is the per-track slice of Sequencer State: the last program
// change, the last value seen for each controller, the current pitch
// bend, the note-activity matrix, and the track's display name.
type TrackState struct {
	Program     int
	Controllers [numControllers]int
	Bender      int
	Matrix      *notematrix.Matrix
	Name        string
	HasGoodName bool
	Sounding    bool
}

func newTrackState() *TrackState {
	ts := &TrackState{Program: ControllerUnset, Bender: 0, Matrix: notematrix.New()}
	for i := range ts.Controllers {
		ts.Controllers[i] = ControllerUnset
	}
	return ts
}

// State is the Sequencer State (C7): the full "now" of a score, updated
// one event at a time via Process.
type State struct {
	CurrentTick midimsg.Tick
	CurrentMs   float64

	CurrentBeat    int
	CurrentMeasure int
	BeatLength     int
	BeatsPerMeasure int
	LastBeatTick   midimsg.Tick
	NextBeatTick   midimsg.Tick

	TempoBPM          float64
	TempoScalePercent int
	MsPerClock        float64
	LastTempoChangeMs   float64
	LastTempoChangeTick midimsg.Tick

	TimeSigNumerator   byte
	TimeSigDenominator byte
	ClocksPerMetronome byte

	KeySharpsFlats int8
	KeyMode        byte

	MarkerText string

	Tracks        []*TrackState
	LastEventTrack int

	ClocksPerBeat int
	Metronome     MetronomeMode

	CountInEnabled bool
	CountInPending bool
	CountInElapsed midimsg.Tick

	AutoStopPending bool

	Notifier notify.Notifier
}

// New returns a freshly reset State for a score of numTracks tracks at
// the given PPQ resolution and initial tempo, using notifier (may be nil)
// for UI refresh events.
func New(numTracks, clocksPerBeat int, tempoBPM float64, notifier notify.Notifier) *State {
	s := &State{
		ClocksPerBeat:      clocksPerBeat,
		TempoBPM:           tempoBPM,
		TempoScalePercent:  100,
		TimeSigNumerator:   4,
		TimeSigDenominator: 4,
		ClocksPerMetronome: 24,
		Metronome:          FollowDenominator,
		LastEventTrack:     -1,
		Notifier:           notifier,
	}
	s.Tracks = make([]*TrackState, numTracks)
	for i := range s.Tracks {
		s.Tracks[i] = newTrackState()
	}
	s.recomputeBeatLength()
	s.recomputeMsPerClock()
	return s
}

// Reset reinitializes s as New(numTracks, PPQ, 120, notifier) would,
// keeping PPQ and notifier and taking the track count from numTracks
// (tempo scale and metronome mode return to their defaults). This enforces the invariant
// that len(Tracks) always equals the score's track count (Open Question
// decision (b) in DESIGN.md).
func (s *State) Reset(numTracks int) {
	// 120 BPM is the MIDI default in the absence of an explicit tempo
	// meta event at tick 0 (original_source/include/sequencer.h).
	*s = *New(numTracks, s.ClocksPerBeat, 120, s.Notifier)
}

func (s *State) notify(group notify.Group, item notify.Item, track int) {
	if s.Notifier != nil {
		s.Notifier.Notify(notify.Event{Group: group, Item: item, Track: track})
	}
}

func (s *State) recomputeMsPerClock() {
	scale := float64(s.TempoScalePercent) / 100.0
	if scale <= 0 {
		scale = 1
	}
	denom := s.TempoBPM * scale * float64(s.ClocksPerBeat)
	if denom <= 0 {
		s.MsPerClock = 0
		return
	}
	s.MsPerClock = 60000.0 / denom
}

// SetMetronomeMode changes the beat-length policy and immediately
// recomputes beat length / beats-per-measure from the current time
// signature.
func (s *State) SetMetronomeMode(mode MetronomeMode) {
	s.Metronome = mode
	s.recomputeBeatLength()
}

// SetTempoScale sets the tempo-scale percent (minimum 1, per SPEC_FULL.md
// §6) and recomputes ms-per-clock.
func (s *State) SetTempoScale(percent int) {
	if percent < 1 {
		percent = 1
	}
	s.TempoScalePercent = percent
	s.recomputeMsPerClock()
}

// Clone returns a deep copy of s, used by the seek protocol to snapshot
// state for rollback on failure.
func (s *State) Clone() *State {
	clone := *s
	clone.Tracks = make([]*TrackState, len(s.Tracks))
	for i, ts := range s.Tracks {
		tsCopy := *ts
		matrixCopy := *ts.Matrix
		tsCopy.Matrix = &matrixCopy
		clone.Tracks[i] = &tsCopy
	}
	return &clone
}

func (s *State) recomputeBeatLength() {
	s.BeatLength = BeatLength(s.ClocksPerBeat, s.TimeSigNumerator, s.TimeSigDenominator, s.ClocksPerMetronome, s.Metronome)
	s.BeatsPerMeasure = NumberOfBeats(s.ClocksPerBeat, s.TimeSigNumerator, s.TimeSigDenominator, s.BeatLength)
	if s.BeatsPerMeasure <= 0 {
		s.BeatsPerMeasure = int(s.TimeSigNumerator)
	}
}

// Process is the state-update transition (§4.4). trackIdx identifies
// which track msg came from (ignored for global meta such as tempo,
// time/key signature, and marker text, which apply score-wide). It
// returns true if msg produced an observable state change.
func (s *State) Process(msg midimsg.TimedMessage, trackIdx int) bool {
	// Rule 1: reject no-ops outright.
	if msg.IsNoOp() {
		return false
	}

	// Rule 2: count-in emits beat-markers in place of real playback.
	if s.CountInPending {
		s.CountInElapsed += midimsg.Tick(s.BeatLength)
		s.notify(notify.GroupTransport, notify.ItemBeat, -1)
		if s.CurrentBeat == 0 {
			s.notify(notify.GroupTransport, notify.ItemMeasure, -1)
		}
		return true
	}

	changed := false

	// Rule 3: advance current tick/ms if this event moves time forward.
	if msg.Tick() != s.CurrentTick {
		s.CurrentTick = msg.Tick()
		s.CurrentMs = s.LastTempoChangeMs + float64(s.CurrentTick-s.LastTempoChangeTick)*s.MsPerClock
		changed = true
	}

	switch {
	case msg.IsBeatMarker():
		if s.LastBeatTick != s.NextBeatTick {
			s.CurrentBeat++
			if s.CurrentBeat >= s.BeatsPerMeasure {
				s.CurrentBeat = 0
				s.CurrentMeasure++
			}
		}
		s.LastBeatTick = s.CurrentTick
		s.NextBeatTick += midimsg.Tick(s.BeatLength)
		s.notify(notify.GroupTransport, notify.ItemBeat, -1)
		if s.CurrentBeat == 0 {
			s.notify(notify.GroupTransport, notify.ItemMeasure, -1)
		}
		changed = true

	case msg.IsChannel():
		s.processChannel(msg, trackIdx)
		s.LastEventTrack = trackIdx
		changed = true

	case msg.IsTempo():
		if micros, ok := msg.TempoMicrosPerBeat(); ok && micros > 0 {
			s.TempoBPM = 60000000.0 / float64(micros)
			s.recomputeMsPerClock()
			s.LastTempoChangeTick = s.CurrentTick
			s.LastTempoChangeMs = s.CurrentMs
			s.notify(notify.GroupConductor, notify.ItemTempo, -1)
			changed = true
		}

	case msg.IsTimeSignature():
		if num, den, clocksPerMetro, _, ok := msg.TimeSignature(); ok {
			oldLength := s.BeatLength
			s.TimeSigNumerator = num
			s.TimeSigDenominator = den
			s.ClocksPerMetronome = clocksPerMetro
			s.recomputeBeatLength()
			s.NextBeatTick += midimsg.Tick(s.BeatLength - oldLength)
			s.notify(notify.GroupConductor, notify.ItemTimeSig, -1)
			changed = true
		}

	case msg.IsKeySignature():
		if sharpsFlats, mode, ok := msg.KeySignature(); ok {
			s.KeySharpsFlats = sharpsFlats
			s.KeyMode = mode
			s.notify(notify.GroupConductor, notify.ItemKeySig, -1)
			changed = true
		}

	case msg.IsMarkerText():
		if text, ok := msg.Text(); ok {
			s.MarkerText = text
			s.notify(notify.GroupConductor, notify.ItemMarker, -1)
			changed = true
		}

	case msg.IsTrackName(), msg.IsInstrumentName():
		if text, ok := msg.Text(); ok && trackIdx >= 0 && trackIdx < len(s.Tracks) {
			ts := s.Tracks[trackIdx]
			ts.Name = text
			ts.HasGoodName = true
			s.notify(notify.GroupTrack, notify.ItemName, trackIdx)
			changed = true
		}

	case msg.IsGenericText():
		if text, ok := msg.Text(); ok && msg.Tick() == 0 && trackIdx >= 0 && trackIdx < len(s.Tracks) {
			ts := s.Tracks[trackIdx]
			if !ts.HasGoodName {
				ts.Name = text
				ts.HasGoodName = true
				s.notify(notify.GroupTrack, notify.ItemName, trackIdx)
				changed = true
			}
		}
	}

	return changed
}

func (s *State) processChannel(msg midimsg.TimedMessage, trackIdx int) {
	if trackIdx < 0 || trackIdx >= len(s.Tracks) {
		return
	}
	ts := s.Tracks[trackIdx]

	switch {
	case msg.IsPitchBend():
		ts.Bender = msg.Bender()
	case msg.IsControlChange():
		if int(msg.Controller()) < midimsg.ControllerAllNotesOff {
			ts.Controllers[msg.Controller()] = int(msg.ControllerValue())
		}
	case msg.IsProgramChange():
		ts.Program = int(msg.Program())
	}

	wasSounding, nowSounding := ts.Matrix.Process(msg)
	if wasSounding != nowSounding {
		ts.Sounding = nowSounding
		s.notify(notify.GroupTrack, notify.ItemNote, trackIdx)
	}
}
