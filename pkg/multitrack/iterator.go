package multitrack

import "github.com/zurustar/miditrack/pkg/midimsg"

// Iterator merges a MultiTrack's tracks into a single time-ordered event
// stream. Grounded on original_source/src/multitrack.cpp's
// MIDIMultiTrackIterator: per-track "next" cursors, a winner picked by
// (shifted tick, track index), optional per-track time-shift (applied
// only to channel/sysex events, never meta), and per-track enable gates
// used by millisecond/tick conversion helpers that only want to see
// conductor-bearing tracks.
type Iterator struct {
	mt *MultiTrack

	cursor  []int  // next unread event index per track; len(events) = exhausted
	enabled []bool // per-track scan gate

	timeShiftOn bool
	offset      []midimsg.Tick

	currentTick midimsg.Tick

	cachedWinner int // track index of the cached next event, -1 if stale
}

// NewIterator returns an iterator positioned at tick 0 with every track
// enabled and time-shift disabled.
func NewIterator(mt *MultiTrack) *Iterator {
	it := &Iterator{mt: mt}
	it.Reset()
	return it
}

// Reset rewinds every cursor to the start of its track and sets current
// tick to 0. Enable flags and time-shift configuration are preserved.
func (it *Iterator) Reset() {
	n := it.mt.NumTracks()
	it.cursor = make([]int, n)
	if it.enabled == nil || len(it.enabled) != n {
		it.enabled = make([]bool, n)
		for i := range it.enabled {
			it.enabled[i] = true
		}
	}
	it.currentTick = 0
	it.cachedWinner = -1
}

// SetTrackEnabled gates whether a track contributes events to iteration.
func (it *Iterator) SetTrackEnabled(track int, enabled bool) {
	it.enabled[track] = enabled
	it.cachedWinner = -1
}

// TrackEnabled reports a track's enable gate.
func (it *Iterator) TrackEnabled(track int) bool { return it.enabled[track] }

// EnableTimeShift turns on per-track tick offsets for channel/sysex
// events. offsets must have one entry per track.
func (it *Iterator) EnableTimeShift(offsets []midimsg.Tick) {
	it.offset = make([]midimsg.Tick, len(offsets))
	copy(it.offset, offsets)
	it.timeShiftOn = true
	it.cachedWinner = -1
}

// DisableTimeShift turns off per-track tick offsets; always safe.
func (it *Iterator) DisableTimeShift() {
	it.timeShiftOn = false
	it.cachedWinner = -1
}

// CurrentTick returns the iterator's current position.
func (it *Iterator) CurrentTick() midimsg.Tick { return it.currentTick }

func (it *Iterator) effectiveTick(track int, msg midimsg.TimedMessage) midimsg.Tick {
	if !it.timeShiftOn || track >= len(it.offset) {
		return msg.Tick()
	}
	if msg.IsChannel() || msg.IsSysex() {
		t := msg.Tick() + it.offset[track]
		if t < 0 {
			return 0
		}
		return t
	}
	return msg.Tick()
}

// findWinner scans all non-exhausted enabled tracks for the smallest
// (effective tick, track index) pair. Returns -1 if no track has a
// pending event.
func (it *Iterator) findWinner() int {
	winner := -1
	var winTick midimsg.Tick
	for i := 0; i < it.mt.NumTracks(); i++ {
		if !it.enabled[i] {
			continue
		}
		tr := it.mt.tracks[i]
		if it.cursor[i] >= tr.Len() {
			continue
		}
		tick := it.effectiveTick(i, tr.At(it.cursor[i]))
		if winner == -1 || tick < winTick {
			winner = i
			winTick = tick
		}
	}
	return winner
}

// Peek returns the next event without advancing, or ok=false if every
// enabled track is exhausted.
func (it *Iterator) Peek() (msg midimsg.TimedMessage, trackIndex int, ok bool) {
	if it.cachedWinner == -1 {
		it.cachedWinner = it.findWinner()
	}
	if it.cachedWinner == -1 {
		return midimsg.TimedMessage{}, -1, false
	}
	tr := it.mt.tracks[it.cachedWinner]
	return tr.At(it.cursor[it.cachedWinner]), it.cachedWinner, true
}

// PeekTick returns the effective tick of the next event, or
// midimsg.TimeInfinite if exhausted.
func (it *Iterator) PeekTick() midimsg.Tick {
	msg, trackIndex, ok := it.Peek()
	if !ok {
		return midimsg.TimeInfinite
	}
	return it.effectiveTick(trackIndex, msg)
}

// Next returns the next event and advances the winning track's cursor
// and the iterator's current tick.
func (it *Iterator) Next() (msg midimsg.TimedMessage, trackIndex int, ok bool) {
	msg, trackIndex, ok = it.Peek()
	if !ok {
		return
	}
	it.cursor[trackIndex]++
	it.currentTick = it.effectiveTick(trackIndex, msg)
	it.cachedWinner = -1
	return
}

// SeekToTick resets every track's cursor to its earliest event whose
// effective tick is >= T, then sets current tick to T.
func (it *Iterator) SeekToTick(target midimsg.Tick) {
	for i := 0; i < it.mt.NumTracks(); i++ {
		tr := it.mt.tracks[i]
		idx := 0
		for idx < tr.Len() && it.effectiveTick(i, tr.At(idx)) < target {
			idx++
		}
		it.cursor[i] = idx
	}
	it.currentTick = target
	it.cachedWinner = -1
}

// SetTimeWithoutEvent advances current tick to T without touching any
// cursor, used when no events fall in (now, T].
func (it *Iterator) SetTimeWithoutEvent(t midimsg.Tick) {
	it.currentTick = t
}

// SnapshotCursors returns a copy of the per-track cursor positions, for
// the seek protocol's "scan events at target tick, then restore" idiom.
func (it *Iterator) SnapshotCursors() []int {
	out := make([]int, len(it.cursor))
	copy(out, it.cursor)
	return out
}

// RestoreCursors restores previously snapshotted cursor positions.
func (it *Iterator) RestoreCursors(snapshot []int) {
	copy(it.cursor, snapshot)
	it.cachedWinner = -1
}
