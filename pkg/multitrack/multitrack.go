// Package multitrack owns the ordered vector of tracks that make up a
// score plus its tick resolution, and the iterator that merges them into
// a single time-ordered event stream. Grounded on
// original_source/src/multitrack.cpp's MIDIMultiTrack and
// MIDIMultiTrackIterator.
package multitrack

import (
	"fmt"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/seqerr"
	"github.com/zurustar/miditrack/pkg/track"
)

// ConductorTrack is the conventional index of the track carrying tempo,
// time-signature, key-signature, and marker meta events.
const ConductorTrack = 0

// MultiTrack owns a dense vector of tracks and the clocks-per-beat
// resolution shared by all of them.
type MultiTrack struct {
	tracks        []*track.Track
	clocksPerBeat int
}

// New returns a MultiTrack with n empty tracks at the given resolution.
func New(n int, clocksPerBeat int) *MultiTrack {
	mt := &MultiTrack{clocksPerBeat: clocksPerBeat}
	for i := 0; i < n; i++ {
		mt.tracks = append(mt.tracks, track.New())
	}
	return mt
}

// NumTracks returns the number of tracks.
func (mt *MultiTrack) NumTracks() int { return len(mt.tracks) }

// ClocksPerBeat returns the tick resolution (ticks per quarter note).
func (mt *MultiTrack) ClocksPerBeat() int { return mt.clocksPerBeat }

// Track returns the track at index i, or an error if out of range.
func (mt *MultiTrack) Track(i int) (*track.Track, error) {
	if i < 0 || i >= len(mt.tracks) {
		return nil, fmt.Errorf("%w: track index %d", seqerr.ErrInvalidTrack, i)
	}
	return mt.tracks[i], nil
}

// EndTime returns the maximum end-time across all tracks.
func (mt *MultiTrack) EndTime() midimsg.Tick {
	max := midimsg.Tick(0)
	for _, tr := range mt.tracks {
		if tr.EndTime() > max {
			max = tr.EndTime()
		}
	}
	return max
}

// InsertTrack inserts a new empty track at index i (dense re-indexing of
// later tracks).
func (mt *MultiTrack) InsertTrack(i int) error {
	if i < 0 || i > len(mt.tracks) {
		return fmt.Errorf("%w: track index %d", seqerr.ErrInvalidTrack, i)
	}
	mt.tracks = append(mt.tracks, nil)
	copy(mt.tracks[i+1:], mt.tracks[i:])
	mt.tracks[i] = track.New()
	return nil
}

// DeleteTrack removes the track at index i.
func (mt *MultiTrack) DeleteTrack(i int) error {
	if i < 0 || i >= len(mt.tracks) {
		return fmt.Errorf("%w: track index %d", seqerr.ErrInvalidTrack, i)
	}
	mt.tracks = append(mt.tracks[:i], mt.tracks[i+1:]...)
	return nil
}

// MoveTrack relocates the track at index from to index to, shifting
// intervening tracks.
func (mt *MultiTrack) MoveTrack(from, to int) error {
	if from < 0 || from >= len(mt.tracks) || to < 0 || to >= len(mt.tracks) {
		return fmt.Errorf("%w: move track %d->%d", seqerr.ErrInvalidTrack, from, to)
	}
	tr := mt.tracks[from]
	mt.tracks = append(mt.tracks[:from], mt.tracks[from+1:]...)
	mt.tracks = append(mt.tracks, nil)
	copy(mt.tracks[to+1:], mt.tracks[to:])
	mt.tracks[to] = tr
	return nil
}

// SetClocksPerBeat rescales every event on every track to the new
// resolution, rounded to nearest, and updates the stored resolution.
func (mt *MultiTrack) SetClocksPerBeat(newClocksPerBeat int) {
	if newClocksPerBeat == mt.clocksPerBeat || mt.clocksPerBeat == 0 {
		mt.clocksPerBeat = newClocksPerBeat
		return
	}
	for _, tr := range mt.tracks {
		tr.Rescale(int64(newClocksPerBeat), int64(mt.clocksPerBeat))
	}
	mt.clocksPerBeat = newClocksPerBeat
}

// ClearIntervalAll applies Track.ClearInterval to every track.
func (mt *MultiTrack) ClearIntervalAll(start, end midimsg.Tick) error {
	for _, tr := range mt.tracks {
		if err := tr.ClearInterval(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DeleteIntervalAll applies Track.DeleteInterval to every track.
func (mt *MultiTrack) DeleteIntervalAll(start, end midimsg.Tick) error {
	for _, tr := range mt.tracks {
		if err := tr.DeleteInterval(start, end); err != nil {
			return err
		}
	}
	return nil
}
