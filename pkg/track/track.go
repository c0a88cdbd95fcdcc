// Package track implements a single logical voice: an ordered sequence of
// timed MIDI messages with insert/delete/interval edits, an explicit
// end-time, and a lazily-recomputed status summary. Grounded on
// original_source/src/multitrack.cpp's MIDITrack.
package track

import (
	"fmt"
	"sort"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/seqerr"
)

// InsertMode selects how InsertEvent behaves when an event with matching
// status/channel/key already exists at the same tick.
type InsertMode int

const (
	// InsertAppend appends at the equal-time tail, never replacing.
	InsertAppend InsertMode = iota
	// InsertReplace overwrites a matching existing event; fails if none
	// exists.
	InsertReplace
	// InsertOrReplace replaces a matching event if one exists, otherwise
	// appends.
	InsertOrReplace
)

// Track is an ordered sequence of timed messages for one logical voice.
type Track struct {
	events  []midimsg.TimedMessage
	endTime midimsg.Tick

	dirty          bool
	hasChannel     bool
	hasMeta        bool
	uniformChannel int // -1 if none or mixed
	name           string
}

// New returns an empty track.
func New() *Track {
	return &Track{uniformChannel: -1, dirty: false}
}

// Len returns the number of events on the track.
func (t *Track) Len() int { return len(t.events) }

// At returns the event at index i.
func (t *Track) At(i int) midimsg.TimedMessage { return t.events[i] }

// Events returns a copy of the track's event slice, safe for the caller
// to retain.
func (t *Track) Events() []midimsg.TimedMessage {
	out := make([]midimsg.TimedMessage, len(t.events))
	copy(out, t.events)
	return out
}

// EndTime returns the track's explicit end-time, always >= the tick of
// the last event.
func (t *Track) EndTime() midimsg.Tick { return t.endTime }

// SetEndTime sets the end-time explicitly. It fails with ErrBadRange if
// the requested time is before the last event's tick.
func (t *Track) SetEndTime(tick midimsg.Tick) error {
	if n := len(t.events); n > 0 && tick < t.events[n-1].Tick() {
		return fmt.Errorf("%w: end time %d before last event tick %d", seqerr.ErrBadRange, tick, t.events[n-1].Tick())
	}
	t.endTime = tick
	return nil
}

// ShrinkEndTime sets the end-time to the tick of the last event (or 0 if
// empty), the minimal value satisfying the end-time invariant.
func (t *Track) ShrinkEndTime() {
	if n := len(t.events); n > 0 {
		t.endTime = t.events[n-1].Tick()
	} else {
		t.endTime = 0
	}
}

// classPriority orders events at the same tick: meta events, then sysex,
// then program-changes, then the other channel events (so a
// program-change precedes its first note), and within a class insertion
// order (stable sort) is preserved.
func classPriority(m midimsg.TimedMessage) int {
	switch {
	case m.IsMeta():
		return 0
	case m.IsSysex():
		return 1
	case m.IsProgramChange():
		return 2
	default:
		return 3
	}
}

// InsertEvent inserts msg according to mode. InsertAppend places it after
// any existing events at the same tick (and same class); InsertReplace
// overwrites a matching event (same status, channel for channel events,
// note number for note on/off) at the same tick or fails if none exists;
// InsertOrReplace does one or the other.
func (t *Track) InsertEvent(msg midimsg.TimedMessage, mode InsertMode) error {
	if msg.Tick() > t.endTime {
		return fmt.Errorf("%w: event tick %d exceeds end time %d", seqerr.ErrBadRange, msg.Tick(), t.endTime)
	}

	if mode == InsertReplace || mode == InsertOrReplace {
		if idx, ok := t.findMatch(msg); ok {
			t.events[idx] = msg
			t.dirty = true
			return nil
		}
		if mode == InsertReplace {
			return fmt.Errorf("%w: no matching event to replace at tick %d", seqerr.ErrInvalidEdit, msg.Tick())
		}
	}

	// Binary-search the insertion point: ascending tick, then ascending
	// class priority, then after any existing run (stable append).
	pos := sort.Search(len(t.events), func(i int) bool {
		if t.events[i].Tick() != msg.Tick() {
			return t.events[i].Tick() > msg.Tick()
		}
		return classPriority(t.events[i]) > classPriority(msg)
	})
	t.events = append(t.events, midimsg.TimedMessage{})
	copy(t.events[pos+1:], t.events[pos:])
	t.events[pos] = msg
	t.dirty = true
	return nil
}

// findMatch locates an existing event matching msg's identity (status,
// channel if applicable, note/controller/program key if applicable) at
// the same tick.
func (t *Track) findMatch(msg midimsg.TimedMessage) (int, bool) {
	lo := sort.Search(len(t.events), func(i int) bool { return t.events[i].Tick() >= msg.Tick() })
	for i := lo; i < len(t.events) && t.events[i].Tick() == msg.Tick(); i++ {
		if sameIdentity(t.events[i], msg) {
			return i, true
		}
	}
	return -1, false
}

func sameIdentity(a, b midimsg.TimedMessage) bool {
	if a.IsMeta() != b.IsMeta() || a.IsChannel() != b.IsChannel() {
		return false
	}
	if a.IsMeta() {
		return a.MetaType() == b.MetaType()
	}
	if a.IsChannel() {
		if a.Command() != b.Command() || a.Channel() != b.Channel() {
			return false
		}
		switch a.Command() {
		case midimsg.StatusNoteOn, midimsg.StatusNoteOff, midimsg.StatusPolyAftertouch:
			return a.Note() == b.Note()
		case midimsg.StatusControlChange:
			return a.Controller() == b.Controller()
		default:
			return true
		}
	}
	return a.Status() == b.Status()
}

// DeleteEvent removes the first event at msg's tick that matches msg's
// identity (status, channel, and note or controller number where
// applicable; data values are not compared). It fails with ErrInvalidEdit if no such event exists.
func (t *Track) DeleteEvent(msg midimsg.TimedMessage) error {
	lo := sort.Search(len(t.events), func(i int) bool { return t.events[i].Tick() >= msg.Tick() })
	for i := lo; i < len(t.events) && t.events[i].Tick() == msg.Tick(); i++ {
		if sameIdentity(t.events[i], msg) {
			t.events = append(t.events[:i], t.events[i+1:]...)
			t.dirty = true
			return nil
		}
	}
	return fmt.Errorf("%w: no matching event at tick %d", seqerr.ErrInvalidEdit, msg.Tick())
}

// InsertNote inserts a note-on at onMsg's tick and a matching note-off at
// tick+length, guaranteeing later DeleteNote can find the pair.
func (t *Track) InsertNote(onMsg midimsg.TimedMessage, length midimsg.Tick, mode InsertMode) error {
	if !onMsg.IsChannel() || onMsg.Command() != midimsg.StatusNoteOn {
		return fmt.Errorf("%w: InsertNote requires a note-on message", seqerr.ErrInvalidEdit)
	}
	offTick := onMsg.Tick() + length
	if offTick > t.endTime {
		return fmt.Errorf("%w: note-off tick %d exceeds end time %d", seqerr.ErrBadRange, offTick, t.endTime)
	}
	off := midimsg.NewChannelMessage(midimsg.StatusNoteOff|onMsg.Channel(), onMsg.Note(), 0, offTick)
	if err := t.InsertEvent(onMsg, mode); err != nil {
		return err
	}
	return t.InsertEvent(off, InsertAppend)
}

// DeleteNote removes the note-on at onMsg's tick and its paired note-off,
// which is the first note-off (or velocity-0 note-on) for the same
// note/channel at or after onMsg's tick.
func (t *Track) DeleteNote(onMsg midimsg.TimedMessage) error {
	if err := t.DeleteEvent(onMsg); err != nil {
		return err
	}
	for i, ev := range t.events {
		if ev.Tick() < onMsg.Tick() {
			continue
		}
		if ev.IsNoteOff() && ev.IsChannel() && ev.Channel() == onMsg.Channel() && ev.Note() == onMsg.Note() {
			t.events = append(t.events[:i], t.events[i+1:]...)
			t.dirty = true
			return nil
		}
	}
	return fmt.Errorf("%w: no matching note-off found for note %d", seqerr.ErrInvalidEdit, onMsg.Note())
}

// ClearInterval removes all events in [start,end) without altering
// end-time, leaving a gap.
func (t *Track) ClearInterval(start, end midimsg.Tick) error {
	if end < start || end > t.endTime {
		return fmt.Errorf("%w: bad interval [%d,%d) against end time %d", seqerr.ErrBadRange, start, end, t.endTime)
	}
	t.events = removeRange(t.events, start, end)
	t.dirty = true
	return nil
}

// DeleteInterval removes all events in [start,end) and shifts every later
// event left by (end-start), shrinking end-time by the same amount.
func (t *Track) DeleteInterval(start, end midimsg.Tick) error {
	if end < start || end > t.endTime {
		return fmt.Errorf("%w: bad interval [%d,%d) against end time %d", seqerr.ErrBadRange, start, end, t.endTime)
	}
	width := end - start
	kept := removeRange(t.events, start, end)
	for i := range kept {
		if kept[i].Tick() >= end {
			kept[i] = kept[i].WithTick(kept[i].Tick() - width)
		}
	}
	t.events = kept
	t.endTime -= width
	t.dirty = true
	return nil
}

// MakeInterval copies all events in [start,end) (tick-relative to start)
// into dest, which is cleared first.
func (t *Track) MakeInterval(start, end midimsg.Tick, dest *Track) error {
	if end < start || end > t.endTime {
		return fmt.Errorf("%w: bad interval [%d,%d) against end time %d", seqerr.ErrBadRange, start, end, t.endTime)
	}
	dest.events = nil
	dest.dirty = true
	for _, ev := range t.events {
		if ev.Tick() >= start && ev.Tick() < end {
			dest.events = append(dest.events, ev.WithTick(ev.Tick()-start))
		}
	}
	dest.endTime = end - start
	return nil
}

// ReplaceInterval overwrites [start,start+len) with src's events
// (tick-shifted by start), keeping the rest of the track in place. The
// sysex flag is reserved for interop with the sysex-bank-switch
// convention of the original source and currently has no effect beyond
// being threaded through for future use.
func (t *Track) ReplaceInterval(start midimsg.Tick, length midimsg.Tick, sysex bool, src *Track) error {
	end := start + length
	if end > t.endTime {
		return fmt.Errorf("%w: replacement [%d,%d) exceeds end time %d", seqerr.ErrBadRange, start, end, t.endTime)
	}
	kept := removeRange(t.events, start, end)
	for _, ev := range src.events {
		kept = append(kept, ev.WithTick(ev.Tick()+start))
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Tick() != kept[j].Tick() {
			return kept[i].Tick() < kept[j].Tick()
		}
		return classPriority(kept[i]) < classPriority(kept[j])
	})
	t.events = kept
	t.dirty = true
	return nil
}

func removeRange(events []midimsg.TimedMessage, start, end midimsg.Tick) []midimsg.TimedMessage {
	out := events[:0:0]
	for _, ev := range events {
		if ev.Tick() >= start && ev.Tick() < end {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Status summary, recomputed lazily on query.

func (t *Track) recompute() {
	if !t.dirty {
		return
	}
	t.hasChannel = false
	t.hasMeta = false
	ch := -1
	mixed := false
	for _, ev := range t.events {
		switch {
		case ev.IsChannel():
			t.hasChannel = true
			c := int(ev.Channel())
			if ch == -1 {
				ch = c
			} else if ch != c {
				mixed = true
			}
		case ev.IsMeta():
			t.hasMeta = true
			if ev.IsTrackName() {
				if txt, ok := ev.Text(); ok {
					t.name = txt
				}
			}
		}
	}
	if mixed {
		t.uniformChannel = -1
	} else {
		t.uniformChannel = ch
	}
	t.dirty = false
}

// HasChannelEvents reports whether the track carries any channel voice
// message.
func (t *Track) HasChannelEvents() bool { t.recompute(); return t.hasChannel }

// HasMeta reports whether the track carries any meta event.
func (t *Track) HasMeta() bool { t.recompute(); return t.hasMeta }

// UniformChannel returns the single channel present on every channel
// message, or -1 if multiple channels (or none) appear.
func (t *Track) UniformChannel() int { t.recompute(); return t.uniformChannel }

// Name returns the most recently recomputed track-name, or "" if none.
func (t *Track) Name() string { t.recompute(); return t.name }

// Rescale multiplies every event's tick (and the end-time) by
// num/den, rounded to nearest, used when the owning Multi-Track's
// clocks-per-beat changes.
func (t *Track) Rescale(num, den int64) {
	for i := range t.events {
		t.events[i] = t.events[i].WithTick(rescaleTick(t.events[i].Tick(), num, den))
	}
	t.endTime = rescaleTick(t.endTime, num, den)
}

func rescaleTick(tick midimsg.Tick, num, den int64) midimsg.Tick {
	if den == 0 {
		return tick
	}
	scaled := int64(tick)*num + den/2
	if int64(tick)*num < 0 {
		scaled = int64(tick)*num - den/2
	}
	return midimsg.Tick(scaled / den)
}
