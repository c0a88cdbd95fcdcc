// Package notematrix tracks per-channel note-on counts and sustain-pedal
// state for a single track, and generates the all-notes-off sequence
// needed to silence it cleanly. Grounded on
// original_source/include/matrix.h's MIDIMatrix.
package notematrix

import "github.com/zurustar/miditrack/pkg/midimsg"

const numChannels = 16
const numNotes = 128

// Matrix counts sounding notes per (channel, note) and tracks the damper
// pedal per channel.
type Matrix struct {
	counts     [numChannels][numNotes]int
	totalOn    [numChannels]int
	damperDown [numChannels]bool
}

// New returns an all-silent matrix.
func New() *Matrix { return &Matrix{} }

// Process updates the matrix from a channel message and reports whether
// the track's "notes sounding" edge changed (silent -> sounding or vice
// versa) as (wasSounding, nowSounding).
func (m *Matrix) Process(msg midimsg.TimedMessage) (wasSounding, nowSounding bool) {
	if !msg.IsChannel() {
		return m.AnySounding(), m.AnySounding()
	}
	ch := msg.Channel()
	wasSounding = m.AnySounding()

	switch {
	case msg.IsNoteOn():
		if m.counts[ch][msg.Note()] == 0 {
			m.totalOn[ch]++
		}
		m.counts[ch][msg.Note()]++
	case msg.IsNoteOff():
		if m.counts[ch][msg.Note()] > 0 {
			m.counts[ch][msg.Note()]--
			if m.counts[ch][msg.Note()] == 0 {
				m.totalOn[ch]--
			}
		}
	case msg.IsControlChange() && msg.Controller() == midimsg.ControllerSustainPedal:
		m.damperDown[ch] = msg.ControllerValue() >= 64
	}

	nowSounding = m.AnySounding()
	return wasSounding, nowSounding
}

// NoteCount returns the number of distinct sounding notes on a channel.
func (m *Matrix) NoteCount(channel byte) int { return m.totalOn[channel] }

// TotalNoteCount returns the sum of sounding note counts across every
// channel.
func (m *Matrix) TotalNoteCount() int {
	total := 0
	for ch := 0; ch < numChannels; ch++ {
		total += m.totalOn[ch]
	}
	return total
}

// AnySounding reports whether any channel has a sounding note.
func (m *Matrix) AnySounding() bool {
	for ch := 0; ch < numChannels; ch++ {
		if m.totalOn[ch] > 0 {
			return true
		}
	}
	return false
}

// DamperDown reports whether the sustain pedal is down on a channel.
func (m *Matrix) DamperDown(channel byte) bool { return m.damperDown[channel] }

// AllNotesOff returns the messages needed to silence every sounding note
// across every channel: an explicit note-off for every (channel, note)
// with a positive count, followed by an all-notes-off (CC 123) and
// damper-off (CC 64 = 0) on every channel that had any note sounding or
// its damper down. It does not mutate the matrix; call Reset afterwards.
func (m *Matrix) AllNotesOff(tick midimsg.Tick) []midimsg.TimedMessage {
	var out []midimsg.TimedMessage
	for ch := 0; ch < numChannels; ch++ {
		touched := m.totalOn[ch] > 0 || m.damperDown[ch]
		for note := 0; note < numNotes; note++ {
			if m.counts[ch][note] > 0 {
				out = append(out, midimsg.NewChannelMessage(midimsg.StatusNoteOff|byte(ch), byte(note), 0, tick))
			}
		}
		if touched {
			out = append(out, midimsg.NewChannelMessage(midimsg.StatusControlChange|byte(ch), midimsg.ControllerAllNotesOff, 0, tick))
			out = append(out, midimsg.NewChannelMessage(midimsg.StatusControlChange|byte(ch), midimsg.ControllerSustainPedal, 0, tick))
		}
	}
	return out
}

// Reset silences the matrix without emitting any messages, used after
// AllNotesOff has been dispatched or when the engine already knows
// hardware state was cleared externally.
func (m *Matrix) Reset() {
	*m = Matrix{}
}
