// Package processor implements the per-track in-line transform chain
// applied to each event dispatched from a track: an optional user hook,
// mute, solo gate, velocity scale, transpose, and rechannelize. Grounded
// on SPEC_FULL.md §4.3 and the MIDIProcessor chain /
// SetExternalProcessor hook of original_source/include/advancedsequencer.h.
package processor

import "github.com/zurustar/miditrack/pkg/midimsg"

// Hook is a user-extension transform plugged in ahead of the built-in
// chain. Returning false drops the event.
type Hook func(msg midimsg.TimedMessage) bool

// Processor is the composed per-track transform. The zero value is a
// pass-through processor.
type Processor struct {
	Hook Hook

	Muted bool
	Solo  bool

	// VelocityScalePercent multiplies note-on velocity; 100 = no change.
	// Zero means "unset", treated the same as 100.
	VelocityScalePercent int

	// RechannelizeTo is the destination channel (0-15), or -1 to leave
	// the channel unchanged.
	RechannelizeTo int

	// TransposeSemitones is added to note numbers; notes landing outside
	// [0,127] are dropped.
	TransposeSemitones int
}

// New returns a pass-through processor (unmuted, not soloed, no scale,
// transpose, or rechannelize).
func New() *Processor {
	return &Processor{VelocityScalePercent: 100, RechannelizeTo: -1}
}

// Process applies the full chain to msg for a track, given whether any
// track in the score is currently soloed. It returns the transformed
// message and whether it should be forwarded (false = drop).
//
// duringSeekRestore lets the seek protocol's "scan events at this time"
// step force program-changes through even on a muted track, matching
// SPEC_FULL.md §4.3 ("mute... but always let program-change through
// during scan-before seek restore").
func (p *Processor) Process(msg midimsg.TimedMessage, anySoloed, duringSeekRestore bool) (midimsg.TimedMessage, bool) {
	if p.Hook != nil && !p.Hook(msg) {
		return msg, false
	}

	if !msg.IsChannel() {
		return msg, true
	}

	allowProgramThrough := duringSeekRestore && msg.IsProgramChange()

	if p.Muted && !allowProgramThrough {
		return msg, false
	}
	if anySoloed && !p.Solo && !allowProgramThrough {
		return msg, false
	}

	if msg.IsNoteOn() {
		scale := p.VelocityScalePercent
		if scale == 0 {
			scale = 100
		}
		if scale != 100 {
			v := int(msg.Velocity()) * scale / 100
			if v < 1 {
				v = 1
			}
			if v > 127 {
				v = 127
			}
			msg = msg.WithVelocity(v)
		}
	}

	if (msg.IsNoteOn() || msg.IsNoteOff()) && p.TransposeSemitones != 0 {
		n := int(msg.Note()) + p.TransposeSemitones
		if n < 0 || n > 127 {
			return msg, false
		}
		msg = msg.WithNote(byte(n))
	}

	if p.RechannelizeTo >= 0 {
		msg = msg.WithChannel(byte(p.RechannelizeTo))
	}

	return msg, true
}
