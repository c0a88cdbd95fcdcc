package port

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/zurustar/miditrack/pkg/midimsg"
)

// ListOutputs returns the names of every MIDI output port visible to the
// system driver backend registered by the process (see cmd/seqplay,
// which blank-imports gitlab.com/gomidi/midi/v2/drivers/rtmididrv).
// Grounded on other_examples' icco-genidi TUI sequencer's
// refreshMIDIPorts.
func ListOutputs() []string {
	outs := midi.GetOutPorts()
	names := make([]string, len(outs))
	for i, out := range outs {
		names[i] = out.String()
	}
	return names
}

// GomidiDriver adapts one system MIDI output port
// (gitlab.com/gomidi/midi/v2) to the OutputDriver interface, so a
// port.Manager can drive real hardware or a virtual port exactly as it
// drives a test double. Grounded on the same example's selectPort/
// closePort pair and on the donor's smf.Message->midi.Message byte-cast
// idiom (pkg/engine/midi_player.go:419) for messages this package's own
// constructors don't cover (sysex passthrough).
type GomidiDriver struct {
	out  drivers.Out
	send func(msg midi.Message) error
}

// NewGomidiDriverByIndex returns a driver for the index'th output port
// reported by ListOutputs. The returned driver is not yet open; call Open (normally
// via port.Manager.OpenOutPorts) before writing to it.
func NewGomidiDriverByIndex(index int) (*GomidiDriver, error) {
	outs := midi.GetOutPorts()
	if index < 0 || index >= len(outs) {
		return nil, fmt.Errorf("port: no output port at index %d (%d available)", index, len(outs))
	}
	return &GomidiDriver{out: outs[index]}, nil
}

// Open implements OutputDriver.
func (g *GomidiDriver) Open() error {
	send, err := midi.SendTo(g.out)
	if err != nil {
		return fmt.Errorf("port: open %s: %w", g.out.String(), err)
	}
	g.send = send
	return nil
}

// Close implements OutputDriver.
func (g *GomidiDriver) Close() error {
	g.send = nil
	if g.out == nil {
		return nil
	}
	return g.out.Close()
}

// OutputMessage implements OutputDriver.
func (g *GomidiDriver) OutputMessage(msg midimsg.TimedMessage) error {
	if g.send == nil {
		return fmt.Errorf("port: %s not open", g.out.String())
	}
	wire, ok := toMidiMessage(msg)
	if !ok {
		return nil
	}
	return g.send(wire)
}

// AllNotesOff implements OutputDriver: all-notes-off (CC 123) on the
// given channel.
func (g *GomidiDriver) AllNotesOff(channel byte) error {
	if g.send == nil {
		return nil
	}
	return g.send(midi.ControlChange(channel, midimsg.ControllerAllNotesOff, 0))
}

func toMidiMessage(msg midimsg.TimedMessage) (midi.Message, bool) {
	switch {
	case msg.IsNoteOn():
		return midi.NoteOn(msg.Channel(), msg.Note(), msg.Velocity()), true
	case msg.IsNoteOff():
		return midi.NoteOff(msg.Channel(), msg.Note()), true
	case msg.IsControlChange():
		return midi.ControlChange(msg.Channel(), msg.Controller(), msg.ControllerValue()), true
	case msg.IsProgramChange():
		return midi.ProgramChange(msg.Channel(), msg.Program()), true
	case msg.IsPitchBend():
		return midi.Pitchbend(msg.Channel(), int16(msg.Bender()+8192)), true
	case msg.IsSysex():
		payload := msg.Payload()
		wire := make([]byte, 0, len(payload)+1)
		wire = append(wire, msg.Status())
		wire = append(wire, payload...)
		return midi.Message(wire), true
	default:
		return nil, false
	}
}
