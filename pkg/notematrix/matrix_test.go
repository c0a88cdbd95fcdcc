package notematrix

import "github.com/zurustar/miditrack/pkg/midimsg"
import "testing"

func TestNoteOnOffCounting(t *testing.T) {
	m := New()
	_, sounding := m.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0))
	if !sounding {
		t.Fatal("expected sounding after note-on")
	}
	if m.NoteCount(0) != 1 {
		t.Fatalf("expected 1 sounding note, got %d", m.NoteCount(0))
	}

	was, now := m.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOff, 60, 0, 0))
	if !was || now {
		t.Fatalf("expected sounding edge to fall, was=%v now=%v", was, now)
	}
}

func TestVelocityZeroNoteOnActsAsNoteOff(t *testing.T) {
	m := New()
	m.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0))
	_, now := m.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 0, 0))
	if now {
		t.Fatal("expected velocity-0 note-on to silence the note")
	}
}

func TestAllNotesOffCoversEveryChannel(t *testing.T) {
	m := New()
	m.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0))
	m.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOn|0x01, 62, 100, 0))

	msgs := m.AllNotesOff(500)
	if len(msgs) != 6 { // 2 note-offs + (all-notes-off + damper-off) per touched channel
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.Tick() != 500 {
			t.Errorf("expected all messages at tick 500, got %d", msg.Tick())
		}
	}
}

func TestDamperPedal(t *testing.T) {
	m := New()
	m.Process(midimsg.NewChannelMessage(midimsg.StatusControlChange, midimsg.ControllerSustainPedal, 127, 0))
	if !m.DamperDown(0) {
		t.Fatal("expected damper down")
	}
	m.Process(midimsg.NewChannelMessage(midimsg.StatusControlChange, midimsg.ControllerSustainPedal, 0, 0))
	if m.DamperDown(0) {
		t.Fatal("expected damper up")
	}
}
