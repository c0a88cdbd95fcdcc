package processor

import "testing"
import "github.com/zurustar/miditrack/pkg/midimsg"

func TestMuteDropsChannelMessages(t *testing.T) {
	p := New()
	p.Muted = true
	_, ok := p.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0), false, false)
	if ok {
		t.Fatal("expected muted track to drop channel message")
	}
}

func TestSoloPrecedenceOverMute(t *testing.T) {
	muted := New()
	muted.Muted = true
	soloed := New()
	soloed.Solo = true
	neither := New()

	msg := midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0)

	if _, ok := muted.Process(msg, true, false); ok {
		t.Error("expected muted+non-soloed track dropped when any track is soloed")
	}
	if _, ok := soloed.Process(msg, true, false); !ok {
		t.Error("expected soloed track to pass")
	}
	if _, ok := neither.Process(msg, true, false); ok {
		t.Error("expected non-soloed, non-muted track dropped when some other track is soloed")
	}
}

func TestMuteStillAllowsProgramChangeDuringSeekRestore(t *testing.T) {
	p := New()
	p.Muted = true
	msg := midimsg.NewChannelMessage(midimsg.StatusProgramChange, 25, 0, 0)
	_, ok := p.Process(msg, false, true)
	if !ok {
		t.Fatal("expected program-change through muted track during seek restore")
	}
}

func TestVelocityScaleClamps(t *testing.T) {
	p := New()
	p.VelocityScalePercent = 10
	msg := midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 5, 0)
	out, ok := p.Process(msg, false, false)
	if !ok {
		t.Fatal("expected note-on to pass")
	}
	if out.Velocity() != 1 {
		t.Errorf("expected velocity clamped to 1, got %d", out.Velocity())
	}
}

func TestZeroVelocityNoteOnForwardedUnscaled(t *testing.T) {
	p := New()
	p.VelocityScalePercent = 200
	msg := midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 0, 0)
	out, ok := p.Process(msg, false, false)
	if !ok || out.Velocity() != 0 {
		t.Fatalf("expected velocity-0 note-on forwarded as-is, got velocity=%d ok=%v", out.Velocity(), ok)
	}
}

func TestTransposeDropsOutOfRange(t *testing.T) {
	p := New()
	p.TransposeSemitones = -200
	msg := midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0)
	_, ok := p.Process(msg, false, false)
	if ok {
		t.Fatal("expected out-of-range transposed note dropped")
	}
}

func TestRechannelize(t *testing.T) {
	p := New()
	p.RechannelizeTo = 9
	msg := midimsg.NewChannelMessage(midimsg.StatusNoteOn|0x02, 60, 100, 0)
	out, ok := p.Process(msg, false, false)
	if !ok || out.Channel() != 9 {
		t.Fatalf("expected rechannelized to 9, got channel=%d ok=%v", out.Channel(), ok)
	}
}

func TestHookCanDropEvent(t *testing.T) {
	p := New()
	p.Hook = func(midimsg.TimedMessage) bool { return false }
	_, ok := p.Process(midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0), false, false)
	if ok {
		t.Fatal("expected hook to drop event")
	}
}
