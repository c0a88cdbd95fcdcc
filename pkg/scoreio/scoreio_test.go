package scoreio

import (
	"bytes"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/multitrack"
	"github.com/zurustar/miditrack/pkg/track"
)

// buildScore returns a two-track score (conductor + one note track) at
// 480 PPQ, 120 BPM, 4/4, with two notes, mirroring pkg/sequencer's own
// test fixture so scoreio's round trip is checked against a score the
// rest of the module already trusts.
func buildScore(t *testing.T) *multitrack.MultiTrack {
	t.Helper()
	mt := multitrack.New(2, 480)

	conductor, err := mt.Track(multitrack.ConductorTrack)
	if err != nil {
		t.Fatalf("conductor track: %v", err)
	}
	if err := conductor.SetEndTime(960); err != nil {
		t.Fatalf("set conductor end time: %v", err)
	}
	tempo := midimsg.NewMetaMessage(midimsg.MetaTempo, []byte{0x07, 0xA1, 0x20}, 0) // 500000 us/beat = 120 BPM
	if err := conductor.InsertEvent(tempo, track.InsertAppend); err != nil {
		t.Fatalf("insert tempo: %v", err)
	}
	timeSig := midimsg.NewMetaMessage(midimsg.MetaTimeSignature, []byte{4, 2, 24, 8}, 0)
	if err := conductor.InsertEvent(timeSig, track.InsertAppend); err != nil {
		t.Fatalf("insert time sig: %v", err)
	}
	name := midimsg.NewMetaMessage(midimsg.MetaTrackName, []byte("Conductor"), 0)
	if err := conductor.InsertEvent(name, track.InsertAppend); err != nil {
		t.Fatalf("insert track name: %v", err)
	}

	notes, err := mt.Track(1)
	if err != nil {
		t.Fatalf("notes track: %v", err)
	}
	if err := notes.SetEndTime(960); err != nil {
		t.Fatalf("set notes end time: %v", err)
	}
	on1 := midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0)
	if err := notes.InsertNote(on1, 240, track.InsertAppend); err != nil {
		t.Fatalf("insert note 1: %v", err)
	}
	on2 := midimsg.NewChannelMessage(midimsg.StatusNoteOn, 64, 100, 480)
	if err := notes.InsertNote(on2, 240, track.InsertAppend); err != nil {
		t.Fatalf("insert note 2: %v", err)
	}

	return mt
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	mt := buildScore(t)

	var buf bytes.Buffer
	if err := (SMFWriter{}).Write(&buf, mt); err != nil {
		t.Fatalf("Write: %v", err)
	}

	back, err := (SMFReader{}).Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if back.NumTracks() != mt.NumTracks() {
		t.Fatalf("NumTracks = %d; want %d", back.NumTracks(), mt.NumTracks())
	}
	if back.ClocksPerBeat() != mt.ClocksPerBeat() {
		t.Fatalf("ClocksPerBeat = %d; want %d", back.ClocksPerBeat(), mt.ClocksPerBeat())
	}

	conductor, err := back.Track(multitrack.ConductorTrack)
	if err != nil {
		t.Fatalf("conductor track: %v", err)
	}
	var sawTempo, sawTimeSig bool
	for i := 0; i < conductor.Len(); i++ {
		msg := conductor.At(i)
		if msg.IsTempo() {
			sawTempo = true
			if micros, ok := msg.TempoMicrosPerBeat(); !ok || micros != 500000 {
				t.Fatalf("TempoMicrosPerBeat = %d, %v; want 500000, true", micros, ok)
			}
		}
		if msg.IsTimeSignature() {
			sawTimeSig = true
			num, den, _, _, ok := msg.TimeSignature()
			if !ok || num != 4 || den != 4 {
				t.Fatalf("TimeSignature = %d/%d, %v; want 4/4, true", num, den, ok)
			}
		}
	}
	if !sawTempo {
		t.Fatal("round trip lost the tempo meta event")
	}
	if !sawTimeSig {
		t.Fatal("round trip lost the time signature meta event")
	}

	notes, err := back.Track(1)
	if err != nil {
		t.Fatalf("notes track: %v", err)
	}
	noteOns := 0
	for i := 0; i < notes.Len(); i++ {
		if notes.At(i).IsNoteOn() {
			noteOns++
		}
	}
	if noteOns != 2 {
		t.Fatalf("round trip note-on count = %d; want 2", noteOns)
	}
}

func TestDecodeMessageClassifiesChannelMeta(t *testing.T) {
	metaBytes := []byte{midimsg.StatusMetaEvent, 0x51, 3, 0x07, 0xA1, 0x20}
	tempo, ok := decodeMessage(smf.Message(metaBytes), 0)
	if !ok || !tempo.IsTempo() {
		t.Fatalf("expected a decoded tempo meta event, got ok=%v msg=%+v", ok, tempo)
	}

	noteOn, ok := decodeMessage(smf.Message([]byte{midimsg.StatusNoteOn | 0x02, 60, 100}), 120)
	if !ok || !noteOn.IsNoteOn() || noteOn.Channel() != 2 {
		t.Fatalf("expected channel-2 note-on, got ok=%v msg=%+v", ok, noteOn)
	}
	if noteOn.Tick() != 120 {
		t.Fatalf("Tick() = %d; want 120", noteOn.Tick())
	}
}

func TestDecodeMetaTextLeavesASCIIUnchanged(t *testing.T) {
	ascii := decodeMetaText([]byte("Piano"))
	if string(ascii) != "Piano" {
		t.Fatalf("decodeMetaText(ascii) = %q; want Piano", ascii)
	}
}
