package sequencer

import (
	"sync"
	"testing"
	"time"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/multitrack"
	"github.com/zurustar/miditrack/pkg/notify"
	"github.com/zurustar/miditrack/pkg/seqstate"
	"github.com/zurustar/miditrack/pkg/tickcomp"
	"github.com/zurustar/miditrack/pkg/track"
)

// eventRecorder is a mutex-guarded notify.Notifier, needed whenever a test
// reads notifications from a goroutine other than the one that produced
// them (the real tickcomp.Framework timer thread here).
type eventRecorder struct {
	mu      sync.Mutex
	enabled bool
	events  []notify.Event
}

func newEventRecorder() *eventRecorder { return &eventRecorder{enabled: true} }

func (r *eventRecorder) Notify(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		r.events = append(r.events, ev)
	}
}
func (r *eventRecorder) SetEnable(enabled bool) { r.mu.Lock(); r.enabled = enabled; r.mu.Unlock() }
func (r *eventRecorder) GetEnable() bool        { r.mu.Lock(); defer r.mu.Unlock(); return r.enabled }
func (r *eventRecorder) snapshot() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Event, len(r.events))
	copy(out, r.events)
	return out
}

// buildSingleNoteScore returns a minimal score at a low PPQ so scenario S1
// plays out in well under a second of real wall-clock time: one note on
// the only non-conductor track, ending shortly after its note-off.
func buildSingleNoteScore(t *testing.T, ppq int) *multitrack.MultiTrack {
	t.Helper()
	mt := multitrack.New(2, ppq)

	conductor, err := mt.Track(multitrack.ConductorTrack)
	if err != nil {
		t.Fatalf("conductor track: %v", err)
	}
	end := midimsg.Tick(ppq * 4)
	if err := conductor.SetEndTime(end); err != nil {
		t.Fatalf("set conductor end time: %v", err)
	}
	tempo := midimsg.NewMetaMessage(midimsg.MetaTempo, []byte{0x07, 0xA1, 0x20}, 0) // 120 BPM
	if err := conductor.InsertEvent(tempo, track.InsertAppend); err != nil {
		t.Fatalf("insert tempo: %v", err)
	}

	notes, err := mt.Track(1)
	if err != nil {
		t.Fatalf("notes track: %v", err)
	}
	if err := notes.SetEndTime(end); err != nil {
		t.Fatalf("set notes end time: %v", err)
	}
	on := midimsg.NewChannelMessage(midimsg.StatusNoteOn, 60, 100, 0)
	if err := notes.InsertNote(on, midimsg.Tick(ppq/2), track.InsertAppend); err != nil {
		t.Fatalf("insert note: %v", err)
	}
	return mt
}

// TestTickDrivesPlaybackThroughRealClock exercises the dispatch loop,
// auto-stop, and count-in-skip paths of the playback tick end to end: a
// real tickcomp.Framework timer thread invokes Engine.tick on its own
// goroutine, exactly as cmd/seqplay drives it, with no test ever calling
// tick directly. This matches scenario S1: a single note plays and the
// engine auto-stops once no real events remain.
func TestTickDrivesPlaybackThroughRealClock(t *testing.T) {
	ports := newFakePorts(2)
	clock := tickcomp.New(time.Millisecond, nil)
	e, err := NewEngine(ports, clock, Options{PlayMode: PlayBounded, Metronome: seqstate.FollowDenominator})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	mt := buildSingleNoteScore(t, 24) // 24 PPQ, 120 BPM -> ~20.8ms/tick
	if err := e.Load(mt); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := e.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Playing() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if e.Playing() {
		t.Fatal("engine never auto-stopped within the deadline")
	}

	var sawNoteOn, sawNoteOff bool
	for _, msg := range ports.writtenSnapshot() {
		if msg.IsNoteOn() {
			sawNoteOn = true
		}
		if msg.IsNoteOff() {
			sawNoteOff = true
		}
	}
	if !sawNoteOn || !sawNoteOff {
		t.Fatalf("expected both a dispatched note-on and note-off via the real timer, got note-on=%v note-off=%v (%d messages)",
			sawNoteOn, sawNoteOff, ports.writtenLen())
	}
}

// buildLoopScore returns a four-measure score (measure length = 4*ppq
// ticks) with a distinct note in each of its first three measures, so a
// loop [1,3) can be distinguished by note number across repetitions.
func buildLoopScore(t *testing.T, ppq int) *multitrack.MultiTrack {
	t.Helper()
	mt := multitrack.New(2, ppq)
	measure := midimsg.Tick(ppq * 4)
	end := measure * 4

	conductor, err := mt.Track(multitrack.ConductorTrack)
	if err != nil {
		t.Fatalf("conductor track: %v", err)
	}
	if err := conductor.SetEndTime(end); err != nil {
		t.Fatalf("set conductor end time: %v", err)
	}
	tempo := midimsg.NewMetaMessage(midimsg.MetaTempo, []byte{0x07, 0xA1, 0x20}, 0) // 120 BPM
	if err := conductor.InsertEvent(tempo, track.InsertAppend); err != nil {
		t.Fatalf("insert tempo: %v", err)
	}

	notes, err := mt.Track(1)
	if err != nil {
		t.Fatalf("notes track: %v", err)
	}
	if err := notes.SetEndTime(end); err != nil {
		t.Fatalf("set notes end time: %v", err)
	}
	for i, note := range []byte{60, 61, 62} {
		onTick := measure*midimsg.Tick(i) + 2
		on := midimsg.NewChannelMessage(midimsg.StatusNoteOn, note, 100, onTick)
		if err := notes.InsertNote(on, 2, track.InsertAppend); err != nil {
			t.Fatalf("insert note %d: %v", note, err)
		}
	}
	return mt
}

// TestLoopClosureRepeatsMeasureRange exercises scenario S4/property 5:
// with loop [1,3) armed, playback covers measures 0,1,2,1,2,... with an
// all-notes-off between each 2->1 transition.
func TestLoopClosureRepeatsMeasureRange(t *testing.T) {
	ports := newFakePorts(2)
	clock := tickcomp.New(time.Millisecond, nil)
	e, err := NewEngine(ports, clock, Options{PlayMode: PlayBounded, Metronome: seqstate.FollowDenominator})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	mt := buildLoopScore(t, 16) // measure = 64 ticks
	if err := e.Load(mt); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := e.SetLoop(true, 1, 3); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	if err := e.SetTempoScale(2000); err != nil { // 20x speed: ~100ms/measure
		t.Fatalf("SetTempoScale: %v", err)
	}
	if err := e.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	noteOns := func() []byte {
		var notes []byte
		for _, msg := range ports.writtenSnapshot() {
			if msg.IsNoteOn() {
				notes = append(notes, msg.Note())
			}
		}
		return notes
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(noteOns()) < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	notes := noteOns()
	if len(notes) < 5 {
		t.Fatalf("expected at least 5 repeated note-ons (measures 0,1,2,1,2), got %v", notes)
	}
	if ports.allNotesOffCount() < 2 {
		t.Fatalf("expected at least 2 loop-closure all-notes-off barriers, got %d", ports.allNotesOffCount())
	}
	want := []byte{60, 61, 62, 61, 62}
	for i, n := range want {
		if notes[i] != n {
			t.Fatalf("note-on sequence = %v; want prefix %v", notes, want)
		}
	}
}

func (p *fakePorts) allNotesOffCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allNotesOffCalls
}

// TestCountInDelaysFirstAudibleEvent exercises property 6:
// with count-in enabled, the first audible event is held back until one
// full measure of silent beat-marker count-in has elapsed.
func TestCountInDelaysFirstAudibleEvent(t *testing.T) {
	ports := newFakePorts(2)
	clock := tickcomp.New(time.Millisecond, nil)
	rec := newEventRecorder()
	e, err := NewEngine(ports, clock, Options{
		PlayMode:       PlayBounded,
		CountInEnabled: true,
		Metronome:      seqstate.FollowDenominator,
		Notifier:       rec,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	mt := buildSingleNoteScore(t, 24)
	if err := e.Load(mt); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := e.SetTempoScale(1000); err != nil { // 10x speed: ~200ms count-in
		t.Fatalf("SetTempoScale: %v", err)
	}

	start := time.Now()
	if err := e.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ports.writtenLen() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	elapsed := time.Since(start)
	if ports.writtenLen() == 0 {
		t.Fatal("no audible event dispatched within the deadline")
	}
	if elapsed < 150*time.Millisecond {
		t.Fatalf("first audible event arrived after only %v; count-in should hold it back roughly 200ms", elapsed)
	}

	beatsBeforeStart := 0
	sawStart := false
	for _, ev := range rec.snapshot() {
		if ev.Group == notify.GroupTransport && ev.Item == notify.ItemStart {
			sawStart = true
			break
		}
		if ev.Group == notify.GroupTransport && ev.Item == notify.ItemBeat {
			beatsBeforeStart++
		}
	}
	if !sawStart {
		t.Fatal("expected an ItemStart notification once count-in completes")
	}
	if beatsBeforeStart == 0 || beatsBeforeStart > 4 {
		t.Fatalf("expected one measure's worth (1-4) of beat-marker notifications before playback start, got %d", beatsBeforeStart)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
