package notify

import "testing"

func TestSinkForwardsWhenEnabled(t *testing.T) {
	var got []Event
	s := NewSink(func(ev Event) { got = append(got, ev) })

	s.Notify(Event{Group: GroupTransport, Item: ItemStart, Track: -1})
	if len(got) != 1 || got[0].Item != ItemStart {
		t.Fatalf("expected one forwarded event, got %+v", got)
	}
}

func TestSinkSuppressesWhenDisabled(t *testing.T) {
	var calls int
	s := NewSink(func(Event) { calls++ })
	s.SetEnable(false)

	s.Notify(Event{Group: GroupTrack, Item: ItemNote, Track: 2})
	if calls != 0 {
		t.Fatalf("expected suppressed delivery, got %d calls", calls)
	}
	if s.GetEnable() {
		t.Fatal("expected GetEnable to report false")
	}

	s.SetEnable(true)
	s.Notify(Event{Group: GroupTrack, Item: ItemNote, Track: 2})
	if calls != 1 {
		t.Fatalf("expected delivery after re-enable, got %d calls", calls)
	}
}

func TestNilCallbackDoesNotPanic(t *testing.T) {
	s := NewSink(nil)
	s.Notify(Event{Group: GroupAll})
}
