package sequencer

import (
	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/multitrack"
	"github.com/zurustar/miditrack/pkg/seqstate"
)

// nextScheduled returns whichever comes first: the iterator's next real
// event (at its time-shifted effective tick) or the state's next
// scheduled beat-marker. A tie goes to the beat-marker, so UI beat/measure
// advance visibly precedes the downbeat note (SPEC_FULL.md §5, "Ordering
// guarantees"). The returned message never needs further interpretation
// by the caller: its Tick() is always the effective tick.
func nextScheduled(it *multitrack.Iterator, state *seqstate.State) (msg midimsg.TimedMessage, trackIdx int) {
	realMsg, realTrack, hasReal := it.Peek()
	realTick := midimsg.TimeInfinite
	if hasReal {
		realTick = it.PeekTick()
		realMsg = realMsg.WithTick(realTick)
	}

	beatTick := state.NextBeatTick
	if !hasReal || beatTick <= realTick {
		return midimsg.BeatMarker(beatTick), -1
	}
	return realMsg, realTrack
}

// consumeScheduled commits the event returned by nextScheduled: advances
// the iterator cursor for a real event (trackIdx >= 0) and feeds msg into
// state. A synthetic beat-marker (trackIdx == -1) only ever touches state.
func consumeScheduled(it *multitrack.Iterator, state *seqstate.State, msg midimsg.TimedMessage, trackIdx int) {
	if trackIdx >= 0 {
		it.Next()
	}
	state.Process(msg, trackIdx)
}
