package multitrack

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/track"
)

// genScore builds a random MultiTrack of small ascending-tick tracks, used
// to check the universal ordering property (SPEC_FULL.md §8, property 1):
// the iterator's output is weakly increasing in (tick, track index) and
// every event in every enabled track appears exactly once.
func genScore() gopter.Gen {
	return gen.SliceOfN(4, gen.SliceOfN(5, gen.UInt8Range(0, 40))).Map(func(tickDeltas [][]uint8) *MultiTrack {
		mt := New(len(tickDeltas), 480)
		for trackIdx, deltas := range tickDeltas {
			tr, _ := mt.Track(trackIdx)
			tr.SetEndTime(midimsg.Tick(40*len(deltas)) + 1)
			tick := midimsg.Tick(0)
			for i, d := range deltas {
				tick += midimsg.Tick(d)
				note := byte(60 + i%20)
				tr.InsertEvent(noteOn(0, note, tick), track.InsertAppend)
			}
			tr.SetEndTime(tick + 1)
		}
		return mt
	})
}

func TestIteratorOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("iteration is weakly increasing in (tick, track index) and exhaustive", prop.ForAll(
		func(mt *MultiTrack) bool {
			it := NewIterator(mt)
			total := 0
			for i := 0; i < mt.NumTracks(); i++ {
				tr, _ := mt.Track(i)
				total += tr.Len()
			}

			var lastTick midimsg.Tick = -1
			lastTrack := -1
			count := 0
			for {
				msg, trackIdx, ok := it.Next()
				if !ok {
					break
				}
				count++
				if msg.Tick() < lastTick {
					return false
				}
				if msg.Tick() == lastTick && trackIdx < lastTrack {
					return false
				}
				lastTick, lastTrack = msg.Tick(), trackIdx
			}
			return count == total
		},
		genScore(),
	))

	properties.TestingRun(t)
}
