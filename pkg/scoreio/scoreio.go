// Package scoreio is the Standard MIDI File boundary (SPEC_FULL.md §6):
// the ScoreReader/ScoreWriter interfaces the sequencing engine depends on,
// kept deliberately outside pkg/sequencer so the engine never imports a
// byte-level SMF parser directly, plus one concrete pair of adapters,
// SMFReader/SMFWriter, built on gitlab.com/gomidi/midi/v2/smf. Grounded on
// the donor's extractTempoMap/smf.ReadFrom usage and its own manual
// status-byte classification style (pkg/engine/midi_player.go's
// extractMIDIComponents, parseMIDITempo/readVarInt).
package scoreio

import (
	"fmt"
	"io"
	"unicode/utf8"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/multitrack"
	"github.com/zurustar/miditrack/pkg/track"
)

const numMIDIChannels = 16

// ScoreReader loads a score from a byte stream into this module's own
// MultiTrack/TimedMessage representation.
type ScoreReader interface {
	Read(r io.Reader) (*multitrack.MultiTrack, error)
}

// ScoreWriter serializes a MultiTrack back to a byte stream.
type ScoreWriter interface {
	Write(w io.Writer, mt *multitrack.MultiTrack) error
}

// SMFReader is the one concrete ScoreReader: Standard MIDI File 1.0,
// formats 0 and 1. Format 0 (single track, up to 16 channels interleaved)
// is split into 17 tracks on load: track 0 becomes the conductor (every
// non-channel event), tracks 1-16 each receive one MIDI channel's events,
// preserving the per-channel processor independence the rest of this
// module assumes (SPEC_FULL.md §6). Format 1 is read track-for-track,
// track 0 already conventionally the conductor.
type SMFReader struct{}

// Read implements ScoreReader.
func (SMFReader) Read(r io.Reader) (*multitrack.MultiTrack, error) {
	smfData, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("scoreio: parse SMF: %w", err)
	}
	ppq := 480
	if mt, ok := smfData.TimeFormat.(smf.MetricTicks); ok {
		ppq = int(mt)
	}

	if len(smfData.Tracks) == 1 {
		return splitFormat0(smfData.Tracks[0], ppq)
	}
	return readFormat1(smfData.Tracks, ppq)
}

func readFormat1(tracks []smf.Track, ppq int) (*multitrack.MultiTrack, error) {
	mt := multitrack.New(len(tracks), ppq)
	for i, tr := range tracks {
		dst, err := mt.Track(i)
		if err != nil {
			return nil, err
		}
		if err := decodeTrack(tr, dst); err != nil {
			return nil, fmt.Errorf("scoreio: track %d: %w", i, err)
		}
	}
	return mt, nil
}

func decodeTrack(tr smf.Track, dst *track.Track) error {
	total := midimsg.Tick(0)
	for _, ev := range tr {
		total += midimsg.Tick(ev.Delta)
	}
	if err := dst.SetEndTime(total); err != nil {
		return err
	}

	tick := midimsg.Tick(0)
	for _, ev := range tr {
		tick += midimsg.Tick(ev.Delta)
		msg, ok := decodeMessage(ev.Message, tick)
		if !ok || msg.IsEndOfTrack() {
			continue
		}
		if err := dst.InsertEvent(msg, track.InsertAppend); err != nil {
			return err
		}
	}
	return nil
}

func splitFormat0(tr smf.Track, ppq int) (*multitrack.MultiTrack, error) {
	mt := multitrack.New(1+numMIDIChannels, ppq)
	conductor, err := mt.Track(multitrack.ConductorTrack)
	if err != nil {
		return nil, err
	}
	channelTracks := make([]*track.Track, numMIDIChannels)
	for ch := range channelTracks {
		channelTracks[ch], err = mt.Track(ch + 1)
		if err != nil {
			return nil, err
		}
	}

	total := midimsg.Tick(0)
	for _, ev := range tr {
		total += midimsg.Tick(ev.Delta)
	}
	if err := conductor.SetEndTime(total); err != nil {
		return nil, err
	}
	for _, ct := range channelTracks {
		if err := ct.SetEndTime(total); err != nil {
			return nil, err
		}
	}

	tick := midimsg.Tick(0)
	for _, ev := range tr {
		tick += midimsg.Tick(ev.Delta)
		msg, ok := decodeMessage(ev.Message, tick)
		if !ok || msg.IsEndOfTrack() {
			continue
		}
		dst := conductor
		if msg.IsChannel() {
			dst = channelTracks[msg.Channel()]
		}
		if err := dst.InsertEvent(msg, track.InsertAppend); err != nil {
			return nil, err
		}
	}
	return mt, nil
}

// decodeMessage converts one raw smf.Message into this module's
// TimedMessage, classifying by status byte the same way the donor's
// extractMIDIComponents does, and unpacking meta/sysex variable-length
// quantities the same way the donor's parseMIDITempo does by hand.
func decodeMessage(raw smf.Message, tick midimsg.Tick) (midimsg.TimedMessage, bool) {
	b := raw.Bytes()
	if len(b) == 0 {
		return midimsg.TimedMessage{}, false
	}
	status := b[0]

	switch {
	case status == midimsg.StatusMetaEvent:
		if len(b) < 2 {
			return midimsg.TimedMessage{}, false
		}
		metaType := midimsg.MetaType(b[1])
		length, n := readVarInt(b[2:])
		start := 2 + n
		end := start + length
		if end > len(b) {
			end = len(b)
		}
		payload := b[start:end]
		if isTextMeta(metaType) {
			payload = decodeMetaText(payload)
		}
		return midimsg.NewMetaMessage(metaType, payload, tick), true

	case status == midimsg.StatusSysExStart || status == midimsg.StatusSysExEnd:
		length, n := readVarInt(b[1:])
		start := 1 + n
		end := start + length
		if end > len(b) {
			end = len(b)
		}
		return midimsg.NewSysExMessage(b[start:end], status == midimsg.StatusSysExStart, tick), true

	case status >= midimsg.StatusNoteOff && status < midimsg.StatusSysExStart:
		var d1, d2 byte
		if len(b) > 1 {
			d1 = b[1]
		}
		if len(b) > 2 {
			d2 = b[2]
		}
		return midimsg.NewChannelMessage(status, d1, d2, tick), true
	}
	return midimsg.TimedMessage{}, false
}

func isTextMeta(t midimsg.MetaType) bool {
	switch t {
	case midimsg.MetaText, midimsg.MetaCopyright, midimsg.MetaTrackName,
		midimsg.MetaInstrumentName, midimsg.MetaLyric, midimsg.MetaMarker, midimsg.MetaCuePoint:
		return true
	default:
		return false
	}
}

// decodeMetaText auto-detects Shift-JIS in a meta-text payload, a
// well-known MIDI-file-in-the-wild problem for Japanese-authored General
// MIDI files, falling back to the raw bytes unchanged when the payload
// is already valid UTF-8 or fails to decode. Lifted from the donor's own
// Shift-JIS file-I/O idiom (pkg/vm/builtins_fileio.go).
func decodeMetaText(payload []byte) []byte {
	if len(payload) == 0 || utf8.Valid(payload) {
		return payload
	}
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), payload)
	if err != nil {
		return payload
	}
	return decoded
}

// readVarInt reads a MIDI variable-length quantity, mirroring the donor's
// own readVarInt (pkg/engine/midi_player.go).
func readVarInt(data []byte) (int, int) {
	value := 0
	bytesRead := 0
	for i := 0; i < len(data) && i < 4; i++ {
		b := data[i]
		bytesRead++
		value = (value << 7) | int(b&0x7F)
		if b&0x80 == 0 {
			break
		}
	}
	return value, bytesRead
}

func encodeVarInt(v int) []byte {
	if v <= 0 {
		return []byte{0}
	}
	var buf []byte
	for v > 0 {
		buf = append([]byte{byte(v & 0x7F)}, buf...)
		v >>= 7
	}
	for i := 0; i < len(buf)-1; i++ {
		buf[i] |= 0x80
	}
	return buf
}

// SMFWriter is the inverse of SMFReader: serializes a MultiTrack back
// into a format-1 Standard MIDI File. Channel events and the handful of
// meta types gomidi/smf constructs directly (tempo, time signature,
// track name) round-trip through its typed constructors; the remaining
// meta types (key signature, marker, instrument name, generic text) are
// rebuilt as raw bytes, matching the raw-literal meta idiom seen across
// the pack (e.g. a marker event built as smf.Message([]byte{0xFF, 0x06,
// 0x00})). Meta-text payloads are assumed to fit a single-byte
// variable-length quantity (length < 128), true of any realistic marker,
// track, or instrument name.
type SMFWriter struct{}

// Write implements ScoreWriter.
func (SMFWriter) Write(w io.Writer, mt *multitrack.MultiTrack) error {
	out := smf.NewSMF1()
	out.TimeFormat = smf.MetricTicks(mt.ClocksPerBeat())

	for i := 0; i < mt.NumTracks(); i++ {
		tr, err := mt.Track(i)
		if err != nil {
			return err
		}
		var dst smf.Track
		lastTick := midimsg.Tick(0)
		for j := 0; j < tr.Len(); j++ {
			msg := tr.At(j)
			delta := uint32(msg.Tick() - lastTick)
			encoded, ok := encodeMessage(msg)
			if !ok {
				continue
			}
			lastTick = msg.Tick()
			dst.Add(delta, encoded)
		}
		dst.Add(0, smf.EOT)
		out.Add(dst)
	}

	if _, err := out.WriteTo(w); err != nil {
		return fmt.Errorf("scoreio: write SMF: %w", err)
	}
	return nil
}

func encodeMessage(msg midimsg.TimedMessage) (smf.Message, bool) {
	switch {
	case msg.IsNoteOn():
		return smf.Message(midi.NoteOn(msg.Channel(), msg.Note(), msg.Velocity())), true
	case msg.IsNoteOff():
		return smf.Message(midi.NoteOff(msg.Channel(), msg.Note())), true
	case msg.IsControlChange():
		return smf.Message(midi.ControlChange(msg.Channel(), msg.Controller(), msg.ControllerValue())), true
	case msg.IsProgramChange():
		return smf.Message(midi.ProgramChange(msg.Channel(), msg.Program())), true
	case msg.IsPitchBend():
		return smf.Message(midi.Pitchbend(msg.Channel(), int16(msg.Bender()+8192))), true
	case msg.IsTempo():
		if micros, ok := msg.TempoMicrosPerBeat(); ok && micros > 0 {
			bpm := 60000000.0 / float64(micros)
			return smf.Message(smf.MetaTempo(bpm)), true
		}
	case msg.IsTimeSignature():
		if num, den, clocksPerMetro, notated32nd, ok := msg.TimeSignature(); ok {
			denomPow := byte(0)
			for d := den; d > 1; d >>= 1 {
				denomPow++
			}
			return smf.Message(smf.MetaTimeSig(num, denomPow, clocksPerMetro, notated32nd)), true
		}
	case msg.IsTrackName():
		if text, ok := msg.Text(); ok {
			return smf.Message(smf.MetaTrackSequenceName(text)), true
		}
	case msg.IsSysex():
		payload := msg.Payload()
		raw := append([]byte{midimsg.StatusSysExStart}, encodeVarInt(len(payload))...)
		raw = append(raw, payload...)
		return smf.Message(raw), true
	case msg.IsKeySignature(), msg.IsMarkerText(), msg.IsInstrumentName(), msg.IsGenericText():
		return smf.Message(encodeRawMeta(msg)), true
	}
	return nil, false
}

func encodeRawMeta(msg midimsg.TimedMessage) []byte {
	if msg.IsKeySignature() {
		sharpsFlats, mode, _ := msg.KeySignature()
		payload := []byte{byte(sharpsFlats), mode}
		return append([]byte{midimsg.StatusMetaEvent, byte(midimsg.MetaKeySignature), byte(len(payload))}, payload...)
	}

	var metaType byte
	switch {
	case msg.IsMarkerText():
		metaType = byte(midimsg.MetaMarker)
	case msg.IsInstrumentName():
		metaType = byte(midimsg.MetaInstrumentName)
	case msg.IsGenericText():
		metaType = byte(midimsg.MetaText)
	}
	text, _ := msg.Text()
	payload := []byte(text)
	return append([]byte{midimsg.StatusMetaEvent, metaType, byte(len(payload))}, payload...)
}
