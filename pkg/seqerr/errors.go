// Package seqerr defines the sentinel error kinds shared across the
// sequencing engine, in the style of the donor's pkg/vm/audio package
// (ErrNoSoundFont, ErrMIDIFileNotFound, ...): package-level errors.New
// values that call sites wrap with fmt.Errorf("%w: ...") so errors.Is
// keeps working.
package seqerr

import "errors"

var (
	// ErrBadRange is returned when a seek target lies past the end of a
	// bounded score, or an interval edit falls outside a track's bounds.
	ErrBadRange = errors.New("seqerr: value out of range")

	// ErrInvalidTrack is returned for an out-of-range track index.
	ErrInvalidTrack = errors.New("seqerr: invalid track index")

	// ErrInvalidPort is returned when a port id has no registered driver.
	ErrInvalidPort = errors.New("seqerr: invalid port")

	// ErrNoOutputPorts is fatal at engine construction: the engine
	// requires at least one output port.
	ErrNoOutputPorts = errors.New("seqerr: no output ports registered")

	// ErrInvalidEdit is returned when a track edit violates monotonicity
	// or produces a disallowed duplicate.
	ErrInvalidEdit = errors.New("seqerr: invalid edit")

	// ErrDriverBusy is returned (and logged, never propagated to the
	// timer thread) when a driver write exhausts its retry budget.
	ErrDriverBusy = errors.New("seqerr: driver busy")
)
