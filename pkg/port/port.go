// Package port defines the hardware driver abstraction (§6) and the
// process-wide Port Manager (C11) that maps port indices to output
// driver handles, with reference-counted open/close and an all-notes-off
// broadcast. Grounded on original_source/include/driver.h's MIDIManager
// and MIDIOutDriver, generalized per SPEC_FULL.md §9 ("Global state") to
// an explicit process-scoped context rather than a static singleton.
package port

import (
	"fmt"
	"sync"

	"github.com/zurustar/miditrack/pkg/midimsg"
	"github.com/zurustar/miditrack/pkg/seqerr"
)

// DriverMaxRetries bounds how many times a single hot-path write is
// retried before the message is dropped and ErrDriverBusy is returned to
// the caller (never propagated beyond logging on the timer thread; see
// SPEC_FULL.md §7).
const DriverMaxRetries = 100

// OutputDriver is the hardware output abstraction: open/close a physical
// or virtual port, write a single MIDI message, and broadcast
// all-notes-off on a channel (used both by the engine's note-matrix path
// and as a hardware-level fallback).
type OutputDriver interface {
	Open() error
	Close() error
	OutputMessage(msg midimsg.TimedMessage) error
	AllNotesOff(channel byte) error
}

// InputDriver is the hardware input abstraction used by the external
// thru/recorder collaborator: it delivers bytes via a callback pushing
// into a bounded ring queue, keyed by (system ms, bytes, port id).
type InputDriver interface {
	Open() error
	Close() error
	SetCallback(cb func(sysMs int64, msg midimsg.TimedMessage, portID int))
}

// Manager is the process-wide registry mapping port indices to output
// driver handles. It is not a package-level singleton: callers construct
// one explicitly at startup (SPEC_FULL.md §9) and pass it to
// sequencer.NewEngine.
type Manager struct {
	mu       sync.Mutex
	outs     []OutputDriver
	ins      []InputDriver
	refCount []int
}

// NewManager returns a Manager registered with the given output drivers
// (index = port id) and, optionally, input drivers.
func NewManager(outs []OutputDriver, ins []InputDriver) *Manager {
	return &Manager{outs: outs, ins: ins, refCount: make([]int, len(outs))}
}

// NumOuts returns the number of registered output ports.
func (m *Manager) NumOuts() int { return len(m.outs) }

// NumIns returns the number of registered input ports.
func (m *Manager) NumIns() int { return len(m.ins) }

// IsValidPort reports whether id names a registered output port.
func (m *Manager) IsValidPort(id int) bool { return id >= 0 && id < len(m.outs) }

// OutDriver returns the output driver for id, or an error if invalid.
func (m *Manager) OutDriver(id int) (OutputDriver, error) {
	if !m.IsValidPort(id) {
		return nil, fmt.Errorf("%w: port %d", seqerr.ErrInvalidPort, id)
	}
	return m.outs[id], nil
}

// OpenOutPorts opens every registered output port with reference
// counting: a port already open (refCount > 0) is not reopened.
func (m *Manager) OpenOutPorts() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.outs {
		if m.refCount[i] == 0 {
			if err := d.Open(); err != nil {
				return fmt.Errorf("open port %d: %w", i, err)
			}
		}
		m.refCount[i]++
	}
	return nil
}

// CloseOutPorts decrements every port's reference count, closing any
// that reach zero.
func (m *Manager) CloseOutPorts() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for i, d := range m.outs {
		if m.refCount[i] == 0 {
			continue
		}
		m.refCount[i]--
		if m.refCount[i] == 0 {
			if err := d.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close port %d: %w", i, err)
			}
		}
	}
	return firstErr
}

// AllNotesOff broadcasts all-notes-off (every channel) to every open
// output port. Write failures are collected but do not stop the
// broadcast, since silencing as many channels as possible matters more
// than any single failure.
func (m *Manager) AllNotesOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for i, d := range m.outs {
		if m.refCount[i] == 0 {
			continue
		}
		for ch := byte(0); ch < 16; ch++ {
			if err := d.AllNotesOff(ch); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("all-notes-off port %d channel %d: %w", i, ch, err)
			}
		}
	}
	return firstErr
}

// WriteWithRetry writes msg to port id, retrying up to DriverMaxRetries
// times. It never panics or blocks unboundedly; on exhaustion it returns
// ErrDriverBusy so the caller can log-and-drop per SPEC_FULL.md §7.
func (m *Manager) WriteWithRetry(id int, msg midimsg.TimedMessage) error {
	d, err := m.OutDriver(id)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < DriverMaxRetries; attempt++ {
		if lastErr = d.OutputMessage(msg); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: port %d after %d attempts: %v", seqerr.ErrDriverBusy, id, DriverMaxRetries, lastErr)
}
