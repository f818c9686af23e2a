// Package fsm implements the per-station unloading-cycle state machine.
// The machine is pure: it does no I/O, never fails, and every (state, signal)
// pair has a defined outcome. Both cameras must agree before any edge is
// taken, which rejects single-sensor false positives.
package fsm

import "time"

const (
	// DefaultDebounce is the minimum dwell after a transition before the
	// next one is accepted. Filters single-frame misclassification.
	DefaultDebounce = 2 * time.Second

	// Image4Dwell is how long the machine must sit in DUMPING_ACTIVE before
	// the fourth capture becomes due.
	Image4Dwell = 6 * time.Second

	// LiftPercentage is the minimum cane coverage required alongside the
	// lifting signal to leave TRUCK_IN.
	LiftPercentage = 90
)

// Machine tracks one station's unload cycle. Not safe for concurrent use;
// the owning station drives it strictly sequentially.
type Machine struct {
	dumpID     int
	state      DumpState
	lastChange time.Time
	captured   [SlotCount]bool
	debounce   time.Duration

	now func() time.Time
}

// NewMachine returns a machine in EMPTY_IDLE with the default debounce.
func NewMachine(dumpID int) *Machine {
	return NewMachineWithClock(dumpID, time.Now)
}

// NewMachineWithClock is NewMachine with an injected time source.
func NewMachineWithClock(dumpID int, clock func() time.Time) *Machine {
	m := &Machine{
		dumpID:   dumpID,
		state:    EmptyIdle,
		debounce: DefaultDebounce,
		now:      clock,
	}
	m.lastChange = m.now()
	return m
}

// DumpID returns the owning station's identifier.
func (m *Machine) DumpID() int { return m.dumpID }

// State returns the current cycle state.
func (m *Machine) State() DumpState { return m.state }

// TimeInState reports how long the machine has held the current state.
func (m *Machine) TimeInState() time.Duration {
	return m.now().Sub(m.lastChange)
}

// Next evaluates one tick of signals and returns the edge the machine would
// take, without taking it. Within the debounce window there is no edge. The
// split from Commit lets the caller run side effects for the edge first and
// retry it on a later tick if they fail.
func (m *Machine) Next(front FrontSignals, top TopSignals) (DumpState, bool) {
	if m.now().Sub(m.lastChange) < m.debounce {
		return m.state, false
	}

	if top.CanePercentage < 0 {
		top.CanePercentage = 0
	} else if top.CanePercentage > 100 {
		top.CanePercentage = 100
	}

	switch m.state {
	case EmptyIdle:
		if front.TruckDetected && top.CaneDetected {
			return TruckIn, true
		}
	case TruckIn:
		if front.Lifting && top.CanePercentage >= LiftPercentage {
			return DumpLift, true
		}
	case DumpLift:
		if front.LiftMax && top.Dumping {
			return DumpingActive, true
		}
	case DumpingActive:
		if front.LiftMax && !top.CaneDetected {
			return DumpingEmpty, true
		}
	case DumpingEmpty:
		if front.Lowering && !top.CaneDetected {
			return DumpDown, true
		}
	case DumpDown:
		if front.TruckDetected && !top.CaneDetected {
			return TruckOut, true
		}
	case TruckOut:
		if !front.TruckDetected && !top.CaneDetected {
			return EmptyReset, true
		}
	case EmptyReset:
		// Auto-reset on the next accepted tick regardless of signals.
		return EmptyIdle, true
	}

	return m.state, false
}

// Commit takes an edge previously returned by Next and restarts the debounce
// window from now.
func (m *Machine) Commit(next DumpState) {
	m.state = next
	m.lastChange = m.now()
	if next == EmptyIdle {
		m.captured = [SlotCount]bool{}
	}
}

// Update is Next followed by Commit; it reports whether a transition was
// taken. Two qualifying signal sets inside the debounce window yield at most
// one transition.
func (m *Machine) Update(front FrontSignals, top TopSignals) bool {
	next, ok := m.Next(front, top)
	if ok {
		m.Commit(next)
	}
	return ok
}

// NextCapture returns the next unfulfilled image requirement for the current
// state. IMAGE_4 only becomes due after the machine has dwelled in
// DUMPING_ACTIVE for Image4Dwell.
func (m *Machine) NextCapture() (ImageSlot, bool) {
	switch m.state {
	case TruckIn:
		if !m.captured[Image1] {
			return Image1, true
		}
	case DumpLift:
		if !m.captured[Image2] {
			return Image2, true
		}
	case DumpingActive:
		if !m.captured[Image3] {
			return Image3, true
		}
		if !m.captured[Image4] && m.TimeInState() >= Image4Dwell {
			return Image4, true
		}
	}
	return 0, false
}

// MarkCaptured records fulfillment of a slot. Idempotent; out-of-range slots
// are ignored.
func (m *Machine) MarkCaptured(slot ImageSlot) {
	if slot < Image1 || slot > Image4 {
		return
	}
	m.captured[slot] = true
}

// Captured reports whether a slot has been fulfilled this cycle.
func (m *Machine) Captured(slot ImageSlot) bool {
	if slot < Image1 || slot > Image4 {
		return false
	}
	return m.captured[slot]
}

// CapturedCount returns how many of the four slots are fulfilled.
func (m *Machine) CapturedCount() int {
	n := 0
	for _, c := range m.captured {
		if c {
			n++
		}
	}
	return n
}
