// Package stream maintains resilient connections to the station cameras.
// Each logical channel gets a worker that decouples network reads from
// consumption through a single-slot latest-frame cell; a supervisor fans the
// per-channel frames and status changes into one ordered output.
package stream

import (
	"time"

	"gocv.io/x/gocv"
)

// ChannelState is the connection state of one video channel.
type ChannelState string

const (
	StateDisconnected ChannelState = "Disconnected"
	StateConnecting   ChannelState = "Connecting"
	StateConnected    ChannelState = "Connected"
	StateError        ChannelState = "Error"
)

// Frame is one decoded video frame. The holder owns the Mat and must Close
// it; anything that drops a frame (cell overwrite, channel overflow) closes
// it on the caller's behalf.
type Frame struct {
	Role string
	Mat  gocv.Mat
	Time time.Time
}

// Close releases the underlying pixel buffer. Safe to call on a frame whose
// Mat was never allocated.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	if f.Mat.Ptr() != nil {
		f.Mat.Close()
	}
}

// ChannelStatus is the observable health of one channel. Ephemeral, never
// persisted.
type ChannelStatus struct {
	Role        string
	State       ChannelState
	LastFrame   time.Time
	LastSuccess time.Time
}

// EventKind discriminates supervisor output events.
type EventKind int

const (
	EventFrame EventKind = iota
	EventStatus
)

// Event is one entry on the supervisor's merged output: either a fresh frame
// or a status change.
type Event struct {
	Kind   EventKind
	Frame  *Frame // set when Kind == EventFrame; receiver owns and closes it
	Status ChannelStatus
}

// Annotator optionally draws on a frame in place before it is republished,
// e.g. detection overlays for a live preview.
type Annotator func(mat *gocv.Mat, role string)
