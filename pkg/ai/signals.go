package ai

import "github.com/mdcvision/dumpwatch/pkg/fsm"

// Vertical pixel thresholds for the plate bounding box in the front
// camera view. The dump bed carries the plate upward as it lifts, so a
// smaller y means a higher bed.
const (
	liftMaxY = 100
	liftingY = 250
)

// SignalMapper turns raw model output into the condition signals the
// state machine consumes. It is stateful: lowering can only be reported
// after the bed was seen at full lift within the current cycle.
type SignalMapper struct {
	sawLiftMax bool
}

func NewSignalMapper() *SignalMapper {
	return &SignalMapper{}
}

// Front maps a plate detection to front-camera signals. A nil result
// means no truck is present and resets the lift tracking.
func (m *SignalMapper) Front(plate *PlateResult) fsm.FrontSignals {
	if plate == nil {
		m.sawLiftMax = false
		return fsm.FrontSignals{}
	}

	top := plate.BBox.Min.Y
	s := fsm.FrontSignals{TruckDetected: true}
	switch {
	case top < liftMaxY:
		s.LiftMax = true
		s.Lifting = true
		m.sawLiftMax = true
	case top < liftingY:
		s.Lifting = true
	default:
		if m.sawLiftMax {
			s.Lowering = true
		}
	}
	return s
}

// Top maps a classification result to top-camera signals. A nil result
// reports an empty bin.
func (m *SignalMapper) Top(cane *CaneResult) fsm.TopSignals {
	if cane == nil {
		return fsm.TopSignals{}
	}
	return fsm.TopSignals{
		CaneDetected:   cane.CaneDetected,
		CanePercentage: cane.CanePercentage,
		Dumping:        cane.Dumping,
	}
}

// Reset clears per-cycle tracking. Call when a cycle completes.
func (m *SignalMapper) Reset() {
	m.sawLiftMax = false
}
