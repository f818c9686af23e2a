package fsm

// DumpState is one of the eight stages of an unload cycle.
type DumpState int

const (
	EmptyIdle DumpState = iota
	TruckIn
	DumpLift
	DumpingActive
	DumpingEmpty
	DumpDown
	TruckOut
	EmptyReset
)

var stateNames = [...]string{
	"EMPTY_IDLE",
	"TRUCK_IN",
	"DUMP_LIFT",
	"DUMPING_ACTIVE",
	"DUMPING_EMPTY",
	"DUMP_DOWN",
	"TRUCK_OUT",
	"EMPTY_RESET",
}

func (s DumpState) String() string {
	if s < EmptyIdle || s > EmptyReset {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// FrontSignals are the per-tick observations from the front (plate) camera.
// Absent observations are simply false.
type FrontSignals struct {
	TruckDetected bool
	Lifting       bool
	LiftMax       bool
	Lowering      bool
}

// TopSignals are the per-tick observations from the top (classification)
// camera. CanePercentage is clamped to 0..100 on update.
type TopSignals struct {
	CaneDetected   bool
	CanePercentage int
	Dumping        bool
}

// ImageSlot identifies one of the four capture requirements of a cycle.
type ImageSlot int

const (
	Image1 ImageSlot = iota // front view at TRUCK_IN, carries the OCR pass
	Image2                  // top view at DUMP_LIFT
	Image3                  // top view early in DUMPING_ACTIVE
	Image4                  // top view after the dwell in DUMPING_ACTIVE

	SlotCount = 4
)

var slotNames = [SlotCount]string{"IMAGE_1", "IMAGE_2", "IMAGE_3", "IMAGE_4"}

func (s ImageSlot) String() string {
	if s < Image1 || s > Image4 {
		return "UNKNOWN"
	}
	return slotNames[s]
}
