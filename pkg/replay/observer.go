package replay

import (
	"time"

	"github.com/BIwashi/canreplay/pkg/can"
)

// Attempt describes one send of a frame to the device.
type Attempt struct {
	Frame       can.Frame
	At          time.Time
	SpeedFactor float64
	// Err is nil when the device acknowledged the frame.
	Err error
}

// Adjustment describes one recomputation of the speed factor.
type Adjustment struct {
	At          time.Time
	OldSpeed    float64
	NewSpeed    float64
	RealElapsed time.Duration
	LogElapsed  time.Duration
}

// Drift is how far replay trails the log; negative when it is ahead.
func (a Adjustment) Drift() time.Duration {
	return a.RealElapsed - a.LogElapsed
}

// Observer is notified of send attempts and speed adjustments. Observers run
// inline in the replay loop and cannot influence it; returned errors are
// logged and otherwise ignored.
type Observer interface {
	OnAttempt(Attempt) error
	OnAdjustment(Adjustment) error
}
