package replay

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Config holds the replay parameters.
type Config struct {
	// InitialSpeed scales the recorded inter-frame intervals. 2.0 replays twice as fast.
	InitialSpeed float64
	// AutoAdjust enables drift correction every AdjustInterval successful sends.
	AutoAdjust     bool
	AdjustInterval int
	MinSpeed       float64
	MaxSpeed       float64
	// StatusInterval is the number of successful sends between progress lines.
	StatusInterval int
	// ErrorWarnThreshold is the error count above which every send failure
	// is logged as a warning.
	ErrorWarnThreshold int
	// GracePeriod is the pause between the end command and closing the transport.
	GracePeriod time.Duration
}

// DefaultConfig returns the defaults used by the replay command.
func DefaultConfig() Config {
	return Config{
		InitialSpeed:       1.0,
		AutoAdjust:         true,
		AdjustInterval:     1000,
		MinSpeed:           0.1,
		MaxSpeed:           5.0,
		StatusInterval:     100,
		ErrorWarnThreshold: 10,
		GracePeriod:        100 * time.Millisecond,
	}
}

// Validate checks that the configuration keeps the speed factor inside its bounds.
func (c Config) Validate() error {
	if c.MinSpeed <= 0 {
		return errors.Newf("min speed must be positive, got %v", c.MinSpeed)
	}
	if c.MaxSpeed < c.MinSpeed {
		return errors.Newf("max speed %v is below min speed %v", c.MaxSpeed, c.MinSpeed)
	}
	if c.InitialSpeed < c.MinSpeed || c.InitialSpeed > c.MaxSpeed {
		return errors.Newf("initial speed %v is outside [%v, %v]", c.InitialSpeed, c.MinSpeed, c.MaxSpeed)
	}
	if c.AutoAdjust && c.AdjustInterval <= 0 {
		return errors.Newf("adjust interval must be positive, got %d", c.AdjustInterval)
	}
	if c.StatusInterval < 0 {
		return errors.Newf("status interval must not be negative, got %d", c.StatusInterval)
	}
	if c.GracePeriod < 0 {
		return errors.Newf("grace period must not be negative, got %s", c.GracePeriod)
	}
	return nil
}
