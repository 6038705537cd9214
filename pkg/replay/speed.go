package replay

import "time"

const (
	// catchUpMargin overshoots the measured delay so the backlog is recovered
	// instead of approached asymptotically.
	catchUpMargin = 1.2
	// decay pulls the speed back toward nominal when replay is on or ahead of pace.
	decay = 0.95
)

// Controller recomputes the speed factor from the drift between real and log
// elapsed time. It samples the drift ratio once per call and has no integral
// or derivative term, so large transient delays can make it overshoot; the
// bounds are the only limit on growth.
type Controller struct {
	Min float64
	Max float64
}

// Adjust returns the new speed factor. When logElapsed is not positive the
// speed is returned unchanged.
func (c Controller) Adjust(speed float64, realElapsed, logElapsed time.Duration) float64 {
	if logElapsed <= 0 {
		return speed
	}

	ratio := realElapsed.Seconds() / logElapsed.Seconds()

	var next float64
	if ratio > 1.0 {
		next = speed * ratio * catchUpMargin
	} else {
		next = speed * decay
	}

	return c.Clamp(next)
}

// Clamp bounds speed to [Min, Max].
func (c Controller) Clamp(speed float64) float64 {
	return max(c.Min, min(c.Max, speed))
}
