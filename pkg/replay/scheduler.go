package replay

import "time"

// Delay returns how long to wait before sending a frame stamped cur when the
// previous frame was stamped prev. Timestamps are in microseconds. Gaps that
// are zero or negative yield no wait.
func Delay(prev, cur, speed float64) time.Duration {
	gap := (cur - prev) / 1e6
	if gap <= 0 || speed <= 0 {
		return 0
	}
	return time.Duration(gap / speed * float64(time.Second))
}

// Scheduler paces frames against their recorded timestamps.
type Scheduler struct {
	clock Clock
}

// NewScheduler returns a Scheduler that sleeps on clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Wait blocks for Delay(prev, cur, speed) and returns the applied wait.
func (s *Scheduler) Wait(prev, cur, speed float64) time.Duration {
	d := Delay(prev, cur, speed)
	if d > 0 {
		s.clock.Sleep(d)
	}
	return d
}
