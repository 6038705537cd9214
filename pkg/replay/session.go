// Package replay paces recorded CAN frames toward a device and keeps real
// elapsed time aligned with log elapsed time.
//
// A Session pulls frames from a Source one at a time, waits out the scaled
// gap to the previous frame, hands the frame to the device link and, every
// AdjustInterval acknowledged frames, lets the Controller revise the speed
// factor. Everything runs on the caller's goroutine with exactly one frame in
// flight.
package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canreplay/pkg/can"
	"github.com/BIwashi/canreplay/pkg/wire"
)

// ErrConnection marks a failure to open the transport. No frame is sent.
var ErrConnection = errors.New("connection failed")

// Source yields frames in replay order. Next returns io.EOF after the last
// frame and an error marked with can.ErrMalformedRecord for a record that
// should be skipped.
type Source interface {
	Next() (can.Frame, error)
}

// Connector opens the transport to the device. The session owns the returned
// connection and closes it when the replay ends.
type Connector func(ctx context.Context) (io.ReadWriteCloser, error)

// Summary is the outcome of a session.
type Summary struct {
	// Outcome is StateCompleted, StateCancelled or StateConnectionFailed.
	Outcome    State
	Sent       int
	Errors     int
	FinalSpeed float64
	// Elapsed is the real time spent replaying, without connect and shutdown.
	Elapsed    time.Duration
	LogElapsed time.Duration
	// Err is the source failure that ended the replay early, if any.
	Err error
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithLogger sets the logger used for progress and the summary.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		s.observers = append(s.observers, o)
	}
}

// Session replays one source over one connection. It is single use.
type Session struct {
	cfg        Config
	source     Source
	connect    Connector
	clock      Clock
	logger     *slog.Logger
	observers  []Observer
	scheduler  *Scheduler
	controller Controller
	state      State
}

// replayState lives for the duration of Run and is never shared.
type replayState struct {
	speed        float64
	started      bool
	firstLogTime float64
	lastLogTime  float64
	sent         int
	errors       int
	startReal    time.Time
}

// NewSession validates cfg and builds an idle session.
func NewSession(cfg Config, source Source, connect Connector, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid replay config")
	}
	if source == nil {
		return nil, errors.New("nil frame source")
	}
	if connect == nil {
		return nil, errors.New("nil connector")
	}

	s := &Session{
		cfg:        cfg,
		source:     source,
		connect:    connect,
		clock:      RealClock(),
		logger:     slog.New(slog.DiscardHandler),
		controller: Controller{Min: cfg.MinSpeed, Max: cfg.MaxSpeed},
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scheduler = NewScheduler(s.clock)

	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Run connects, replays the source until it is exhausted or ctx is cancelled,
// and shuts the connection down. Cancellation is checked once per frame; an
// in-progress wait or device round trip is not interrupted.
//
// Per-frame failures never stop the loop. Run returns an error only when the
// connection cannot be opened; a cancelled replay is not an error.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	if s.state != StateIdle {
		return nil, errors.Newf("session already used (state %s)", s.state)
	}

	s.state = StateConnecting
	conn, err := s.connect(ctx)
	if err != nil {
		s.state = StateConnectionFailed
		s.logger.Error("Failed to connect", "error", err)
		s.state = StateClosed
		return &Summary{
			Outcome:    StateConnectionFailed,
			FinalSpeed: s.cfg.InitialSpeed,
		}, errors.Mark(errors.Wrap(err, "connect"), ErrConnection)
	}

	s.state = StateReplaying
	link := wire.NewLink(conn)
	st := &replayState{
		speed:     s.cfg.InitialSpeed,
		startReal: s.clock.Now(),
	}

	s.logger.Info("Starting replay",
		"speed_factor", st.speed,
		"auto_adjust", s.cfg.AutoAdjust,
		"adjust_interval", s.cfg.AdjustInterval,
	)

	outcome, sourceErr := s.loop(ctx, link, st)
	s.state = outcome
	elapsed := s.clock.Now().Sub(st.startReal)

	s.shutdown(link, conn)

	summary := &Summary{
		Outcome:    outcome,
		Sent:       st.sent,
		Errors:     st.errors,
		FinalSpeed: st.speed,
		Elapsed:    elapsed,
		LogElapsed: logDuration(st.lastLogTime - st.firstLogTime),
		Err:        sourceErr,
	}

	attrs := []any{
		"outcome", outcome.String(),
		"sent", summary.Sent,
		"errors", summary.Errors,
		"final_speed", fmt.Sprintf("%.2f", summary.FinalSpeed),
		"elapsed", summary.Elapsed,
		"log_elapsed", summary.LogElapsed,
	}
	switch {
	case sourceErr != nil:
		s.logger.Error("Replay stopped by source error", append(attrs, "error", sourceErr)...)
	case outcome == StateCancelled:
		s.logger.Info("Replay interrupted", attrs...)
	default:
		s.logger.Info("Replay completed", attrs...)
	}

	return summary, nil
}

func (s *Session) loop(ctx context.Context, link *wire.Link, st *replayState) (State, error) {
	for {
		if ctx.Err() != nil {
			return StateCancelled, nil
		}

		frame, err := s.source.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return StateCompleted, nil
			}
			if errors.Is(err, can.ErrMalformedRecord) {
				st.errors++
				s.logger.Warn("Skipping malformed record", "error", err, "errors", st.errors)
				continue
			}
			return StateCompleted, errors.Wrap(err, "read frame")
		}

		if !st.started {
			st.started = true
			st.firstLogTime = frame.Timestamp
			st.lastLogTime = frame.Timestamp
		} else {
			s.scheduler.Wait(st.lastLogTime, frame.Timestamp, st.speed)
			st.lastLogTime = frame.Timestamp
		}

		sendErr := link.Send(frame)
		s.notifyAttempt(Attempt{
			Frame:       frame,
			At:          s.clock.Now(),
			SpeedFactor: st.speed,
			Err:         sendErr,
		})

		if sendErr != nil {
			st.errors++
			if st.errors > s.cfg.ErrorWarnThreshold {
				s.logger.Warn("Too many send errors, check the connection",
					"errors", st.errors,
					"error", sendErr,
				)
			} else {
				s.logger.Debug("Send failed", "can_id", frame.IDString(), "error", sendErr)
			}
			continue
		}

		st.sent++
		if s.cfg.AutoAdjust && st.sent%s.cfg.AdjustInterval == 0 {
			s.adjust(st, frame)
		}
		if s.cfg.StatusInterval > 0 && st.sent%s.cfg.StatusInterval == 0 {
			s.logger.Info("Replay progress",
				"sent", st.sent,
				"real_elapsed", fmt.Sprintf("%.1fs", s.clock.Now().Sub(st.startReal).Seconds()),
				"log_elapsed", fmt.Sprintf("%.1fs", logDuration(frame.Timestamp-st.firstLogTime).Seconds()),
				"speed_factor", fmt.Sprintf("%.2f", st.speed),
				"can_id", frame.IDString(),
			)
		}
	}
}

func (s *Session) adjust(st *replayState, frame can.Frame) {
	now := s.clock.Now()
	adj := Adjustment{
		At:          now,
		OldSpeed:    st.speed,
		RealElapsed: now.Sub(st.startReal),
		LogElapsed:  logDuration(frame.Timestamp - st.firstLogTime),
	}
	adj.NewSpeed = s.controller.Adjust(st.speed, adj.RealElapsed, adj.LogElapsed)
	st.speed = adj.NewSpeed

	s.logger.Info("Speed adjusted",
		"old_speed", fmt.Sprintf("%.2f", adj.OldSpeed),
		"new_speed", fmt.Sprintf("%.2f", adj.NewSpeed),
		"drift_ms", adj.Drift().Milliseconds(),
	)

	for _, o := range s.observers {
		if err := o.OnAdjustment(adj); err != nil {
			s.logger.Warn("Observer failed", "error", err)
		}
	}
}

func (s *Session) notifyAttempt(a Attempt) {
	for _, o := range s.observers {
		if err := o.OnAttempt(a); err != nil {
			s.logger.Warn("Observer failed", "error", err)
		}
	}
}

// shutdown sends the end command best effort, pauses, and closes conn.
func (s *Session) shutdown(link *wire.Link, conn io.Closer) {
	if err := link.Terminate(); err != nil {
		s.logger.Debug("End command not delivered", "error", err)
	}
	if s.cfg.GracePeriod > 0 {
		s.clock.Sleep(s.cfg.GracePeriod)
	}
	if err := conn.Close(); err != nil {
		s.logger.Warn("Failed to close connection", "error", err)
	}
	s.state = StateClosed
	s.logger.Info("Connection closed")
}

// logDuration converts a microsecond span from the log into a duration.
func logDuration(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}
