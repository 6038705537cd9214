// Package serial opens the serial device the replay is streamed to.
package serial

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	bserial "go.bug.st/serial"
)

const (
	// DefaultBaudRate is the device's serial speed.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds the wait for each acknowledgement.
	DefaultReadTimeout = time.Second
	// DefaultSettle gives the device time to finish the reset triggered by
	// opening the port before the first command arrives.
	DefaultSettle = 2 * time.Second
)

// ErrReadTimeout is returned by Port.Read when no byte arrived within the
// configured read timeout.
var ErrReadTimeout = errors.New("serial read timeout")

// Options configures Open.
type Options struct {
	BaudRate    int
	ReadTimeout time.Duration
	Settle      time.Duration
}

// DefaultOptions returns 115200 8N1 with a one second read timeout and a two
// second settle pause.
func DefaultOptions() Options {
	return Options{
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		Settle:      DefaultSettle,
	}
}

// Port is an open serial device.
type Port struct {
	path string
	port bserial.Port
}

// Open opens path, applies the read timeout, and waits for the settle pause.
// Cancelling ctx during the pause closes the port and returns ctx.Err().
func Open(ctx context.Context, path string, opts Options) (*Port, error) {
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	p, err := bserial.Open(path, &bserial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   bserial.NoParity,
		StopBits: bserial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", path)
	}

	if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", path)
	}

	if opts.Settle > 0 {
		t := time.NewTimer(opts.Settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			_ = p.Close()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	// Drop boot chatter the device printed while settling.
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, errors.Wrapf(err, "reset input buffer on %s", path)
	}

	return &Port{path: path, port: p}, nil
}

// Path returns the device path the port was opened with.
func (p *Port) Path() string {
	return p.path
}

// Read reads from the device. Unlike the underlying driver, which reports a
// timeout as a zero-length read, it returns ErrReadTimeout.
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err != nil {
		return n, errors.Wrapf(err, "read %s", p.path)
	}
	if n == 0 && len(b) > 0 {
		return 0, ErrReadTimeout
	}
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, errors.Wrapf(err, "write %s", p.path)
	}
	return n, nil
}

// Close closes the device.
func (p *Port) Close() error {
	return errors.Wrapf(p.port.Close(), "close %s", p.path)
}
