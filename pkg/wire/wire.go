// Package wire implements the line-oriented ASCII protocol spoken by the
// replay device.
//
// Each data command is one line
//
//	<timestamp>,<ID as 8 upper hex digits>,<dlc>,<b0>,<b1>,...\n
//
// and the device answers every data command with a single "OK" line. The
// session ends with an "END" line that is not answered.
package wire

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canreplay/pkg/can"
)

const (
	// Ack is the reply that acknowledges a data command.
	Ack = "OK"
	// EndCommand tells the device the replay is over.
	EndCommand = "END\n"
)

// ErrNotAcknowledged is returned when the device replies with anything but Ack.
var ErrNotAcknowledged = errors.New("command not acknowledged")

const hexDigits = "0123456789ABCDEF"

// Encode renders the data command for f, newline included.
func Encode(f can.Frame) []byte {
	return AppendCommand(make([]byte, 0, 64), f)
}

// AppendCommand appends the data command for f to dst.
func AppendCommand(dst []byte, f can.Frame) []byte {
	dst = strconv.AppendFloat(dst, f.Timestamp, 'f', -1, 64)
	dst = append(dst, ',')

	for shift := 28; shift >= 0; shift -= 4 {
		dst = append(dst, hexDigits[(f.ID>>shift)&0xF])
	}
	dst = append(dst, ',')

	payload := f.Payload()
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, ',')

	for i, b := range payload {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0xF])
	}

	return append(dst, '\n')
}

// Link sends frames to the device and checks its acknowledgements. It is not
// safe for concurrent use; the replay loop keeps one command in flight.
type Link struct {
	rw  io.ReadWriter
	br  *bufio.Reader
	buf []byte
}

// NewLink wraps a connected transport. Read timeouts are the transport's
// concern: a timed out read must surface as an error.
func NewLink(rw io.ReadWriter) *Link {
	return &Link{
		rw:  rw,
		br:  bufio.NewReader(rw),
		buf: make([]byte, 0, 64),
	}
}

// Send writes the data command for f and waits for one reply line. Any
// failure, including a reply other than "OK", is returned as an error and no
// retry is attempted.
func (l *Link) Send(f can.Frame) error {
	l.buf = AppendCommand(l.buf[:0], f)
	if _, err := l.rw.Write(l.buf); err != nil {
		return errors.Wrap(err, "write command")
	}

	reply, err := l.br.ReadString('\n')
	// A partial line cut short by a timeout or EOF is still judged on its content.
	if err != nil && reply == "" {
		return errors.Wrap(err, "read acknowledgement")
	}

	if got := strings.TrimRight(reply, " \t\r\n\v\f"); got != Ack {
		return errors.Wrapf(ErrNotAcknowledged, "reply %q", got)
	}

	return nil
}

// Terminate writes the end-of-replay sentinel. No reply is read.
func (l *Link) Terminate() error {
	if _, err := io.WriteString(l.rw, EndCommand); err != nil {
		return errors.Wrap(err, "write end command")
	}
	return nil
}
