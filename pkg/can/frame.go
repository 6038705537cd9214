package can

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	ecan "go.einride.tech/can"
)

// MaxLength is the largest data length code a classic CAN frame carries.
const MaxLength = 8

const maxStandardID = 0x7ff

// ErrMalformedRecord marks a log record that could not be turned into a Frame.
// Sources wrap their per-record failures with it so the replay loop can skip
// the record and keep going.
var ErrMalformedRecord = errors.New("malformed record")

// Frame wraps einride can.Frame with the timestamp recorded in the log.
// Embedding keeps field access (ID, Length, Data, IsExtended, ...) identical.
type Frame struct {
	ecan.Frame
	// Timestamp is the log time in microseconds. Monotonicity is not checked.
	Timestamp float64
}

// NewFrame builds a frame from raw log values. The length is clamped to
// [0, MaxLength] and only the first length bytes of data are kept.
func NewFrame(timestamp float64, id uint32, length int, data []byte) Frame {
	length = ClampLength(length)

	f := Frame{
		Frame: ecan.Frame{
			ID:         id,
			Length:     uint8(length),
			IsExtended: id > maxStandardID,
		},
		Timestamp: timestamp,
	}
	copy(f.Data[:length], data)

	return f
}

// ClampLength clamps a data length code into [0, MaxLength].
func ClampLength(n int) int {
	switch {
	case n < 0:
		return 0
	case n > MaxLength:
		return MaxLength
	default:
		return n
	}
}

// Payload returns the valid data bytes of the frame.
func (f Frame) Payload() []byte {
	return f.Data[:ClampLength(int(f.Length))]
}

// MalformedRecord builds an error marked with ErrMalformedRecord.
func MalformedRecord(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrMalformedRecord)
}

// IDString formats the frame ID the way the wire protocol does, as eight
// upper hex digits with a 0x prefix.
func (f Frame) IDString() string {
	return fmt.Sprintf("0x%08X", f.ID)
}

func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%.0f 0x%X [%d]", f.Timestamp, f.ID, f.Length)
	for _, v := range f.Payload() {
		fmt.Fprintf(&b, " %02X", v)
	}
	return b.String()
}
