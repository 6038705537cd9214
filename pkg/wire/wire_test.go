package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIwashi/canreplay/pkg/can"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		frame can.Frame
		want  string
	}{
		{
			name:  "standard frame",
			frame: can.NewFrame(1000, 0x1A0, 3, []byte{0x01, 0xAB, 0xFF}),
			want:  "1000,000001A0,3,01,AB,FF\n",
		},
		{
			name:  "extended id",
			frame: can.NewFrame(42, 0x18FF50E5, 1, []byte{0x7}),
			want:  "42,18FF50E5,1,07\n",
		},
		{
			name:  "fractional timestamp",
			frame: can.NewFrame(12.5, 0x1, 1, []byte{0x10}),
			want:  "12.5,00000001,1,10\n",
		},
		{
			name:  "empty payload",
			frame: can.NewFrame(0, 0x7FF, 0, nil),
			want:  "0,000007FF,0,\n",
		},
		{
			name:  "clamped length",
			frame: can.NewFrame(5, 0x10, 10, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}),
			want:  "5,00000010,8,01,02,03,04,05,06,07,08\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Encode(tt.frame)))
		})
	}
}

// device is an in-memory transport that answers every write with reply.
type device struct {
	written  bytes.Buffer
	pending  bytes.Buffer
	reply    string
	writeErr error
}

func (d *device) Write(p []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.written.Write(p)
	d.pending.WriteString(d.reply)
	return len(p), nil
}

func (d *device) Read(p []byte) (int, error) {
	if d.pending.Len() == 0 {
		return 0, io.EOF
	}
	return d.pending.Read(p)
}

func TestLink_Send(t *testing.T) {
	frame := can.NewFrame(1000, 0x100, 2, []byte{0xDE, 0xAD})

	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{name: "ok", reply: "OK\n"},
		{name: "ok with carriage return", reply: "OK\r\n"},
		{name: "ok with trailing spaces", reply: "OK  \n"},
		{name: "ok cut short", reply: "OK"},
		{name: "lowercase", reply: "ok\n", wantErr: true},
		{name: "leading whitespace", reply: " OK\n", wantErr: true},
		{name: "error reply", reply: "ERR\n", wantErr: true},
		{name: "extra text", reply: "OK done\n", wantErr: true},
		{name: "no reply", reply: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &device{reply: tt.reply}
			err := NewLink(d).Send(frame)

			assert.Equal(t, "1000,00000100,2,DE,AD\n", d.written.String())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLink_SendRejectionIsTyped(t *testing.T) {
	d := &device{reply: "NACK\n"}
	err := NewLink(d).Send(can.NewFrame(0, 1, 0, nil))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcknowledged))
	assert.Contains(t, err.Error(), `"NACK"`)
}

func TestLink_SendWriteError(t *testing.T) {
	d := &device{writeErr: errors.New("device unplugged")}
	err := NewLink(d).Send(can.NewFrame(0, 1, 0, nil))

	require.ErrorContains(t, err, "device unplugged")
}

func TestLink_ReadsOneLinePerCommand(t *testing.T) {
	d := &device{reply: "OK\n"}
	l := NewLink(d)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Send(can.NewFrame(float64(i), 1, 1, []byte{byte(i)})))
	}
	assert.Equal(t, 3, strings.Count(d.written.String(), "\n"))
}

func TestLink_Terminate(t *testing.T) {
	d := &device{reply: "ignored\n"}
	require.NoError(t, NewLink(d).Terminate())
	assert.Equal(t, "END\n", d.written.String())

	d = &device{writeErr: errors.New("closed")}
	require.Error(t, NewLink(d).Terminate())
}
