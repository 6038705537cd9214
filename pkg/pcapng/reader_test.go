package pcapng

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketCAN(rawID uint32, data ...byte) []byte {
	b := make([]byte, socketCANHeaderLen+8)
	binary.LittleEndian.PutUint32(b[0:4], rawID)
	b[4] = byte(len(data))
	copy(b[socketCANHeaderLen:], data)
	return b
}

func capture(t *testing.T, linkType layers.LinkType, start time.Time, packets ...[]byte) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, linkType)
	require.NoError(t, err)

	for i, p := range packets {
		err := w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength: len(p),
			Length:        len(p),
		}, p)
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())

	return &buf
}

func TestReader_Next(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := capture(t, linkTypeCAN, start,
		socketCAN(0x123, 0xDE, 0xAD),
		socketCAN(idFlagError|0x4),
		socketCAN(idFlagExtended|0x18FF50E5, 1, 2, 3, 4, 5, 6, 7, 8),
		[]byte{0x01, 0x02},
	)

	r, err := NewReader(buf)
	require.NoError(t, err)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), f.ID)
	assert.False(t, f.IsExtended)
	assert.Equal(t, []byte{0xDE, 0xAD}, f.Payload())
	assert.Equal(t, float64(start.UnixMicro()), f.Timestamp)

	// error frame skipped
	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18FF50E5), f.ID)
	assert.True(t, f.IsExtended)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, f.Payload())
	assert.Equal(t, float64(start.Add(20*time.Millisecond).UnixMicro()), f.Timestamp)

	// truncated packet skipped, then end of capture
	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
	assert.Equal(t, uint64(4), r.Packets())
	assert.Equal(t, uint64(2), r.Skipped())
}

func TestNewReader_UnsupportedLinkType(t *testing.T) {
	buf := capture(t, layers.LinkTypeEthernet, time.Now())

	_, err := NewReader(buf)
	require.ErrorContains(t, err, "unsupported link type")
}

func TestNewReader_Garbage(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("not a capture")))
	require.Error(t, err)
}
