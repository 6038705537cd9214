package pcapng

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/BIwashi/canreplay/pkg/can"
)

// linkTypeCAN is LINKTYPE_CAN_SOCKETCAN. ref: https://www.tcpdump.org/linktypes.html
const linkTypeCAN layers.LinkType = 227

const (
	idFlagExtended = 0x80000000
	idFlagRemote   = 0x40000000
	idFlagError    = 0x20000000
	idMaskExtended = 0x1fffffff
	idMaskStandard = 0x7ff

	socketCANHeaderLen = 8
)

// Reader reads SocketCAN frames from a PCAPNG capture. Frames are stamped
// with their capture time in microseconds since the Unix epoch, so the
// recorded spacing between packets is what the replay reproduces.
type Reader struct {
	reader   *pcapgo.NgReader
	linkType layers.LinkType
	packets  uint64
	skipped  uint64
}

// NewReader creates a reader over a PCAPNG stream.
func NewReader(r io.Reader) (*Reader, error) {
	ngReader, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pcapng reader")
	}

	linkType := ngReader.LinkType()
	if linkType != layers.LinkTypeLinuxSLL && linkType != linkTypeCAN {
		return nil, errors.Newf("unsupported link type: %v", linkType)
	}

	return &Reader{
		reader:   ngReader,
		linkType: linkType,
	}, nil
}

// Next returns the next data frame. Packets that carry no CAN frame, and CAN
// error frames, are skipped. It returns io.EOF at the end of the capture.
func (r *Reader) Next() (can.Frame, error) {
	for {
		data, ci, err := r.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return can.Frame{}, io.EOF
			}
			return can.Frame{}, errors.Wrap(err, "failed to read packet data")
		}
		r.packets++

		frame, ok := r.decode(data, ci)
		if !ok {
			r.skipped++
			continue
		}
		return frame, nil
	}
}

// Packets returns the number of packets read so far.
func (r *Reader) Packets() uint64 {
	return r.packets
}

// Skipped returns the number of packets that did not yield a frame.
func (r *Reader) Skipped() uint64 {
	return r.skipped
}

func (r *Reader) decode(data []byte, ci gopacket.CaptureInfo) (can.Frame, bool) {
	payload := data
	if r.linkType == layers.LinkTypeLinuxSLL {
		packet := gopacket.NewPacket(data, r.linkType, gopacket.Default)
		sll, ok := packet.Layer(layers.LayerTypeLinuxSLL).(*layers.LinuxSLL)
		if !ok {
			return can.Frame{}, false
		}
		payload = sll.Payload
	}

	if len(payload) < socketCANHeaderLen {
		return can.Frame{}, false
	}

	// SocketCAN stores the id in host order; captures come from little-endian hosts.
	rawID := binary.LittleEndian.Uint32(payload[0:4])
	if rawID&idFlagError != 0 {
		return can.Frame{}, false
	}

	id := rawID & idMaskStandard
	if rawID&idFlagExtended != 0 {
		id = rawID & idMaskExtended
	}

	length := can.ClampLength(int(payload[4]))
	body := payload[socketCANHeaderLen:]
	if len(body) > length {
		body = body[:length]
	}

	frame := can.NewFrame(float64(ci.Timestamp.UnixMicro()), id, length, body)
	frame.IsExtended = rawID&idFlagExtended != 0
	frame.IsRemote = rawID&idFlagRemote != 0

	return frame, true
}
