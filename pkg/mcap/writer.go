package mcap

import (
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/foxglove/mcap/go/mcap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BIwashi/canreplay/pkg/replay"
)

const (
	TopicFrames = "/replay/frames"
	TopicSpeed  = "/replay/speed"

	schemaName = "google.protobuf.Struct"
)

// Journal records a replay session into an MCAP file.
//
// Design decisions:
//   - One protobuf schema (google.protobuf.Struct) shared by every channel, so
//     no generated code is needed and any MCAP viewer can render the fields.
//   - /replay/frames gets one message per send attempt, acknowledged or not.
//   - /replay/speed gets one message per speed factor recomputation.
//   - LogTime is the wall-clock time of the event; PublishTime is the frame's
//     log timestamp for attempts.
//
// It implements replay.Observer.
type Journal struct {
	mu       sync.Mutex
	writer   *mcap.Writer
	frames   uint16
	speed    uint16
	sequence uint32
}

var _ replay.Observer = (*Journal)(nil)

// NewJournal writes the MCAP header, schema and channels to out. The caller
// keeps ownership of out and must call Close before closing it.
func NewJournal(out io.Writer) (*Journal, error) {
	w, err := mcap.NewWriter(out, &mcap.WriterOptions{
		Chunked:     true,
		ChunkSize:   1024 * 1024,
		Compression: mcap.CompressionZSTD,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create MCAP writer")
	}

	if err := w.WriteHeader(&mcap.Header{
		Profile: "",
		Library: "canreplay",
	}); err != nil {
		return nil, errors.Wrap(err, "write header")
	}

	fdSet := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			protodesc.ToFileDescriptorProto(structpb.File_google_protobuf_struct_proto),
		},
	}
	data, err := proto.Marshal(fdSet)
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema descriptor")
	}

	const schemaID = 1
	if err := w.WriteSchema(&mcap.Schema{
		ID:       schemaID,
		Name:     schemaName,
		Encoding: "protobuf",
		Data:     data,
	}); err != nil {
		return nil, errors.Wrap(err, "write schema")
	}

	j := &Journal{writer: w, frames: 1, speed: 2}
	channels := []struct {
		id    uint16
		topic string
	}{
		{j.frames, TopicFrames},
		{j.speed, TopicSpeed},
	}
	for _, ch := range channels {
		if err := w.WriteChannel(&mcap.Channel{
			ID:              ch.id,
			SchemaID:        schemaID,
			Topic:           ch.topic,
			MessageEncoding: "protobuf",
			Metadata:        map[string]string{},
		}); err != nil {
			return nil, errors.Wrapf(err, "write channel (topic=%s)", ch.topic)
		}
	}

	return j, nil
}

// OnAttempt records one send attempt.
func (j *Journal) OnAttempt(a replay.Attempt) error {
	fields := map[string]any{
		"timestamp_us": a.Frame.Timestamp,
		"id":           float64(a.Frame.ID),
		"extended":     a.Frame.IsExtended,
		"dlc":          float64(a.Frame.Length),
		"data":         hex.EncodeToString(a.Frame.Payload()),
		"sent":         a.Err == nil,
		"speed_factor": a.SpeedFactor,
	}
	if a.Err != nil {
		fields["error"] = a.Err.Error()
	}

	publish := time.UnixMicro(int64(a.Frame.Timestamp))
	return j.write(j.frames, a.At, publish, fields)
}

// OnAdjustment records one speed factor recomputation.
func (j *Journal) OnAdjustment(a replay.Adjustment) error {
	return j.write(j.speed, a.At, a.At, map[string]any{
		"old_speed":    a.OldSpeed,
		"new_speed":    a.NewSpeed,
		"real_elapsed": a.RealElapsed.Seconds(),
		"log_elapsed":  a.LogElapsed.Seconds(),
		"drift_ms":     float64(a.Drift().Milliseconds()),
	})
}

func (j *Journal) write(channel uint16, logTime, publishTime time.Time, fields map[string]any) error {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return errors.Wrap(err, "build journal message")
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal journal message")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	if err := j.writer.WriteMessage(&mcap.Message{
		ChannelID:   channel,
		Sequence:    j.sequence,
		LogTime:     uint64(logTime.UnixNano()),
		PublishTime: uint64(publishTime.UnixNano()),
		Data:        data,
	}); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close finalizes the MCAP file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Wrap(j.writer.Close(), "close MCAP writer")
}
