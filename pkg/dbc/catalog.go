package dbc

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	cdbc "go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"

	"github.com/BIwashi/canreplay/pkg/can"
)

// Catalog names replayed frames and decodes their signals from a DBC file.
// It only annotates logs; replay never depends on it.
type Catalog struct {
	db *descriptor.Database
}

// Signal is one decoded signal value.
type Signal struct {
	Name        string
	Value       float64
	Unit        string
	Description string
}

// LoadCatalog parses the DBC file at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read dbc file")
	}
	return ParseCatalog(filepath.Base(path), data)
}

// ParseCatalog parses DBC source held in memory.
func ParseCatalog(name string, data []byte) (*Catalog, error) {
	p := cdbc.NewParser(name, data)
	if err := p.Parse(); err != nil {
		return nil, errors.Wrap(err, "parse dbc")
	}

	db := &descriptor.Database{SourceFile: name}
	defs := p.Defs()
	for _, def := range defs {
		switch def := def.(type) {
		case *cdbc.VersionDef:
			db.Version = def.Version
		case *cdbc.MessageDef:
			if def.MessageID == cdbc.IndependentSignalsMessageID {
				continue
			}
			db.Messages = append(db.Messages, toMessage(def))
		}
	}

	// Value tables are declared after the messages they refer to.
	for _, def := range defs {
		vd, ok := def.(*cdbc.ValueDescriptionsDef)
		if !ok || vd.ObjectType != cdbc.ObjectTypeSignal {
			continue
		}
		s, ok := db.Signal(vd.MessageID.ToCAN(), string(vd.SignalName))
		if !ok {
			continue
		}
		for _, v := range vd.ValueDescriptions {
			s.ValueDescriptions = append(s.ValueDescriptions, &descriptor.ValueDescription{
				Value:       int64(v.Value),
				Description: v.Description,
			})
		}
	}

	sort.Slice(db.Messages, func(i, j int) bool {
		return db.Messages[i].ID < db.Messages[j].ID
	})

	return &Catalog{db: db}, nil
}

func toMessage(def *cdbc.MessageDef) *descriptor.Message {
	m := &descriptor.Message{
		Name:       string(def.Name),
		ID:         def.MessageID.ToCAN(),
		IsExtended: def.MessageID.IsExtended(),
		Length:     uint8(def.Size),
		SenderNode: string(def.Transmitter),
	}
	for _, s := range def.Signals {
		m.Signals = append(m.Signals, &descriptor.Signal{
			Name:             string(s.Name),
			IsBigEndian:      s.IsBigEndian,
			IsSigned:         s.IsSigned,
			IsMultiplexer:    s.IsMultiplexerSwitch,
			IsMultiplexed:    s.IsMultiplexed,
			MultiplexerValue: uint(s.MultiplexerSwitch),
			Start:            uint8(s.StartBit),
			Length:           uint8(s.Size),
			Scale:            s.Factor,
			Offset:           s.Offset,
			Min:              s.Minimum,
			Max:              s.Maximum,
			Unit:             s.Unit,
		})
	}
	return m
}

// Len returns the number of messages in the catalog.
func (c *Catalog) Len() int {
	return len(c.db.Messages)
}

// MessageName returns the DBC name of the message with the given id.
func (c *Catalog) MessageName(id uint32) (string, bool) {
	m, ok := c.db.Message(id)
	if !ok {
		return "", false
	}
	return m.Name, true
}

// Decode returns the physical value of every signal present in f. Multiplexed
// signals are included only when the multiplexer selects them.
func (c *Catalog) Decode(f can.Frame) ([]Signal, error) {
	m, ok := c.db.Message(f.ID)
	if !ok {
		return nil, errors.Newf("unknown message id: 0x%X", f.ID)
	}
	if f.Length != m.Length {
		return nil, errors.Newf("message %s: length %d, want %d", m.Name, f.Length, m.Length)
	}

	var (
		muxValue uint64
		hasMux   bool
	)
	for _, s := range m.Signals {
		if s.IsMultiplexer {
			muxValue = s.UnmarshalUnsigned(f.Data)
			hasMux = true
			break
		}
	}

	out := make([]Signal, 0, len(m.Signals))
	for _, s := range m.Signals {
		if s.IsMultiplexed && (!hasMux || uint64(s.MultiplexerValue) != muxValue) {
			continue
		}
		sig := Signal{
			Name:  s.Name,
			Value: s.UnmarshalPhysical(f.Data),
			Unit:  s.Unit,
		}
		if d, ok := s.UnmarshalValueDescription(f.Data); ok {
			sig.Description = d
		}
		out = append(out, sig)
	}

	return out, nil
}
