package replay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BIwashi/canreplay/pkg/dbc"
	engine "github.com/BIwashi/canreplay/pkg/replay"
)

// signalLogger logs the decoded signals of every acknowledged frame at debug
// level and names failed frames at warn level.
type signalLogger struct {
	catalog *dbc.Catalog
	logger  *slog.Logger
}

func newSignalLogger(catalog *dbc.Catalog, logger *slog.Logger) *signalLogger {
	return &signalLogger{catalog: catalog, logger: logger}
}

func (l *signalLogger) OnAttempt(a engine.Attempt) error {
	canID := a.Frame.IDString()
	name, known := l.catalog.MessageName(a.Frame.ID)

	if a.Err != nil {
		if known {
			l.logger.Warn("Frame not acknowledged", "can_id", canID, "message", name, "error", a.Err)
		}
		return nil
	}

	if !known || !l.logger.Enabled(context.Background(), slog.LevelDebug) {
		return nil
	}

	signals, err := l.catalog.Decode(a.Frame)
	if err != nil {
		l.logger.Debug("frame_not_decoded", "can_id", canID, "message", name, "error", err)
		return nil
	}

	attrs := make([]any, 0, 2*len(signals)+4)
	attrs = append(attrs, "can_id", canID, "message", name)
	for _, s := range signals {
		v := fmt.Sprintf("%g", s.Value)
		if s.Description != "" {
			v = s.Description
		} else if s.Unit != "" {
			v += " " + s.Unit
		}
		attrs = append(attrs, s.Name, v)
	}
	l.logger.Debug("frame_sent", attrs...)

	return nil
}

func (l *signalLogger) OnAdjustment(engine.Adjustment) error {
	return nil
}
