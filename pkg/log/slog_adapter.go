package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.URL != "" {
		attrs = append(attrs, slog.String("url", event.URL))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		m := event.Message
		attrs = append(attrs,
			slog.String("msg_kind", m.Kind.String()),
			slog.String("msg_name", m.Name),
		)
		if m.Bus != nil {
			attrs = append(attrs, slog.Uint64("bus", uint64(*m.Bus)))
		}
		if m.Device != nil {
			attrs = append(attrs, slog.Uint64("dev", uint64(*m.Device)))
		}
		if m.Param != nil {
			attrs = append(attrs, slog.Uint64("par", uint64(*m.Param)))
		}
		if m.Value != nil {
			attrs = append(attrs, slog.Int64("value", int64(*m.Value)))
		}
		if m.Flag != nil {
			attrs = append(attrs, slog.Bool("flag", *m.Flag))
		}
		if m.ErrorCode != nil {
			attrs = append(attrs, slog.Uint64("error_code", uint64(*m.ErrorCode)))
		}
		if m.Status != nil {
			attrs = append(attrs, slog.Uint64("status", uint64(*m.Status)))
		}
		if m.RoundTrip != nil {
			attrs = append(attrs, slog.Duration("round_trip", *m.RoundTrip))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(ctx, slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
