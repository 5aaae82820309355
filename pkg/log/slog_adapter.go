package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger. Error events and
// Error envelopes are logged at Warn, everything else at Debug.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ServerName != "" {
		attrs = append(attrs, slog.String("server", event.ServerName))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.Uint64("msg_id", uint64(event.Message.ID)),
			slog.String("msg_type", event.Message.Type.String()),
			slog.String("kind", event.Message.Kind),
		)
		if event.Message.DeviceIndex != nil {
			attrs = append(attrs, slog.Uint64("device", uint64(*event.Message.DeviceIndex)))
		}
		if event.Message.ErrorCode != nil {
			attrs = append(attrs, slog.Int("error_code", int(*event.Message.ErrorCode)))
		}
		if event.Message.Latency != nil {
			attrs = append(attrs, slog.Duration("latency", *event.Message.Latency))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
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
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), levelFor(event), "protocol", attrs...)
}

func levelFor(event Event) slog.Level {
	if event.Error != nil || event.Category == CategoryError {
		return slog.LevelWarn
	}
	if event.Message != nil && event.Message.ErrorCode != nil {
		return slog.LevelWarn
	}
	return slog.LevelDebug
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
