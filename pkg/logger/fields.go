package logger

import (
	"go.uber.org/zap"
)

// Channel tags a log line with the call leg it belongs to.
func Channel(id string) zap.Field {
	return zap.String("channel_id", id)
}

// EventKind tags a log line with the ARI event type.
func EventKind(kind string) zap.Field {
	return zap.String("event_kind", kind)
}

// State tags a log line with a channel handler state.
func State(state string) zap.Field {
	return zap.String("state", state)
}
