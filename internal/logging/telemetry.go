package logging

import (
	"log/slog"

	tlogging "github.com/els0r/telemetry/logging"
)

// FromTelemetry adapts github.com/els0r/telemetry/logging — the shared
// structured-logging front door slimcap's own go.mod depends on but never
// calls directly (every slimcap log site goes through its local slog
// wrapper instead) — into the buffer's Logger contract. It builds a new
// telemetry logger from opts at Info level with JSON encoding and wraps
// its *slog.Logger; it does not accept an already-constructed logger, and
// the telemetry shutdown function is discarded.
func FromTelemetry(opts ...tlogging.Option) (Logger, error) {
	l, _, err := tlogging.New(slog.LevelInfo, tlogging.EncodingJSON, opts...)
	if err != nil {
		return nil, err
	}
	return &slogLogger{logger: l.Slog()}, nil
}
