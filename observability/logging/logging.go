// Package logging holds the slog conventions shared by the bridge components.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/geanlabs/gravity/types"
)

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// OrDefault returns l, or slog.Default() if l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// LevelFor picks the level a rejection is logged at. Idempotence guards are
// routine (another submitter won) and stay at debug.
func LevelFor(kind types.Kind) slog.Level {
	switch kind {
	case types.KindOK, types.KindIdempotence:
		return slog.LevelDebug
	case types.KindInternal:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Outcome logs the result of op. Successes log at info.
func Outcome(l *slog.Logger, op string, err error, attrs ...any) {
	kind := types.Classify(err)
	level := LevelFor(kind)
	msg := op + " accepted"
	if err != nil {
		msg = op + " rejected"
		attrs = append(attrs, "kind", string(kind), "error", err)
	} else {
		level = slog.LevelInfo
	}
	l.Log(context.Background(), level, msg, attrs...)
}

// Digest formats a digest for log attributes.
func Digest(d types.Digest) string { return d.Short() }
