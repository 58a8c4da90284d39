package logging

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geanlabs/gravity/types"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestOutcomeLevels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
		logs  bool
	}{
		{"accepted", nil, "level=INFO", true},
		{"idempotence_hidden_at_info", fmt.Errorf("%w: nonce 1", types.ErrNonceNotIncreasing), "", false},
		{"authorization", types.ErrInsufficientPower, "level=WARN", true},
		{"internal", errors.New("disk on fire"), "level=ERROR", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Outcome(NewLogger("info", &buf), "batch", tt.err, "nonce", 1)
			if !tt.logs {
				require.Empty(t, buf.String())
				return
			}
			require.True(t, strings.Contains(buf.String(), tt.level), buf.String())
			require.Contains(t, buf.String(), "nonce=1")
		})
	}
}
