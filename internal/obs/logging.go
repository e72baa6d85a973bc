// Package obs holds the structured logger shared by every component.
package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide structured logger. It discards output until
// InitLogger is called so that packages can log safely from tests.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// InitLogger installs a JSON handler on stdout at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func InitLogger(level string) {
	InitLoggerTo(os.Stdout, level)
}

func InitLoggerTo(w io.Writer, level string) {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	Logger = slog.New(h)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
