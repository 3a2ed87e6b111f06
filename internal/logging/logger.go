package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates the application logger at the given level. Output goes to
// stderr so stdout stays free for conversation text (the run and mcp
// commands own stdout). The "error" attribute key is shortened to "err",
// the spelling used across the codebase.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
