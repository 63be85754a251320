// README: Structured logger setup.
package infra

import (
	"log/slog"
	"os"
)

func NewLogger(env string) *slog.Logger {
	switch env {
	case "local", "test":
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
