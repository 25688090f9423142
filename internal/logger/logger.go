package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/jwebster45206/consequence-engine/internal/config"
)

// Setup configures the global slog logger based on environment
func Setup(cfg *config.Config) *slog.Logger {
	return setup(os.Stdout, cfg)
}

func setup(w io.Writer, cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler).With("service", "consequence-engine")
	slog.SetDefault(logger)

	return logger
}

// WithScenario scopes a logger to one scenario
func WithScenario(logger *slog.Logger, scenarioID string) *slog.Logger {
	return logger.With("scenario_id", scenarioID)
}

// WithPlayer scopes a logger to one player
func WithPlayer(logger *slog.Logger, playerID string) *slog.Logger {
	return logger.With("player_id", playerID)
}

// WithError adds error to logger context
func WithError(logger *slog.Logger, err error) *slog.Logger {
	return logger.With("error", err.Error())
}
