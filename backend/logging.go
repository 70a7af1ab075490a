package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/TheKrainBow/tetris-ai/engine"
)

// newLogger builds the process logger: a console writer for humans, plain
// JSON lines otherwise.
func newLogger(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func logSearchStats(logger zerolog.Logger, tag string, stats engine.Stats) {
	logger.Info().Str("tag", tag).Int("searches", stats.Searches).EmbedObject(stats).Msg("search stats")
}
