package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return level
}

// Setup configures the global logger. Human readable output is coloured only
// when stderr is a terminal.
func Setup(conf config.LoggingConfig) {
	SetupWriter(conf, os.Stderr)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(conf config.LoggingConfig, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(conf.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	if conf.JSON {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}

	color := false
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		color = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !color,
		TimeFormat: time.TimeOnly,
	}).With().Timestamp().Logger()
}

// IsDebug reports whether debug messages are emitted.
func IsDebug() bool {
	return zerolog.GlobalLevel() <= zerolog.DebugLevel
}

// GinMiddleware logs every request once it has been handled.
func GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		if len(ctx.Errors) > 0 {
			event = event.Str("errors", ctx.Errors.String())
		}
		event.
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("status", status).
			Str("clientIP", ctx.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
