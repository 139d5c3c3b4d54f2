package utils

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type LogConfig struct {
	Level     string
	Console   bool
	Component string
}

type ctxKey string

const ctxReqIDKey ctxKey = "request_id"

// NewLogger builds the process logger. Console output is meant for
// development; production logs are JSON lines.
func NewLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(cfg.Level)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if len(cfg.Component) > 0 {
		ctx = ctx.Str("component", cfg.Component)
	}
	return ctx.Logger()
}

// WithRequestID stores reqID, or a fresh one when empty, in ctx.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if len(reqID) == 0 {
		reqID = uuid.NewString()
	}
	return context.WithValue(ctx, ctxReqIDKey, reqID)
}

func RequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxReqIDKey).(string); ok {
		return s
	}
	return ""
}

// LoggerFromContext returns parent with the request fields of ctx.
func LoggerFromContext(ctx context.Context, parent zerolog.Logger) zerolog.Logger {
	if id := RequestID(ctx); len(id) > 0 {
		return parent.With().Str("request_id", id).Logger()
	}
	return parent
}
