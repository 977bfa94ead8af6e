package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Driver    string
	Component string
}

// ctxKey values double as the log field names they populate.
type ctxKey string

const (
	keyRequestID ctxKey = "request_id"
	keyRunID     ctxKey = "run_id"
	keyComponent ctxKey = "component"
	keyDriver    ctxKey = "driver"
)

// WithRequestID stores id on the context, minting one when empty.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewID()
	}
	return context.WithValue(ctx, keyRequestID, id)
}

func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRunID, id)
}

func WithDriver(ctx context.Context, driver string) context.Context {
	if driver == "" {
		return ctx
	}
	return context.WithValue(ctx, keyDriver, driver)
}

func WithComponent(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, keyComponent, name)
}

// NewID returns 8 random bytes, hex encoded.
func NewID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Build constructs the process root logger and sets the zerolog globals
// every child inherits: field names, time format and the global level.
func Build(cfg Config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	root := zerolog.New(w)
	if cfg.SampleN > 1 {
		root = root.Sample(&zerolog.BasicSampler{
			N: uint32(min(int64(cfg.SampleN), math.MaxUint32)),
		})
	}

	lc := root.With().Timestamp()
	if cfg.Driver != "" {
		lc = lc.Str("driver", cfg.Driver)
	}
	if cfg.Component != "" {
		lc = lc.Str("component", cfg.Component)
	}
	return lc.Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// FromContext returns a child of parent carrying whatever ids the context
// holds.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	root := zerolog.New(io.Discard)
	if parent != nil {
		root = *parent
	}

	lc := root.With()
	for _, k := range []ctxKey{keyRequestID, keyRunID, keyDriver, keyComponent} {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			lc = lc.Str(string(k), s)
		}
	}
	child := lc.Logger()
	return &child
}
