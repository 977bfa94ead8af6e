package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// bridge adapts slog records onto a zerolog logger so packages written
// against log/slog share the runner's log stream and context fields.
type bridge struct {
	zl     *zerolog.Logger
	prefix string
	attr   []slog.Attr
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&bridge{zl: zl})
}

func toZerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *bridge) Enabled(_ context.Context, l slog.Level) bool {
	return toZerologLevel(l) >= zerolog.GlobalLevel()
}

func (h *bridge) Handle(ctx context.Context, r slog.Record) error {
	ev := FromContext(ctx, h.zl).WithLevel(toZerologLevel(r.Level))

	// accumulated attrs carry their prefix already
	for _, a := range h.attr {
		ev = appendAttr(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, h.prefix, a)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

// WithAttrs qualifies the keys with the group prefix in effect at call
// time, so attrs attached before a group keep their plain keys.
func (h *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	baked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		baked[i] = slog.Attr{Key: h.prefix + a.Key, Value: a.Value}
	}
	cp.attr = append(cp.attr[:len(cp.attr):len(cp.attr)], baked...)
	return &cp
}

// WithGroup flattens groups into dotted key prefixes, zerolog style.
func (h *bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key

	switch a.Value.Kind() {
	case slog.KindGroup:
		childPrefix := prefix
		if a.Key != "" {
			childPrefix = key + "."
		}
		for _, ga := range a.Value.Group() {
			ev = appendAttr(ev, childPrefix, ga)
		}
		return ev
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return ev.Time(key, a.Value.Time())
	default:
		return ev.Interface(key, a.Value.Any())
	}
}
