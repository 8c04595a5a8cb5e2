package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

const componentKey = "component"

// zlHandler bridges slog onto zerolog. A "component" attr replaces the
// component field instead of adding a second one, and a component set on the
// request context wins over both.
type zlHandler struct {
	zl        *zerolog.Logger
	component string
	group     string
	attr      []slog.Attr
}

func NewSlog(zl *zerolog.Logger, component string) *slog.Logger {
	return slog.New(&zlHandler{zl: zl, component: component})
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l <= slog.LevelDebug:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *zlHandler) Enabled(_ context.Context, l slog.Level) bool {
	lvl := zerologLevel(l)
	if lvl < zerolog.GlobalLevel() {
		return false
	}
	return h.zl == nil || lvl >= h.zl.GetLevel()
}

func (h *zlHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	var extra []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if h.group == "" && a.Key == componentKey && a.Value.Kind() == slog.KindString {
			component = a.Value.String()
			return true
		}
		extra = append(extra, a)
		return true
	})
	if v, _ := ctx.Value(ctxComponent).(string); v == "" {
		ctx = WithComponent(ctx, component)
	}
	base := FromContext(ctx, h.zl)

	var ev *zerolog.Event
	switch zerologLevel(r.Level) {
	case zerolog.DebugLevel:
		ev = base.Debug()
	case zerolog.WarnLevel:
		ev = base.Warn()
	case zerolog.ErrorLevel:
		ev = base.Error()
	default:
		ev = base.Info()
	}

	for _, a := range h.attr {
		ev = addAttr(ev, "", a)
	}
	for _, a := range extra {
		ev = addAttr(ev, h.group, a)
	}

	ev.Msg(r.Message)
	return nil
}

func (h *zlHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attr = append([]slog.Attr(nil), h.attr...)
	for _, a := range attrs {
		if h.group == "" && a.Key == componentKey && a.Value.Kind() == slog.KindString {
			cp.component = a.Value.String()
			continue
		}
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		cp.attr = append(cp.attr, a)
	}
	return &cp
}

func (h *zlHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	if cp.group == "" {
		cp.group = name
	} else {
		cp.group += "." + name
	}
	return &cp
}

func addAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	}
	switch a.Value.Kind() {
	case slog.KindGroup:
		p := key
		if a.Key == "" {
			p = prefix
		}
		for _, ga := range a.Value.Group() {
			ev = addAttr(ev, p, ga)
		}
		return ev
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	default:
		if err, ok := a.Value.Any().(error); ok {
			return ev.AnErr(key, err)
		}
		return ev.Interface(key, a.Value.Any())
	}
}
