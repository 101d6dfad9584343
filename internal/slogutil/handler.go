package slogutil

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
)

// Hook is called when a slog record is handled.
type Hook interface {
	Run(ctx context.Context, r *slog.Record)
}

// Handler is a slog.Handler that copies context attributes onto every record.
type Handler struct {
	handler slog.Handler
	hooks   []Hook
}

// WrapHandler creates a new Handler with the given slog.Handler.
// If the provided handler is nil, slog's default handler is used.
func WrapHandler(h slog.Handler) Handler {
	if h == nil {
		h = slog.Default().Handler()
	}

	return Handler{
		handler: h,
		hooks:   []Hook{contextHook{}},
	}
}

func (h Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.hooks) > 0 {
		r = r.Clone()

		for _, hook := range h.hooks {
			hook.Run(ctx, &r)
		}
	}

	return h.handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{
		hooks:   h.hooks,
		handler: h.handler.WithAttrs(attrs),
	}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{
		hooks:   h.hooks,
		handler: h.handler.WithGroup(name),
	}
}

// WithHooks returns a copy of the handler running extra hooks.
func (h Handler) WithHooks(hooks ...Hook) Handler {
	if len(hooks) == 0 {
		return h
	}

	return Handler{
		hooks:   slices.Concat(h.hooks, hooks),
		handler: h.handler,
	}
}

type attrsKey struct{}

type attrSet map[string]slog.Attr

// With returns a new context carrying the given key-value pairs. Later keys win.
func With(ctx context.Context, kvargs ...any) context.Context {
	if len(kvargs) == 0 {
		return ctx
	}

	var r slog.Record
	r.Add(kvargs...)

	set := cloneAttrs(ctx)
	r.Attrs(func(a slog.Attr) bool {
		set[a.Key] = a
		return true
	})

	return context.WithValue(ctx, attrsKey{}, set)
}

// Attrs returns the attributes carried by ctx, sorted by key.
func Attrs(ctx context.Context) []slog.Attr {
	set, ok := ctx.Value(attrsKey{}).(attrSet)
	if !ok {
		return nil
	}

	keys := slices.Sorted(maps.Keys(set))
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, set[k])
	}

	return attrs
}

func cloneAttrs(ctx context.Context) attrSet {
	set, ok := ctx.Value(attrsKey{}).(attrSet)
	if !ok {
		return attrSet{}
	}
	return maps.Clone(set)
}

type contextHook struct{}

func (contextHook) Run(ctx context.Context, r *slog.Record) {
	if ctx == nil {
		return
	}
	r.AddAttrs(Attrs(ctx)...)
}

// DynamicLeveler is a slog.Leveler whose level can change at runtime,
// e.g. when the config file is reloaded.
type DynamicLeveler struct {
	level atomic.Int64
}

// NewDynamicLeveler returns a leveler starting at level.
func NewDynamicLeveler(level slog.Level) *DynamicLeveler {
	dl := &DynamicLeveler{}
	dl.SetLevel(level)
	return dl
}

// Level returns the current logging level.
func (dl *DynamicLeveler) Level() slog.Level {
	return slog.Level(dl.level.Load())
}

// SetLevel updates the logging level.
func (dl *DynamicLeveler) SetLevel(level slog.Level) {
	dl.level.Store(int64(level))
}
