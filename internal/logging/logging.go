// Package logging provides utilities for structured logging across the system.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger
//   - Logger scoping happens once at construction time
//   - slog.With() is used to attach default attributes
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination) belongs only in main().
// Components must never call slog.SetDefault or access global loggers.
//
// Logging is intentionally sparse:
//   - No logging inside per-reading paths (decode, classify, buffer append)
//   - Lifecycle boundaries are the intended log points
package logging

import (
	"context"
	"log/slog"
	"sync"
)

// Key is the attribute key components use to identify themselves.
// ComponentFilterHandler keys its per-component levels on it.
const Key = "component"

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
// Use this as a default when no logger is provided.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise returns a discard logger.
// This is the standard pattern for optional logger parameters:
//
//	func NewComponent(logger *slog.Logger) *Component {
//	    logger = logging.Default(logger)
//	    return &Component{logger: logger.With(logging.Key, "name")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ComponentFilterHandler filters records by per-component level overrides
// before passing them to the wrapped handler. Components that scoped their
// logger with With(logging.Key, name) are matched via the handler's attrs;
// records carrying the attribute at the log site are matched by scanning.
// Records without a component attribute use the default level.
//
// Level changes take effect for loggers already derived from the handler.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *levelRegistry
	component string
}

// levelRegistry holds the mutable level state shared by all handler clones.
type levelRegistry struct {
	mu        sync.RWMutex
	fallback  slog.Level
	overrides map[string]slog.Level
}

func (r *levelRegistry) level(component string) slog.Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lvl, ok := r.overrides[component]; ok {
		return lvl
	}
	return r.fallback
}

// floor is the lowest level any component could be enabled at.
func (r *levelRegistry) floor() slog.Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	min := r.fallback
	for _, lvl := range r.overrides {
		if lvl < min {
			min = lvl
		}
	}
	return min
}

// NewComponentFilterHandler wraps next with per-component level filtering.
// defaultLevel applies to components without an override.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		levels: &levelRegistry{
			fallback:  defaultLevel,
			overrides: make(map[string]slog.Level),
		},
	}
}

// SetLevel overrides the minimum level for a single component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	defer h.levels.mu.Unlock()
	h.levels.overrides[component] = level
}

// ClearLevel removes a component's override, restoring the default level.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.levels.mu.Lock()
	defer h.levels.mu.Unlock()
	delete(h.levels.overrides, component)
}

// Level reports the effective minimum level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	return h.levels.level(component)
}

// DefaultLevel reports the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	return h.levels.fallback
}

func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.levels.level(h.component)
	}
	// Component unknown until Handle sees the record; admit anything the
	// most verbose override would accept.
	return level >= h.levels.floor()
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == Key && a.Value.Kind() == slog.KindString {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.levels.level(component) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if a.Key == Key && a.Value.Kind() == slog.KindString {
			clone.component = a.Value.String()
		}
	}
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}
