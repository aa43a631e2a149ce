// Package logging builds stage-scoped child loggers. The base logger is
// constructed at the most verbose configured level; per-stage overrides
// then raise it back up with zap.IncreaseLevel, which can only tighten.
package logging

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseStageLevels parses a "stage=level,stage=level" override string.
func ParseStageLevels(s string) (map[string]zapcore.Level, error) {
	out := map[string]zapcore.Level{}
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, eris.Errorf("logging: malformed stage level %q", pair)
		}
		lvl, err := zapcore.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "logging: stage %q", name)
		}
		out[strings.TrimSpace(name)] = lvl
	}
	return out, nil
}

// MinLevel returns the most verbose of the base level and all stage
// overrides. The root logger must be built at this level so stage children
// can reach their configured verbosity.
func MinLevel(base zapcore.Level, stages map[string]zapcore.Level) zapcore.Level {
	min := base
	for _, lvl := range stages {
		if lvl < min {
			min = lvl
		}
	}
	return min
}

// Binder hands out child loggers bound to a run's identifiers.
type Binder struct {
	root   *zap.Logger
	base   zapcore.Level
	stages map[string]zapcore.Level
}

// NewBinder wraps a root logger built at MinLevel(base, stages).
func NewBinder(root *zap.Logger, base zapcore.Level, stages map[string]zapcore.Level) *Binder {
	if stages == nil {
		stages = map[string]zapcore.Level{}
	}
	return &Binder{root: root, base: base, stages: stages}
}

// Stage returns a child logger for a pipeline stage at that stage's
// configured level.
func (b *Binder) Stage(stage string) *zap.Logger {
	lvl, ok := b.stages[stage]
	if !ok {
		lvl = b.base
	}
	return b.root.WithOptions(zap.IncreaseLevel(lvl)).With(zap.String("stage", stage))
}

// Run binds the identifiers every log line in a run should carry.
func (b *Binder) Run(runID, clientID, source string) *Binder {
	fields := []zap.Field{zap.String("run_id", runID), zap.String("source", source)}
	if clientID != "" {
		fields = append(fields, zap.String("client", clientID))
	}
	return &Binder{root: b.root.With(fields...), base: b.base, stages: b.stages}
}

// Root returns the underlying logger with any bound fields.
func (b *Binder) Root() *zap.Logger {
	return b.root
}
