// Package logx wraps logrus with the emulator's own five-level scheme
// (ERROR < WARN < CALLS < CALLS_SP < INSTRS, each enabling everything
// below it), following the module-tagged entry pattern used elsewhere in
// the ARM emulation corpus for per-subsystem log gating.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level is the emulator's own log-level scale, distinct from logrus's
// levels so callers don't need to know the mapping.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelCalls
	LevelCallsSP
	LevelInstrs
)

// ParseLevel accepts the spelling used by the CLI's --loglevel flag.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "error", "err":
		return LevelError, true
	case "warning", "warn":
		return LevelWarn, true
	case "calls":
		return LevelCalls, true
	case "calls_sp":
		return LevelCallsSP, true
	case "instrs":
		return LevelInstrs, true
	default:
		return LevelError, false
	}
}

// Logger is a per-subsystem logging handle. The zero value is not usable;
// construct with New.
type Logger struct {
	entry *logrus.Entry
	level Level
}

// New builds a Logger tagged with subsystem, logging to stderr, gated at
// level.
func New(subsystem string, level Level) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.TraceLevel)
	base.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &Logger{
		entry: base.WithField("subsystem", subsystem),
		level: level,
	}
}

// WithLevel returns a copy of the logger gated at a different level,
// keeping the same subsystem tag. Used when BKPT 0x80/0x81 raise or
// lower the CPU's log level at runtime.
func (l *Logger) WithLevel(level Level) *Logger {
	return &Logger{entry: l.entry, level: level}
}

func (l *Logger) enabled(min Level) bool {
	return l.level >= min
}

// Error always logs; it is the floor of the scale.
func (l *Logger) Error(args ...any) {
	l.entry.Error(args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

// Warn logs at WARN and above.
func (l *Logger) Warn(args ...any) {
	if l.enabled(LevelWarn) {
		l.entry.Warn(args...)
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l.enabled(LevelWarn) {
		l.entry.Warnf(format, args...)
	}
}

// Call logs a branch/stack-related instruction (BL, BLX, PUSH/POP LR/PC).
func (l *Logger) Call(args ...any) {
	if l.enabled(LevelCalls) {
		l.entry.Info(args...)
	}
}

func (l *Logger) Callf(format string, args ...any) {
	if l.enabled(LevelCalls) {
		l.entry.Infof(format, args...)
	}
}

// CallSP additionally logs SP at the call/return boundary.
func (l *Logger) CallSP(sp uint32, args ...any) {
	if l.enabled(LevelCallsSP) {
		l.entry.WithField("sp", sp).Info(args...)
	}
}

// Instr logs every decoded instruction; by far the noisiest level.
func (l *Logger) Instr(args ...any) {
	if l.enabled(LevelInstrs) {
		l.entry.Debug(args...)
	}
}

func (l *Logger) Instrf(format string, args ...any) {
	if l.enabled(LevelInstrs) {
		l.entry.Debugf(format, args...)
	}
}

// Level reports the logger's current gate.
func (l *Logger) Level() Level {
	return l.level
}
