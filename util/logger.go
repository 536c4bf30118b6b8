// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Records are rendered by a zerolog ConsoleWriter
// so that structured fields attached with [Logger.With] show up as
// key=value pairs after the message.
type Logger struct {
	level      LogLevel
	output     io.Writer
	timestamps bool // if true, prepend 15:04:05.000 timestamps
	fields     []field

	mu sync.Mutex // guards zl rebuilds
	zl zerolog.Logger
}

type field struct{ key, value string }

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	l.timestamps = on
	l.rebuild()
	l.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.rebuild()
	l.mu.Unlock()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that appends key=value to every record.
func (l *Logger) With(key, value string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &Logger{
		level:      l.level,
		output:     l.output,
		timestamps: l.timestamps,
		fields:     append(append([]field(nil), l.fields...), field{key, value}),
	}
	child.rebuild()
	return child
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.logger().Info().Msgf(format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.logger().Warn().Msgf(format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.logger().Debug().Msgf(format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.logger().Trace().Msgf(format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger().Error().Msgf(format, args...)
}

func (l *Logger) logger() *zerolog.Logger {
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()
	return &zl
}

// rebuild recreates the zerolog pipeline.  Callers hold l.mu (or own l
// exclusively during construction).
func (l *Logger) rebuild() {
	parts := []string{zerolog.LevelFieldName, zerolog.MessageFieldName}
	if l.timestamps {
		parts = append([]string{zerolog.TimestampFieldName}, parts...)
	}
	cw := zerolog.ConsoleWriter{
		Out:         l.output,
		NoColor:     true,
		TimeFormat:  "15:04:05.000",
		PartsOrder:  parts,
		FormatLevel: formatLevel,
	}

	ctx := zerolog.New(cw).Level(zerolog.TraceLevel).With()
	if l.timestamps {
		ctx = ctx.Timestamp()
	}
	for _, f := range l.fields {
		ctx = ctx.Str(f.key, f.value)
	}
	l.zl = ctx.Logger()
}

func formatLevel(i interface{}) string {
	s, _ := i.(string)
	switch s {
	case zerolog.LevelTraceValue:
		return "[DBG]"
	case zerolog.LevelDebugValue:
		return "[VRB]"
	case zerolog.LevelInfoValue:
		return "[INF]"
	case zerolog.LevelWarnValue:
		return "[WRN]"
	case zerolog.LevelErrorValue:
		return "[ERR]"
	default:
		return fmt.Sprintf("[%s]", s)
	}
}
