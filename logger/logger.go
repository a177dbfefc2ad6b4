// Package logger provides structured logging for triplit.
//
// The logger supports the usual severity hierarchy (TRACE, DEBUG, INFO,
// WARN, ERROR) plus per-subsystem trace gating: TRACE-level calls tagged
// with a subsystem (via TraceIf) are only emitted when that subsystem has
// been enabled with EnableTrace, so a caller can turn on "diff" or "store"
// tracing without drowning in every other subsystem's trace output.
//
// Output is handled by logrus; this package only owns level/subsystem
// policy and call-site ergonomics (printf-style formatting, no field
// builders required for the common case).
package logger

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level so callers don't need to import logrus directly.
type Level = logrus.Level

const (
	TRACE = logrus.TraceLevel
	DEBUG = logrus.DebugLevel
	INFO  = logrus.InfoLevel
	WARN  = logrus.WarnLevel
	ERROR = logrus.ErrorLevel
)

var std = logrus.New()

func init() {
	std.SetLevel(logrus.InfoLevel)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

var (
	traceMu         sync.RWMutex
	traceSubsystems = make(map[string]bool)
)

// SetLogLevel sets the minimum level by name ("trace", "debug", "info",
// "warn", "error"); unrecognized names return an error and leave the
// level unchanged.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	std.SetLevel(lvl)
	Info("log level changed to %s", strings.ToUpper(level))
	return nil
}

// GetLogLevel returns the current minimum level's name, upper-cased.
func GetLogLevel() string {
	return strings.ToUpper(std.GetLevel().String())
}

// EnableTrace turns on TRACE output for the given subsystems.
func EnableTrace(subsystems ...string) {
	traceMu.Lock()
	defer traceMu.Unlock()
	for _, s := range subsystems {
		traceSubsystems[s] = true
	}
}

// DisableTrace turns off TRACE output for the given subsystems.
func DisableTrace(subsystems ...string) {
	traceMu.Lock()
	defer traceMu.Unlock()
	for _, s := range subsystems {
		delete(traceSubsystems, s)
	}
}

// ClearTrace disables all trace subsystems.
func ClearTrace() {
	traceMu.Lock()
	defer traceMu.Unlock()
	traceSubsystems = make(map[string]bool)
}

// GetTraceSubsystems returns the currently enabled trace subsystems.
func GetTraceSubsystems() []string {
	traceMu.RLock()
	defer traceMu.RUnlock()
	out := make([]string, 0, len(traceSubsystems))
	for s := range traceSubsystems {
		out = append(out, s)
	}
	return out
}

func isTraceEnabled(subsystem string) bool {
	traceMu.RLock()
	defer traceMu.RUnlock()
	return traceSubsystems[subsystem]
}

// TraceIf logs at TRACE level only if the named subsystem has been
// enabled via EnableTrace.
func TraceIf(subsystem string, format string, args ...interface{}) {
	if !isTraceEnabled(subsystem) {
		return
	}
	std.WithField("subsystem", subsystem).Tracef(format, args...)
}

func Trace(format string, args ...interface{}) { std.Tracef(format, args...) }
func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { std.Fatalf(format, args...) }
func Panic(format string, args ...interface{}) { std.Panicf(format, args...) }

// Aliases kept for call sites that prefer the explicit "-f" spelling.
var (
	Tracef = Trace
	Debugf = Debug
	Infof  = Info
	Warnf  = Warn
	Errorf = Error
	Fatalf = Fatal
	Panicf = Panic
)
