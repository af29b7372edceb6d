// Package monitoring holds the process-wide diagnostic logger shared by the
// pipeline workers. Keeping it swappable lets tests mute or capture output.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Verbose enables per-sample diagnostics on the hot path. Off by default;
// the sampling path logs nothing unless explicitly asked to.
var Verbose bool

// Debugf logs only when Verbose is enabled.
func Debugf(format string, v ...interface{}) {
	if Verbose {
		Logf(format, v...)
	}
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
