package pipeline

import "log"

// Logf is the package-level logger. Messages carry a bracketed component tag
// such as [PIPELINE] or [MQTT].
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
