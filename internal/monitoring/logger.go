// Package monitoring carries the service's logging, metrics and tracing.
// Components log through Logf with a "[component]" prefix.
package monitoring

import "log"

// Logf is the process-wide log function. It starts as log.Printf; cmd/survey
// swaps in zap through SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. nil discards all output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}
