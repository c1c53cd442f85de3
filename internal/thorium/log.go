package thorium

import "github.com/btcsuite/btclog/v2"

// log is the package-wide logger for the engine. It defaults to a disabled
// logger so that importing this package has no logging side effects until
// the caller installs one with UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger installs logger as the package-wide logger used by the node
// engine, worker pool, and multiplexer. Callers should invoke this once at
// startup, matching the teacher's per-package UseLogger convention.
func UseLogger(logger btclog.Logger) {
	log = logger
}
