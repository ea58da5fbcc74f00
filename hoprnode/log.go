package hoprnode

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"

	"github.com/hoprnet/hopr-core/healthcheck"
)

// log is this package's own logger.
var log = btclog.Disabled

// UseLogger sets the logger used by this package directly, without
// affecting any other package's logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// InitLogging builds a single btclog backend writing to w and registers a
// per-package sub-logger with every package in this module that declares
// its own UseLogger hook, the way the teacher's root log.go registers one
// sub-logger per subsystem against a shared backend. cmd/hoprd calls this
// once at startup; tests that construct a Node directly never call it; they
// run against each package's default btclog.Disabled instead.
func InitLogging(w io.Writer) {
	backend := btclog.NewBackend(w)

	UseLogger(backend.Logger("NODE"))
	healthcheck.UseLogger(backend.Logger("HLTH"))
}

// DefaultLogging wires InitLogging against stdout.
func DefaultLogging() {
	InitLogging(os.Stdout)
}
