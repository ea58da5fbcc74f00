package healthcheck

import "github.com/btcsuite/btclog"

// log is the package-level logger, disabled until the node bootstrap calls
// UseLogger.
var log = btclog.Disabled

// UseLogger sets the logger used by this package's health monitor.
func UseLogger(logger btclog.Logger) {
	log = logger
}
