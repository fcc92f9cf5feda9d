package refpool

import (
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// loggerCell wraps the interface so it fits an atomic pointer.
type loggerCell struct {
	logger hclog.Logger
}

var defaultLogger atomic.Pointer[loggerCell]

func init() {
	defaultLogger.Store(&loggerCell{logger: hclog.NewNullLogger()})
}

// SetLogger installs the package-level logger used by components that were
// not given one explicitly. The default logger discards everything.
func SetLogger(logger hclog.Logger) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	defaultLogger.Store(&loggerCell{logger: logger})
}

// packageLogger returns the current package-level logger.
func packageLogger() hclog.Logger {
	return defaultLogger.Load().logger
}
