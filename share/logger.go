package chshare

import (
	"github.com/sammck-go/wsvnc/pkg/logger"
)

// Logger is the leveled, prefix-forking logger used by every component
type Logger = logger.Logger

// LogLevel specifies the level of spew that should go to the log
type LogLevel = logger.LogLevel

// Log levels, re-exported so callers of this package need only one import
const (
	LogLevelError   = logger.LogLevelError
	LogLevelWarning = logger.LogLevelWarning
	LogLevelInfo    = logger.LogLevelInfo
	LogLevelDebug   = logger.LogLevelDebug
	LogLevelTrace   = logger.LogLevelTrace
)

// NewLogger creates a Logger with the given prefix that writes to os.Stderr
func NewLogger(prefix string, logLevel LogLevel) Logger {
	return logger.NewLogger(prefix, logLevel)
}
