package wstnet

import (
	"net/http"
	"time"
)

// SessionStats summarizes a session; the final value is reported when it closes
type SessionStats struct {
	ID             int64
	BackendAddr    string
	BytesToClient  int64
	BytesToBackend int64
	Duration       time.Duration

	// FirstExit is the direction whose loop finished first
	FirstExit Direction

	// Err is the fault that ended the session, or nil for a clean or cancelled end
	Err error
}

// Observer receives tunnel lifecycle notifications. Methods are called from
// request goroutines and must be safe for concurrent use.
type Observer interface {
	UpgradeRejected(r *http.Request, err error)
	DialFailed(err error)
	SessionOpened(stats SessionStats)
	SessionClosed(stats SessionStats)
}

// NopObserver ignores every notification
type NopObserver struct{}

func (NopObserver) UpgradeRejected(*http.Request, error) {}
func (NopObserver) DialFailed(error)                     {}
func (NopObserver) SessionOpened(SessionStats)           {}
func (NopObserver) SessionClosed(SessionStats)           {}
