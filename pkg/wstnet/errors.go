package wstnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

var (
	// ErrUpgradeRejected is returned by UpgradeGate.Accept when the request is not a
	// usable WebSocket upgrade request. A response has already been written.
	ErrUpgradeRejected = errors.New("websocket upgrade rejected")

	// ErrCanceled is reported by a copy loop that stopped because the session's
	// cancellation signal fired. It is an expected exit, not a fault.
	ErrCanceled = errors.New("session canceled")
)

// DialFailureKind classifies why a backend dial failed
type DialFailureKind int

const (
	// DialFailureOther is any failure not covered by a more specific kind
	DialFailureOther DialFailureKind = iota

	// DialFailureRefused means the backend actively refused the connection
	DialFailureRefused

	// DialFailureTimeout means the dial timed out
	DialFailureTimeout

	// DialFailureUnreachable means no route to the backend host or network
	DialFailureUnreachable

	// DialFailureCanceled means the dial context was cancelled before connecting
	DialFailureCanceled
)

var dialFailureKindNames = [...]string{"other", "refused", "timeout", "unreachable", "canceled"}

func (k DialFailureKind) String() string {
	if k < 0 || int(k) >= len(dialFailureKindNames) {
		return "other"
	}
	return dialFailureKindNames[k]
}

// DialError is returned by BackendDialer when the backend cannot be reached
type DialError struct {
	Addr string
	Kind DialFailureKind
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s failed (%s): %s", e.Addr, e.Kind, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the dial failed because of a timeout
func (e *DialError) Timeout() bool {
	return e.Kind == DialFailureTimeout
}

func classifyDialError(ctx context.Context, err error) DialFailureKind {
	switch {
	case errors.Is(err, context.Canceled), ctx.Err() == context.Canceled:
		return DialFailureCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return DialFailureTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return DialFailureRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return DialFailureUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return DialFailureTimeout
		}
		return DialFailureUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return DialFailureTimeout
	}
	return DialFailureOther
}

// Direction tags one of the two copy loops of a session
type Direction int

const (
	// DirectionBackendToClient copies TCP reads into binary WebSocket messages
	DirectionBackendToClient Direction = iota

	// DirectionClientToBackend copies WebSocket message payloads onto the TCP socket
	DirectionClientToBackend
)

func (d Direction) String() string {
	if d == DirectionBackendToClient {
		return "backend->client"
	}
	return "client->backend"
}

// TransferError is a transport failure in one direction of a running session
type TransferError struct {
	Direction Direction
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer failed: %s", e.Direction, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
