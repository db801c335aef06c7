package wstnet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds a backend connect attempt when no timeout is configured
const DefaultDialTimeout = 30 * time.Second

// Dialer produces the backend half of a tunnel session.
//
// A returned error indicates that the connection failed, but does not prevent future
// connections from succeeding. Dialers never retry; callers wanting resilience must
// layer retry outside.
type Dialer interface {
	DialBackend(ctx context.Context) (net.Conn, error)
}

// BackendDialer opens tuned TCP connections to a fixed (host, port)
type BackendDialer struct {
	host       string
	port       int
	bufferSize int
	timeout    time.Duration
}

// NewBackendDialer creates a BackendDialer. port must be in 1..65535; bufferSize is
// normalized with NormalizeBufferSize; a timeout <= 0 selects DefaultDialTimeout.
func NewBackendDialer(host string, port int, bufferSize int, timeout time.Duration) (*BackendDialer, error) {
	if host == "" {
		return nil, fmt.Errorf("backend host is required")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("backend port %d is out of range 1..65535", port)
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &BackendDialer{
		host:       host,
		port:       port,
		bufferSize: NormalizeBufferSize(bufferSize),
		timeout:    timeout,
	}, nil
}

// Addr returns the backend "host:port"
func (d *BackendDialer) Addr() string {
	return net.JoinHostPort(d.host, strconv.Itoa(d.port))
}

func (d *BackendDialer) String() string {
	return d.Addr()
}

// DialBackend connects to the backend. The returned connection has Nagle's
// algorithm disabled and its kernel send/receive buffers sized to the configured
// buffer size. Failures are returned as *DialError.
func (d *BackendDialer) DialBackend(ctx context.Context) (net.Conn, error) {
	addr := d.Addr()
	nd := net.Dialer{Timeout: d.timeout}
	netConn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DialError{Addr: addr, Kind: classifyDialError(ctx, err), Err: err}
	}
	if tcpConn, ok := netConn.(*net.TCPConn); ok {
		if err := tuneTCPConn(tcpConn, d.bufferSize); err != nil {
			tcpConn.Close()
			return nil, &DialError{Addr: addr, Kind: DialFailureOther, Err: err}
		}
	}
	return netConn, nil
}

func tuneTCPConn(c *net.TCPConn, bufferSize int) error {
	if err := c.SetNoDelay(true); err != nil {
		return fmt.Errorf("SetNoDelay: %w", err)
	}
	if err := c.SetReadBuffer(bufferSize); err != nil {
		return fmt.Errorf("SetReadBuffer(%d): %w", bufferSize, err)
	}
	if err := c.SetWriteBuffer(bufferSize); err != nil {
		return fmt.Errorf("SetWriteBuffer(%d): %w", bufferSize, err)
	}
	return nil
}

// DialerFunc adapts an ordinary function to the Dialer interface
type DialerFunc func(ctx context.Context) (net.Conn, error)

// DialBackend calls f(ctx)
func (f DialerFunc) DialBackend(ctx context.Context) (net.Conn, error) {
	return f(ctx)
}
