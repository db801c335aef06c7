package chshare

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// DefaultHTTPShutdownTimeout bounds how long a graceful shutdown waits for in-flight
// plain HTTP requests
const DefaultHTTPShutdownTimeout = 10 * time.Second

// HTTPServer extends net/http Server and adds graceful shutdowns
type HTTPServer struct {
	ShutdownHelper
	*http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
	ready           chan struct{}
}

// NewHTTPServer creates a new HTTPServer
func NewHTTPServer(logger Logger) *HTTPServer {
	h := &HTTPServer{
		Server:          &http.Server{ReadHeaderTimeout: 30 * time.Second},
		shutdownTimeout: DefaultHTTPShutdownTimeout,
		ready:           make(chan struct{}),
	}
	h.InitShutdownHelper(logger.Fork("http"), h)
	return h
}

// HandleOnceShutdown stops accepting, gives in-flight requests a bounded time to
// finish, then closes whatever remains. Hijacked (tunnel) connections are not
// tracked here; their sessions end through the server context.
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	if h.listener == nil {
		return completionErr
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	if err != nil {
		h.DLogf("Graceful shutdown incomplete, closing: %s", err)
		err = h.Server.Close()
	}
	if completionErr == nil || errors.Is(completionErr, context.Canceled) {
		completionErr = err
	}
	return completionErr
}

// Listen binds addr and installs handler without serving yet. It is separate from
// Serve so callers can learn the bound address (for ":0") before serving.
func (h *HTTPServer) Listen(ctx context.Context, addr string, handler http.Handler) error {
	return h.DoOnceActivate(
		func() error {
			h.ShutdownOnContext(ctx)
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return h.DLogErrorf("Listen failed: %s", err)
			}
			h.Handler = handler
			h.listener = l
			h.BaseContext = func(net.Listener) context.Context { return ctx }
			close(h.ready)
			go func() {
				err := h.Serve(l)
				if errors.Is(err, http.ErrServerClosed) {
					err = nil
				}
				h.StartShutdown(err)
			}()
			return nil
		},
		false,
	)
}

// ListenAndServe runs the HTTP server on addr, invoking handler for each request.
// It returns after the server has shut down, either because ctx was cancelled or
// Close was called.
func (h *HTTPServer) ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	if err := h.Listen(ctx, addr, handler); err != nil {
		return err
	}
	return h.WaitShutdown()
}

// ListenAddr returns the bound listener address, or nil before Listen succeeds
func (h *HTTPServer) ListenAddr() net.Addr {
	select {
	case <-h.ready:
		return h.listener.Addr()
	default:
		return nil
	}
}

// Close completely shuts down the server, then returns the final completion code
func (h *HTTPServer) Close() error {
	return h.ShutdownHelper.Close()
}
