package chshare

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/jpillora/requestlog"

	"github.com/sammck-go/wsvnc/pkg/wstnet"
)

// BuildVersion is the version reported by /version; it is set at link time
var BuildVersion = "0.0.0-src"

// Server is the wsvnc HTTP service: the WebSocket tunnel to the VNC backend plus
// the noVNC client pages and assets, all behind one Basic auth gate
type Server struct {
	ShutdownHelper
	config     ServerConfig
	tunnelPath string
	connStats  ConnStats
	httpServer *HTTPServer
	tunnel     *wstnet.Tunnel
	users      *UserIndex
	pages      *PageCache
	static     http.Handler
	metrics    *Metrics

	metricsHandler http.Handler

	// cancel ends every running session; sessions counts them
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewServer validates config and creates a Server. Nothing listens until Start or
// Run.
func NewServer(logger Logger, config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		config:     config,
		tunnelPath: config.Websockify.Path,
		metrics:    NewMetrics(),
	}
	s.InitShutdownHelper(logger.Fork("server"), s)
	s.httpServer = NewHTTPServer(s.Logger)

	s.users = NewUserIndex(s.Logger)
	if config.BasicAuth.Enabled {
		if config.BasicAuth.Username != "" {
			s.users.AddUser(&User{Name: config.BasicAuth.Username, Pass: config.BasicAuth.Password})
		}
		if config.BasicAuth.AuthFile != "" {
			if err := s.users.LoadUsers(config.BasicAuth.AuthFile); err != nil {
				return nil, err
			}
		}
	}

	tunnel, err := wstnet.NewTunnel(s.Logger.Fork("tunnel"), wstnet.TunnelConfig{
		Host:         config.Websockify.Host,
		Port:         config.Websockify.Port,
		BufferSize:   config.Websockify.BufferSize,
		DialTimeout:  config.DialTimeout,
		CloseTimeout: config.CloseTimeout,
		Observer:     s.metrics,
	})
	if err != nil {
		s.users.Close()
		return nil, s.Errorf("Invalid tunnel configuration: %s", err)
	}
	s.tunnel = tunnel

	s.pages = NewPageCache(s.Logger, config.WebRoot, config.PageTTL)
	if fi, err := os.Stat(config.WebRoot); err != nil || !fi.IsDir() {
		s.WLogf("Web root %q is not a directory; pages and assets will not be found", config.WebRoot)
	} else if err := s.pages.Watch(); err != nil {
		s.WLogf("Page changes will not be noticed before expiry: %s", err)
	}
	s.static = http.FileServer(http.Dir(config.WebRoot))
	s.metricsHandler = s.metrics.Handler()
	return s, nil
}

// Start begins listening and serving, and returns once the listener is bound.
// Cancelling ctx shuts the server down and ends every tunnel session.
func (s *Server) Start(ctx context.Context) error {
	return s.DoOnceActivate(
		func() error {
			s.ShutdownOnContext(ctx)
			sessCtx, cancel := context.WithCancel(ctx)
			s.cancel = cancel

			if s.config.BasicAuth.Enabled {
				s.ILogf("Basic authentication enabled (%d users)", s.users.Len())
			} else {
				s.WLogf("Basic authentication disabled; every request runs as %q", AnonymousUserName)
			}
			s.ILogf("Tunnel %s -> %s:%d (buffer %d)", s.tunnelPath,
				s.config.Websockify.Host, s.config.Websockify.Port, s.tunnel.BufferSize())

			h := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				s.handleRequest(sessCtx, w, r)
			}))
			if s.GetLogLevel() >= LogLevelDebug {
				h = requestlog.Wrap(h)
			}

			if err := s.httpServer.Listen(sessCtx, s.config.Listen, h); err != nil {
				cancel()
				return err
			}
			s.ILogf("Listening on %s...", s.httpServer.ListenAddr())
			go func() {
				<-s.httpServer.ShutdownDoneChan()
				s.StartShutdown(s.httpServer.WaitShutdown())
			}()
			return nil
		},
		true,
	)
}

// Run starts the server and blocks until it has shut down
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.WaitShutdown()
}

// ListenAddr returns the bound address, or nil before Start succeeds
func (s *Server) ListenAddr() net.Addr {
	return s.httpServer.ListenAddr()
}

// Users returns the server's user index
func (s *Server) Users() *UserIndex {
	return s.users
}

// Metrics returns the server's Prometheus collectors
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// HandleOnceShutdown stops the HTTP server, ends every tunnel session and waits
// for them to release their sockets
func (s *Server) HandleOnceShutdown(completionErr error) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.httpServer.Close()
	s.sessions.Wait()
	s.DLogf("All sessions closed %v", &s.connStats)
	if uerr := s.users.Close(); err == nil {
		err = uerr
	}
	if perr := s.pages.Close(); err == nil {
		err = perr
	}
	if completionErr == nil || errors.Is(completionErr, context.Canceled) {
		completionErr = err
	}
	return completionErr
}
