package wstnet

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sammck-go/wsvnc/pkg/logger"
)

// TunnelConfig configures a Tunnel
type TunnelConfig struct {
	// Host and Port locate the backend TCP service
	Host string
	Port int

	// BufferSize is the transfer buffer size; values below MinBufferSize fall back
	// to RecommendedBufferSize
	BufferSize int

	// DialTimeout bounds the backend connect; <= 0 selects DefaultDialTimeout
	DialTimeout time.Duration

	// CloseTimeout bounds the graceful WebSocket close; <= 0 selects DefaultCloseTimeout
	CloseTimeout time.Duration

	// Dialer overrides the BackendDialer built from Host and Port
	Dialer Dialer

	// Observer is notified of tunnel lifecycle events; nil means NopObserver
	Observer Observer
}

// Tunnel serves WebSocket upgrade requests by pairing each with a fresh backend
// TCP connection and pumping bytes between them.
type Tunnel struct {
	logger.Logger
	gate         *UpgradeGate
	dialer       Dialer
	pool         BufferPool
	bufferSize   int
	backendAddr  string
	closeTimeout time.Duration
	observer     Observer
}

// NewTunnel validates cfg and creates a Tunnel
func NewTunnel(lg logger.Logger, cfg TunnelConfig) (*Tunnel, error) {
	bufferSize := NormalizeBufferSize(cfg.BufferSize)
	dialer := cfg.Dialer
	backendAddr := ""
	if dialer == nil {
		bd, err := NewBackendDialer(cfg.Host, cfg.Port, bufferSize, cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		dialer = bd
		backendAddr = bd.Addr()
	}
	t := &Tunnel{
		Logger:       lg,
		gate:         NewUpgradeGate(bufferSize),
		dialer:       dialer,
		pool:         NewBufferPool(bufferSize),
		bufferSize:   bufferSize,
		backendAddr:  backendAddr,
		closeTimeout: cfg.CloseTimeout,
		observer:     cfg.Observer,
	}
	if t.closeTimeout <= 0 {
		t.closeTimeout = DefaultCloseTimeout
	}
	if t.observer == nil {
		t.observer = NopObserver{}
	}
	return t, nil
}

// BufferSize returns the effective transfer buffer size
func (t *Tunnel) BufferSize() int {
	return t.bufferSize
}

// Serve handles one tunnel request and does not return until the session is over.
// The session is cancelled when either the request context or ctx (typically the
// server's lifetime) is done.
func (t *Tunnel) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sessCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	wsConn, err := t.gate.Accept(w, r)
	if err != nil {
		t.DLogf("Rejected %s %s from %s: %s", r.Method, r.URL.Path, r.RemoteAddr, err)
		t.observer.UpgradeRejected(r, err)
		return err
	}

	backend, err := t.dialer.DialBackend(sessCtx)
	if err != nil {
		t.ELogf("Backend unavailable for %s: %s", r.RemoteAddr, err)
		t.observer.DialFailed(err)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend unavailable")
		if werr := wsConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.closeTimeout)); werr != nil {
			t.DLogf("Close after dial failure failed, ignoring: %s", werr)
		}
		wsConn.Close()
		return err
	}

	sess := NewSession(sessCtx, t.Logger, wsConn, backend, SessionConfig{
		BufferPool:   t.pool,
		BackendAddr:  t.backendAddr,
		CloseTimeout: t.closeTimeout,
		Observer:     t.observer,
	})
	return sess.Run()
}
