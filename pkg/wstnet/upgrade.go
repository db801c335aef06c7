package wstnet

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// BinarySubprotocol is the WebSocket subprotocol noVNC offers for raw binary framing
const BinarySubprotocol = "binary"

// UpgradeGate admits genuine WebSocket upgrade requests and completes the
// handshake. It never touches the backend.
type UpgradeGate struct {
	upgrader websocket.Upgrader
}

// NewUpgradeGate creates an UpgradeGate whose connections use bufferSize for the
// WebSocket read and write buffers. Any origin is accepted; authentication is the
// caller's concern.
func NewUpgradeGate(bufferSize int) *UpgradeGate {
	bufferSize = NormalizeBufferSize(bufferSize)
	return &UpgradeGate{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   bufferSize,
			WriteBufferSize:  bufferSize,
			Subprotocols:     []string{BinarySubprotocol},
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// IsUpgradeRequest reports whether r is a GET asking for a WebSocket upgrade
func (g *UpgradeGate) IsUpgradeRequest(r *http.Request) bool {
	return r.Method == http.MethodGet && websocket.IsWebSocketUpgrade(r)
}

// Accept completes the upgrade handshake. If r is not a GET WebSocket upgrade request,
// a 400 response is written and ErrUpgradeRejected is returned. If the handshake
// itself fails, the upgrader has already replied with an error status and
// ErrUpgradeRejected (wrapping the cause) is returned.
func (g *UpgradeGate) Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	if !g.IsUpgradeRequest(r) {
		http.Error(w, "Bad Request: websocket upgrade required", http.StatusBadRequest)
		return nil, ErrUpgradeRejected
	}
	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &upgradeError{err: err}
	}
	return wsConn, nil
}

type upgradeError struct {
	err error
}

func (e *upgradeError) Error() string {
	return ErrUpgradeRejected.Error() + ": " + e.err.Error()
}

func (e *upgradeError) Is(target error) bool {
	return target == ErrUpgradeRejected
}

func (e *upgradeError) Unwrap() error {
	return e.err
}
