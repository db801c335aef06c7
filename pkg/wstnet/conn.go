package wstnet

import (
	"io"
	"net"
	"time"
)

// MessageConn is the message-oriented side of a tunnel session: the subset of
// *websocket.Conn that a Session drives. It supports discrete receive of whole
// messages, discrete send of binary messages, and close frames.
//
// As with *websocket.Conn, at most one goroutine may call the read methods
// (NextReader) and at most one the write methods (WriteMessage) concurrently.
// WriteControl and Close may be called from any goroutine. Blocked reads and
// writes are interrupted through the deadlines of UnderlyingConn, never through
// the message-level deadline setters.
type MessageConn interface {
	io.Closer

	// NextReader returns the next data message. A close frame from the peer is
	// reported as a *websocket.CloseError after the close handler has run.
	NextReader() (messageType int, r io.Reader, err error)

	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetCloseHandler(h func(code int, text string) error)

	// UnderlyingConn is the transport under the message framing
	UnderlyingConn() net.Conn
}

// wsState tracks the close handshake of the MessageConn side of a session
type wsState int32

const (
	wsOpen wsState = iota
	wsCloseReceived
	wsCloseSent
	wsClosed
)
