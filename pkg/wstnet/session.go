package wstnet

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/sizestr"

	"github.com/sammck-go/wsvnc/pkg/logger"
)

// DefaultCloseTimeout bounds the graceful WebSocket close attempt during teardown
const DefaultCloseTimeout = 5 * time.Second

const normalCloseText = "connection closed"

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O
var aLongTimeAgo = time.Unix(1, 0)

var lastSessionID int64

// SessionConfig carries the per-session settings that do not come from the two handles
type SessionConfig struct {
	// BufferPool supplies the two transfer buffers. Required.
	BufferPool BufferPool

	// BackendAddr is used for logging and stats only
	BackendAddr string

	// CloseTimeout bounds the graceful close handshake; <= 0 selects DefaultCloseTimeout
	CloseTimeout time.Duration

	// Observer is notified when the session opens and closes; nil means NopObserver
	Observer Observer
}

// Session is one tunnel: an accepted WebSocket paired with a dialed backend socket,
// and the two copy loops between them. A Session is created only after both
// handles exist; Run closes both exactly once, whichever way the session ends.
type Session struct {
	logger.Logger

	id           int64
	ws           MessageConn
	backend      net.Conn
	pool         BufferPool
	backendAddr  string
	closeTimeout time.Duration
	observer     Observer

	// ctx is the shared cancellation signal; cancel is idempotent
	ctx    context.Context
	cancel context.CancelFunc

	state   stateCell
	wsState atomic.Int32
	running atomic.Bool

	// peer close code/text, written by the close handler in the client->backend
	// loop and read by teardown after that loop has exited
	peerCloseCode int
	peerCloseText string

	bytesToClient  atomic.Int64
	bytesToBackend atomic.Int64
	started        atomic.Pointer[time.Time]

	closeBackendOnce sync.Once
	closeClientOnce  sync.Once

	interrupted chan struct{}
	done        chan struct{}
	stats       SessionStats
}

// NewSession creates a Session over an upgraded connection and a connected backend
// socket. The session's cancellation signal is derived from ctx, so cancelling ctx
// (request gone, process shutting down) ends the session. Ownership of both handles
// passes to the Session.
func NewSession(
	ctx context.Context,
	lg logger.Logger,
	ws MessageConn,
	backend net.Conn,
	cfg SessionConfig,
) *Session {
	id := atomic.AddInt64(&lastSessionID, 1)
	s := &Session{
		Logger:       lg.Fork("session#%d", id),
		id:           id,
		ws:           ws,
		backend:      backend,
		pool:         cfg.BufferPool,
		backendAddr:  cfg.BackendAddr,
		closeTimeout: cfg.CloseTimeout,
		observer:     cfg.Observer,
		interrupted:  make(chan struct{}),
		done:         make(chan struct{}),
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = DefaultCloseTimeout
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.backendAddr == "" && backend.RemoteAddr() != nil {
		s.backendAddr = backend.RemoteAddr().String()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	ws.SetCloseHandler(s.handlePeerClose)
	return s
}

// ID returns the process-unique session number
func (s *Session) ID() int64 {
	return s.id
}

// State returns the current teardown state
func (s *Session) State() SessionState {
	return s.state.load()
}

// Done returns a channel that is closed once the session reaches StateClosed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel fires the session's cancellation signal. It may be called any number of
// times from any goroutine.
func (s *Session) Cancel() {
	s.cancel()
}

// Stats returns a snapshot of the session counters. After Done is closed it returns
// the final stats.
func (s *Session) Stats() SessionStats {
	select {
	case <-s.done:
		return s.stats
	default:
	}
	return s.snapshot()
}

func (s *Session) snapshot() SessionStats {
	st := SessionStats{
		ID:             s.id,
		BackendAddr:    s.backendAddr,
		BytesToClient:  s.bytesToClient.Load(),
		BytesToBackend: s.bytesToBackend.Load(),
	}
	if started := s.started.Load(); started != nil {
		st.Duration = time.Since(*started)
	}
	return st
}

type loopResult struct {
	dir Direction
	err error
}

// Run pumps bytes both ways until the first loop finishes, then tears the session
// down and returns. The returned error is the transport fault that ended the
// session, or nil if it ended cleanly or was cancelled. Run may only be called once.
func (s *Session) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return s.Errorf("Run called more than once")
	}
	now := time.Now()
	s.started.Store(&now)
	stopInterrupt := context.AfterFunc(s.ctx, s.interrupt)
	s.DLogf("Proxying to %s", s.backendAddr)
	s.observer.SessionOpened(s.snapshot())

	results := make(chan loopResult, 2)
	go func() {
		results <- loopResult{DirectionBackendToClient, s.pumpBackendToClient()}
	}()
	go func() {
		results <- loopResult{DirectionClientToBackend, s.pumpClientToBackend()}
	}()

	first := <-results
	s.transition(EventLoopExited)
	s.cancel()
	if isFault(first.err) {
		s.ELogf("%s", first.err)
	} else {
		s.DLogf("%s loop finished first: %v", first.dir, first.err)
	}

	drained := true
	var second loopResult
	select {
	case second = <-results:
	case <-time.After(s.closeTimeout):
		// a write blocked on a peer that stopped reading; closing unblocks it
		s.DLogf("%s loop did not drain within %s; forcing close", otherDirection(first.dir), s.closeTimeout)
		drained = false
		s.closeBackend()
		s.closeClient()
		second = <-results
	}
	if isFault(second.err) {
		s.DLogf("%s loop exited with: %s", second.dir, second.err)
	}

	if !stopInterrupt() {
		<-s.interrupted
	}
	s.teardown(drained)

	var err error
	if isFault(first.err) {
		err = first.err
	}
	st := s.snapshot()
	st.FirstExit = first.dir
	st.Err = err
	s.stats = st
	s.transition(EventHandlesReleased)
	close(s.done)

	s.ILogf("Closed after %s (client->backend %s, backend->client %s)",
		st.Duration.Round(time.Millisecond),
		sizestr.ToString(st.BytesToBackend),
		sizestr.ToString(st.BytesToClient))
	s.observer.SessionClosed(st)
	return err
}

func (s *Session) transition(event SessionEvent) {
	next, err := s.state.apply(event)
	if err != nil {
		s.Panicf("%s", err)
	}
	s.TLogf("-> %s", next)
}

// pumpBackendToClient forwards each backend read as one binary message. A
// zero-length read (EOF) is the backend's half-close and ends the loop cleanly.
func (s *Session) pumpBackendToClient() error {
	buf := s.pool.Get()
	defer s.pool.Put(buf)
	for {
		if s.ctx.Err() != nil {
			return ErrCanceled
		}
		n, rerr := s.backend.Read(buf)
		if n > 0 {
			if s.ctx.Err() != nil {
				return ErrCanceled
			}
			if werr := s.ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return s.loopError(DirectionBackendToClient, werr)
			}
			s.bytesToClient.Add(int64(n))
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				s.DLogf("Backend closed its write side")
				return nil
			}
			return s.loopError(DirectionBackendToClient, rerr)
		}
	}
}

// pumpClientToBackend streams each WebSocket message payload onto the backend
// socket. A close frame ends the loop cleanly and nothing further is written to
// the backend.
func (s *Session) pumpClientToBackend() error {
	buf := s.pool.Get()
	defer s.pool.Put(buf)
	for {
		if s.ctx.Err() != nil {
			return ErrCanceled
		}
		_, r, err := s.ws.NextReader()
		if err != nil {
			if isCloseFrame(err) {
				s.DLogf("Client sent close frame")
				return nil
			}
			return s.loopError(DirectionClientToBackend, err)
		}
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				if werr := s.writeBackend(buf[:n]); werr != nil {
					return s.loopError(DirectionClientToBackend, werr)
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				if isCloseFrame(rerr) {
					s.DLogf("Client sent close frame mid-message")
					return nil
				}
				return s.loopError(DirectionClientToBackend, rerr)
			}
		}
	}
}

// writeBackend writes all of p, repeating short writes against the remainder
func (s *Session) writeBackend(p []byte) error {
	for len(p) > 0 {
		if s.ctx.Err() != nil {
			return ErrCanceled
		}
		n, err := s.backend.Write(p)
		if n > 0 {
			s.bytesToBackend.Add(int64(n))
			p = p[n:]
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// loopError maps a transport error to ErrCanceled if the cancellation signal
// caused it, or wraps it as a *TransferError otherwise
func (s *Session) loopError(dir Direction, err error) error {
	if errors.Is(err, ErrCanceled) || s.ctx.Err() != nil {
		return ErrCanceled
	}
	return &TransferError{Direction: dir, Err: err}
}

// handlePeerClose records the client's close frame. The reply is sent during
// teardown, once the backend socket is closed.
func (s *Session) handlePeerClose(code int, text string) error {
	s.peerCloseCode = code
	s.peerCloseText = text
	s.wsState.CompareAndSwap(int32(wsOpen), int32(wsCloseReceived))
	return nil
}

// interrupt runs once when the cancellation signal fires and forces every blocked
// read and write on both sockets to return promptly. A message write that starts
// after this point resets the write deadline; the loops check the signal first.
// The close handshake sets its own write deadline.
func (s *Session) interrupt() {
	defer close(s.interrupted)
	s.backend.SetDeadline(aLongTimeAgo)
	s.ws.UnderlyingConn().SetDeadline(aLongTimeAgo)
}

func (s *Session) teardown(drained bool) {
	s.closeBackend()
	if drained {
		s.closeHandshake()
	}
	s.closeClient()
}

// closeHandshake sends a close frame if the WebSocket is open or has only received
// the peer's close. The client's close code is echoed back when there was one.
// Failure is expected when the peer is gone and is swallowed.
func (s *Session) closeHandshake() {
	st := wsState(s.wsState.Load())
	if st != wsOpen && st != wsCloseReceived {
		return
	}
	code, text := websocket.CloseNormalClosure, normalCloseText
	if st == wsCloseReceived && s.peerCloseCode != 0 {
		code, text = s.peerCloseCode, s.peerCloseText
	}
	msg := websocket.FormatCloseMessage(code, text)
	err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.closeTimeout))
	if err != nil {
		s.DLogf("Close handshake failed, ignoring: %s", err)
		return
	}
	s.wsState.Store(int32(wsCloseSent))
}

func (s *Session) closeBackend() {
	s.closeBackendOnce.Do(func() {
		if err := s.backend.Close(); err != nil {
			s.DLogf("Backend close failed, ignoring: %s", err)
		}
	})
}

func (s *Session) closeClient() {
	s.closeClientOnce.Do(func() {
		if err := s.ws.Close(); err != nil {
			s.DLogf("WebSocket close failed, ignoring: %s", err)
		}
		s.wsState.Store(int32(wsClosed))
	})
}

func isFault(err error) bool {
	return err != nil && !errors.Is(err, ErrCanceled)
}

func isCloseFrame(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

func otherDirection(d Direction) Direction {
	if d == DirectionBackendToClient {
		return DirectionClientToBackend
	}
	return DirectionBackendToClient
}
