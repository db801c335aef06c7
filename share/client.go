package chshare

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/sammck-go/wsvnc/pkg/wstnet"
)

// ErrUnauthorized is returned when the server rejects the client's credentials
var ErrUnauthorized = errors.New("server rejected credentials")

// Client listens on a local TCP address and carries each accepted connection over
// its own WebSocket tunnel to a wsvnc server, so a native VNC viewer can reach a
// backend that is only exposed through the tunnel
type Client struct {
	ShutdownHelper
	config    ClientConfig
	server    *url.URL
	header    http.Header
	dialer    websocket.Dialer
	pool      wstnet.BufferPool
	listener  net.Listener
	connStats ConnStats

	cancel     context.CancelFunc
	acceptDone chan struct{}
	sessions   sync.WaitGroup
}

// NewClient validates config and creates a Client. Nothing listens until Start or
// Run.
func NewClient(logger Logger, config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	u, err := config.TunnelURL()
	if err != nil {
		return nil, err
	}
	bufferSize := wstnet.NormalizeBufferSize(config.BufferSize)
	c := &Client{
		config: config,
		server: u,
		header: http.Header{},
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   bufferSize,
			WriteBufferSize:  bufferSize,
			Subprotocols:     []string{wstnet.BinarySubprotocol},
		},
		pool:       wstnet.NewBufferPool(bufferSize),
		acceptDone: make(chan struct{}),
	}
	c.InitShutdownHelper(logger.Fork("client"), c)
	if user, pass := ParseAuth(config.Auth); user != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		c.header.Set("Authorization", "Basic "+cred)
	}
	return c, nil
}

// Start binds the local listener and begins accepting. Cancelling ctx shuts the
// client down and ends every tunnel.
func (c *Client) Start(ctx context.Context) error {
	return c.DoOnceActivate(
		func() error {
			c.ShutdownOnContext(ctx)
			l, err := net.Listen("tcp", c.config.Listen)
			if err != nil {
				return c.ELogErrorf("Listen failed: %s", err)
			}
			c.Lock.Lock()
			c.listener = l
			c.Lock.Unlock()
			sessCtx, cancel := context.WithCancel(ctx)
			c.cancel = cancel
			c.ILogf("Listening on %s, tunneling to %s", l.Addr(), c.server)
			go c.acceptLoop(sessCtx)
			return nil
		},
		true,
	)
}

// Run starts the client and blocks until it has shut down
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.WaitShutdown()
}

// ListenAddr returns the bound local address, or nil before Start succeeds
func (c *Client) ListenAddr() net.Addr {
	c.Lock.Lock()
	defer c.Lock.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *Client) acceptLoop(ctx context.Context) {
	defer close(c.acceptDone)
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if !c.IsStartedShutdown() {
				c.StartShutdown(c.Errorf("Accept failed: %s", err))
			}
			return
		}
		c.sessions.Add(1)
		go func() {
			defer c.sessions.Done()
			c.handleConn(ctx, conn)
		}()
	}
}

func (c *Client) handleConn(ctx context.Context, local net.Conn) {
	c.connStats.Open()
	defer c.connStats.Close()
	c.DLogf("%v Accepted %s", &c.connStats, local.RemoteAddr())
	ws, err := c.dialTunnel(ctx)
	if err != nil {
		c.ELogf("%v Unable to open tunnel for %s: %s", &c.connStats, local.RemoteAddr(), err)
		local.Close()
		return
	}
	sess := wstnet.NewSession(ctx, c.Logger, ws, local, wstnet.SessionConfig{
		BufferPool:   c.pool,
		BackendAddr:  local.RemoteAddr().String(),
		CloseTimeout: c.config.CloseTimeout,
	})
	if err := sess.Run(); err != nil {
		c.DLogf("%v Tunnel for %s ended: %s", &c.connStats, local.RemoteAddr(), err)
	}
}

// dialTunnel opens the WebSocket to the server, retrying with exponential backoff up
// to MaxRetryCount times. A rejected login is not retried.
func (c *Client) dialTunnel(ctx context.Context) (*websocket.Conn, error) {
	b := &backoff.Backoff{Max: c.config.MaxRetryInterval}
	for {
		ws, resp, err := c.dialer.DialContext(ctx, c.server.String(), c.header)
		if err == nil {
			if b.Attempt() > 0 {
				c.ILogf("Connected after %d retries", int(b.Attempt()))
			}
			return ws, nil
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
		attempt := int(b.Attempt())
		maxAttempt := c.config.MaxRetryCount
		if maxAttempt >= 0 && attempt >= maxAttempt {
			return nil, err
		}
		d := b.Duration()
		msg := fmt.Sprintf("Connection error: %s (Attempt: %d", err, attempt+1)
		if maxAttempt > 0 {
			msg += fmt.Sprintf("/%d", maxAttempt)
		}
		c.ILogf("%s); retrying in %s", msg, d)
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

// HandleOnceShutdown stops accepting, ends every tunnel and waits for them to close
func (c *Client) HandleOnceShutdown(completionErr error) error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if l := c.listener; l != nil {
		err = l.Close()
		<-c.acceptDone
	}
	c.sessions.Wait()
	if completionErr == nil || errors.Is(completionErr, context.Canceled) {
		completionErr = err
		if errors.Is(completionErr, net.ErrClosed) {
			completionErr = nil
		}
	}
	return completionErr
}
