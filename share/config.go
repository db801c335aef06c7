package chshare

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sammck-go/wsvnc/pkg/wstnet"
)

// Defaults for the server configuration
const (
	DefaultListenAddr = "0.0.0.0:8080"
	DefaultWebRoot    = "wwwroot"
	DefaultTunnelPath = "/websockify"
	DefaultVNCHost    = "127.0.0.1"
	DefaultVNCPort    = 5900
)

// WebsockifyOptions locates the tunnel endpoint and the VNC backend
type WebsockifyOptions struct {
	Path       string `json:"Path"`
	Host       string `json:"Host"`
	Port       int    `json:"Port"`
	BufferSize int    `json:"BufferSize"`
}

// BasicAuthOptions configures the Basic auth gate in front of the tunnel and the
// client pages. Password may be a bcrypt hash.
type BasicAuthOptions struct {
	Enabled  bool   `json:"Enabled"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	AuthFile string `json:"AuthFile"`
}

// ServerConfig is the configuration of the tunnel server
type ServerConfig struct {
	Listen     string            `json:"Listen"`
	WebRoot    string            `json:"WebRoot"`
	Websockify WebsockifyOptions `json:"Websockify"`
	BasicAuth  BasicAuthOptions  `json:"BasicAuth"`

	DialTimeout  time.Duration `json:"-"`
	CloseTimeout time.Duration `json:"-"`
	PageTTL      time.Duration `json:"-"`
	LogLevel     LogLevel      `json:"-"`
}

// DefaultServerConfig returns a ServerConfig with every field at its default
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:  DefaultListenAddr,
		WebRoot: DefaultWebRoot,
		Websockify: WebsockifyOptions{
			Path:       DefaultTunnelPath,
			Host:       DefaultVNCHost,
			Port:       DefaultVNCPort,
			BufferSize: wstnet.RecommendedBufferSize,
		},
		BasicAuth: BasicAuthOptions{
			Enabled: true,
		},
		DialTimeout:  wstnet.DefaultDialTimeout,
		CloseTimeout: wstnet.DefaultCloseTimeout,
		PageTTL:      DefaultPageTTL,
		LogLevel:     LogLevelInfo,
	}
}

// LoadConfigFile overlays the JSON config file at path onto c. Sections and fields
// missing from the file keep their current values.
func (c *ServerConfig) LoadConfigFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// Validate checks c and normalizes the tunnel path
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	ws := &c.Websockify
	if ws.Path == "" {
		ws.Path = DefaultTunnelPath
	}
	if !strings.HasPrefix(ws.Path, "/") {
		ws.Path = "/" + ws.Path
	}
	if ws.Path != "/" {
		ws.Path = strings.TrimRight(ws.Path, "/")
	}
	if ws.Path == "/" {
		return fmt.Errorf("tunnel path must not be the site root")
	}
	if ws.Host == "" {
		return fmt.Errorf("VNC host is required")
	}
	if ws.Port < 1 || ws.Port > 65535 {
		return fmt.Errorf("VNC port %d out of range 1..65535", ws.Port)
	}
	if c.BasicAuth.Enabled {
		hasUser := c.BasicAuth.Username != "" && c.BasicAuth.Password != ""
		if !hasUser && c.BasicAuth.AuthFile == "" {
			return fmt.Errorf("basic auth is enabled but no username/password or auth file is configured")
		}
		if c.BasicAuth.Username == "" && c.BasicAuth.Password != "" {
			return fmt.Errorf("basic auth password given without a username")
		}
	}
	return nil
}

// ClientConfig is the configuration of the local-listener client
type ClientConfig struct {
	// Server is the tunnel URL, e.g. "https://host:8080/websockify". http(s) schemes
	// are mapped to ws(s); a missing path selects DefaultTunnelPath.
	Server string

	// Listen is the local TCP address VNC viewers connect to
	Listen string

	// Auth is an optional "user:pass" for the server's Basic auth gate
	Auth string

	MaxRetryCount    int
	MaxRetryInterval time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int
	CloseTimeout     time.Duration
	LogLevel         LogLevel
}

// DefaultClientConfig returns a ClientConfig with every field at its default
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Listen:           "127.0.0.1:5901",
		MaxRetryCount:    5,
		MaxRetryInterval: 30 * time.Second,
		HandshakeTimeout: 45 * time.Second,
		BufferSize:       wstnet.RecommendedBufferSize,
		CloseTimeout:     wstnet.DefaultCloseTimeout,
		LogLevel:         LogLevelInfo,
	}
}

// TunnelURL validates c.Server and returns it as a ws:// or wss:// URL
func (c *ClientConfig) TunnelURL() (*url.URL, error) {
	server := c.Server
	if server == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server URL %q has no host", c.Server)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultTunnelPath
	}
	return u, nil
}

// Validate checks c
func (c *ClientConfig) Validate() error {
	if _, err := c.TunnelURL(); err != nil {
		return err
	}
	if c.Listen == "" {
		return fmt.Errorf("local listen address is required")
	}
	if c.Auth != "" && !strings.Contains(c.Auth, ":") {
		return fmt.Errorf("auth must be in the form user:pass")
	}
	if c.MaxRetryInterval < time.Second {
		c.MaxRetryInterval = time.Second
	}
	return nil
}
