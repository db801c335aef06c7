package chshare

import (
	"strings"
	"testing"
)

func TestServerConfigValidate(t *testing.T) {
	valid := func() ServerConfig {
		c := DefaultServerConfig()
		c.BasicAuth.Username = "admin"
		c.BasicAuth.Password = "pw"
		return c
	}
	cases := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{"defaults with user", func(c *ServerConfig) {}, ""},
		{"auth disabled without users", func(c *ServerConfig) { c.BasicAuth = BasicAuthOptions{} }, ""},
		{"auth file only", func(c *ServerConfig) { c.BasicAuth = BasicAuthOptions{Enabled: true, AuthFile: "users.json"} }, ""},
		{"auth enabled without users", func(c *ServerConfig) { c.BasicAuth = BasicAuthOptions{Enabled: true} }, "no username/password"},
		{"password without user", func(c *ServerConfig) { c.BasicAuth.Username = ""; c.BasicAuth.AuthFile = "f" }, "without a username"},
		{"port zero", func(c *ServerConfig) { c.Websockify.Port = 0 }, "out of range"},
		{"port too large", func(c *ServerConfig) { c.Websockify.Port = 65536 }, "out of range"},
		{"max port", func(c *ServerConfig) { c.Websockify.Port = 65535 }, ""},
		{"empty host", func(c *ServerConfig) { c.Websockify.Host = "" }, "host"},
		{"root path", func(c *ServerConfig) { c.Websockify.Path = "/" }, "site root"},
		{"empty listen", func(c *ServerConfig) { c.Listen = "" }, "listen"},
	}
	for _, tc := range cases {
		c := valid()
		tc.mutate(&c)
		err := c.Validate()
		switch {
		case tc.wantErr == "" && err != nil:
			t.Errorf("%s: Validate() returned error: %s", tc.name, err)
		case tc.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tc.wantErr)):
			t.Errorf("%s: Validate() = %v, want error containing %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestServerConfigNormalizesPath(t *testing.T) {
	for in, want := range map[string]string{
		"":            DefaultTunnelPath,
		"vnc":         "/vnc",
		"/vnc/":       "/vnc",
		"/a/b":        "/a/b",
		"/websockify": "/websockify",
	} {
		c := DefaultServerConfig()
		c.BasicAuth.Enabled = false
		c.Websockify.Path = in
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(path %q) returned error: %s", in, err)
			continue
		}
		if c.Websockify.Path != want {
			t.Errorf("path %q normalized to %q, want %q", in, c.Websockify.Path, want)
		}
	}
}

func TestServerConfigLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "appsettings.json", `{
		"Websockify": {"Path": "/vnc", "Port": 5901},
		"BasicAuth": {"Enabled": true, "Username": "admin", "Password": "pw"}
	}`)
	c := DefaultServerConfig()
	if err := c.LoadConfigFile(path); err != nil {
		t.Fatalf("LoadConfigFile() returned error: %s", err)
	}
	if c.Websockify.Path != "/vnc" || c.Websockify.Port != 5901 {
		t.Errorf("Websockify = %+v", c.Websockify)
	}
	if c.Websockify.Host != DefaultVNCHost {
		t.Errorf("field missing from the file was reset: host %q", c.Websockify.Host)
	}
	if c.BasicAuth.Username != "admin" || c.BasicAuth.Password != "pw" {
		t.Errorf("BasicAuth = %+v", c.BasicAuth)
	}
	if c.Listen != DefaultListenAddr {
		t.Errorf("Listen = %q", c.Listen)
	}

	bad := writeFile(t, dir, "bad.json", `{"Websockify": {"Port": "x"}}`)
	if err := c.LoadConfigFile(bad); err == nil {
		t.Error("LoadConfigFile() accepted a string port")
	}
}

func TestClientConfigTunnelURL(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{"example.com:8080", "ws://example.com:8080/websockify", false},
		{"http://example.com", "ws://example.com/websockify", false},
		{"https://example.com/vnc", "wss://example.com/vnc", false},
		{"wss://example.com/websockify", "wss://example.com/websockify", false},
		{"ftp://example.com", "", true},
		{"", "", true},
		{"http://", "", true},
	}
	for _, c := range cases {
		cfg := ClientConfig{Server: c.in}
		u, err := cfg.TunnelURL()
		if c.wantErr {
			if err == nil {
				t.Errorf("TunnelURL(%q) = %s, want error", c.in, u)
			}
			continue
		}
		if err != nil || u.String() != c.want {
			t.Errorf("TunnelURL(%q) = (%v, %v), want %s", c.in, u, err, c.want)
		}
	}
}

func TestClientConfigValidate(t *testing.T) {
	c := DefaultClientConfig()
	c.Server = "localhost:8080"
	c.MaxRetryInterval = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() returned error: %s", err)
	}
	if c.MaxRetryInterval <= 0 {
		t.Error("MaxRetryInterval not raised to a minimum")
	}
	c.Auth = "nocolon"
	if err := c.Validate(); err == nil {
		t.Error("Validate() accepted auth without ':'")
	}
}
