package chshare

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sammck-go/wsvnc/pkg/wstnet"
)

const authChallenge = `Basic realm="wsvnc", charset="UTF-8"`

// pageRoutes maps lower-cased request paths to the HTML pages served for them
var pageRoutes = map[string]string{
	"/":      "vnc.html",
	"/index": "vnc.html",
	"/lite":  "vnc_lite.html",
}

// hasPathSegmentPrefix reports whether path is prefix or continues it with a new
// segment, ignoring case
func hasPathSegmentPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || !strings.EqualFold(path[:len(prefix)], prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// handleRequest is the root http handler. Auth is checked on the tunnel path before
// the tunnel sees the request, and on every page and asset; the health, version
// and metrics endpoints are open.
func (s *Server) handleRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if hasPathSegmentPrefix(path, s.tunnelPath) {
		user, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		s.serveTunnel(ctx, user, w, r)
		return
	}

	switch path {
	case "/health":
		w.Write([]byte("OK\n"))
		return
	case "/version":
		w.Write([]byte(BuildVersion))
		return
	case "/metrics":
		s.metricsHandler.ServeHTTP(w, r)
		return
	}

	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if page, ok := pageRoutes[strings.ToLower(path)]; ok {
		s.servePage(w, page)
		return
	}
	s.static.ServeHTTP(w, r)
}

// authenticate returns the name of the user making r. If there is none it writes a
// 401 challenge and returns false. With auth disabled every request is
// AnonymousUserName.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.config.BasicAuth.Enabled {
		return AnonymousUserName, true
	}
	name, pass, ok := r.BasicAuth()
	if ok {
		if u, found := s.users.Authenticate(name, pass); found {
			return u.Name, true
		}
		s.DLogf("Login failed for user %q from %s", name, r.RemoteAddr)
		s.metrics.AuthFailures.Inc()
	}
	w.Header().Set("WWW-Authenticate", authChallenge)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return "", false
}

func (s *Server) serveTunnel(ctx context.Context, user string, w http.ResponseWriter, r *http.Request) {
	if !s.addSession() {
		s.DLogf("Rejecting tunnel request from %s: shutting down", r.RemoteAddr)
		http.Error(w, "Service Unavailable: server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()
	s.connStats.Open()
	s.DLogf("%v Tunnel request from %s (user %s)", &s.connStats, r.RemoteAddr, user)
	err := s.tunnel.Serve(ctx, w, r)
	s.connStats.Close()
	switch {
	case err == nil:
		s.DLogf("%v Tunnel from %s closed", &s.connStats, r.RemoteAddr)
	case errors.Is(err, wstnet.ErrUpgradeRejected):
		s.DLogf("%v Not a tunnel request from %s: %s", &s.connStats, r.RemoteAddr, err)
	default:
		s.DLogf("%v Tunnel from %s closed: %s", &s.connStats, r.RemoteAddr, err)
	}
}

// addSession counts a new tunnel session unless shutdown has started. Shutdown
// waits on the count only after isStarted is set under the same lock.
func (s *Server) addSession() bool {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	if s.isStarted {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) servePage(w http.ResponseWriter, name string) {
	b, err := s.pages.Get(name)
	if err != nil {
		s.ELogf("Error reading %s: %s", name, err)
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(b)
}
