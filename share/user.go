package chshare

import (
	"crypto/subtle"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// AnonymousUserName is the user every request runs as when authentication is disabled
const AnonymousUserName = "admin"

// ParseAuth parses a ":"-delimited authorization string pair. Returns
// two empty strings if the input does not contain ":"
func ParseAuth(auth string) (string, string) {
	if strings.Contains(auth, ":") {
		pair := strings.SplitN(auth, ":", 2)
		return pair[0], pair[1]
	}
	return "", ""
}

// User is one set of Basic auth credentials. Pass is either the plain password or
// a bcrypt hash of it.
type User struct {
	Name string
	Pass string
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// CheckPassword reports whether pass matches the user's password
func (u *User) CheckPassword(pass string) bool {
	if isBcryptHash(u.Pass) {
		return bcrypt.CompareHashAndPassword([]byte(u.Pass), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.Pass), []byte(pass)) == 1
}

// HashPassword returns a bcrypt hash of pass suitable for an auth file
func HashPassword(pass string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// UserIndex is the set of users allowed through the Basic auth gate. Users come
// from two places: added directly (the configured username/password) and loaded
// from a JSON auth file mapping user names to passwords or bcrypt hashes. The auth
// file is reloaded whenever it changes.
type UserIndex struct {
	Logger
	mu      sync.RWMutex
	added   map[string]*User
	loaded  map[string]*User
	watcher *FileWatcher
}

// NewUserIndex creates an empty UserIndex
func NewUserIndex(logger Logger) *UserIndex {
	return &UserIndex{
		Logger: logger.Fork("users"),
		added:  map[string]*User{},
		loaded: map[string]*User{},
	}
}

// Len returns the number of distinct users
func (ui *UserIndex) Len() int {
	return len(ui.Names())
}

// Names returns the sorted names of all users
func (ui *UserIndex) Names() []string {
	ui.mu.RLock()
	defer ui.mu.RUnlock()
	names := make([]string, 0, len(ui.added)+len(ui.loaded))
	for n := range ui.added {
		names = append(names, n)
	}
	for n := range ui.loaded {
		if _, dup := ui.added[n]; !dup {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// AddUser adds or replaces a user that is independent of the auth file
func (ui *UserIndex) AddUser(u *User) {
	ui.mu.Lock()
	ui.added[u.Name] = u
	ui.mu.Unlock()
}

// Del removes a user added with AddUser
func (ui *UserIndex) Del(name string) {
	ui.mu.Lock()
	delete(ui.added, name)
	ui.mu.Unlock()
}

// Get finds a user by name. Directly added users shadow auth file entries.
func (ui *UserIndex) Get(name string) (*User, bool) {
	ui.mu.RLock()
	defer ui.mu.RUnlock()
	if u, ok := ui.added[name]; ok {
		return u, true
	}
	u, ok := ui.loaded[name]
	return u, ok
}

// Authenticate returns the user if name exists and pass matches
func (ui *UserIndex) Authenticate(name, pass string) (*User, bool) {
	u, found := ui.Get(name)
	if !found || !u.CheckPassword(pass) {
		return nil, false
	}
	return u, true
}

// LoadUsers loads the auth file at path and keeps it loaded: the file is watched
// and reloaded on change. A reload that fails keeps the previous users.
func (ui *UserIndex) LoadUsers(path string) error {
	if err := ui.loadUserFile(path); err != nil {
		return err
	}
	base := filepath.Base(path)
	w, err := NewFileWatcher(ui.Logger, filepath.Dir(path), func(name string) {
		if name != base {
			return
		}
		if err := ui.loadUserFile(path); err != nil {
			ui.WLogf("Keeping previous users: %s", err)
		}
	})
	if err != nil {
		return err
	}
	ui.mu.Lock()
	ui.watcher = w
	ui.mu.Unlock()
	return nil
}

func (ui *UserIndex) loadUserFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return ui.Errorf("Failed to read auth file: %s", err)
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return ui.Errorf("Invalid JSON in auth file %s: %s", path, err)
	}
	users := make(map[string]*User, len(m))
	for name, pass := range m {
		if name == "" {
			return ui.Errorf("Empty user name in auth file %s", path)
		}
		users[name] = &User{Name: name, Pass: pass}
	}
	ui.mu.Lock()
	ui.loaded = users
	ui.mu.Unlock()
	ui.DLogf("Loaded %d users from %s", len(users), path)
	return nil
}

// Close stops watching the auth file
func (ui *UserIndex) Close() error {
	ui.mu.Lock()
	w := ui.watcher
	ui.watcher = nil
	ui.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
