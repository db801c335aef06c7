package chshare

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestParseAuth(t *testing.T) {
	cases := []struct {
		in, user, pass string
	}{
		{"alice:secret", "alice", "secret"},
		{"bob:with:colon", "bob", "with:colon"},
		{"nocolon", "", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		u, p := ParseAuth(c.in)
		if u != c.user || p != c.pass {
			t.Errorf("ParseAuth(%q) = (%q, %q), want (%q, %q)", c.in, u, p, c.user, c.pass)
		}
	}
}

func TestUserCheckPassword(t *testing.T) {
	plain := &User{Name: "alice", Pass: "secret"}
	if !plain.CheckPassword("secret") || plain.CheckPassword("Secret") || plain.CheckPassword("") {
		t.Error("plain password check is wrong")
	}

	h, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() returned error: %s", err)
	}
	hashed := &User{Name: "bob", Pass: string(h)}
	if !hashed.CheckPassword("hunter2") {
		t.Error("bcrypt hash did not accept its password")
	}
	if hashed.CheckPassword(string(h)) || hashed.CheckPassword("hunter3") {
		t.Error("bcrypt hash accepted a wrong password")
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword() returned error: %s", err)
	}
	if !isBcryptHash(h) || !(&User{Pass: h}).CheckPassword("pw") {
		t.Errorf("HashPassword() = %q is not a usable bcrypt hash", h)
	}
}

func TestUserIndexAddGetDel(t *testing.T) {
	ui := NewUserIndex(newTestLogger(t, io.Discard))
	ui.AddUser(&User{Name: "alice", Pass: "a"})
	ui.AddUser(&User{Name: "bob", Pass: "b"})
	if ui.Len() != 2 {
		t.Errorf("Len() = %d, want 2", ui.Len())
	}
	if _, ok := ui.Authenticate("alice", "a"); !ok {
		t.Error("Authenticate(alice) failed")
	}
	if _, ok := ui.Authenticate("alice", "b"); ok {
		t.Error("Authenticate(alice) accepted bob's password")
	}
	if _, ok := ui.Authenticate("carol", ""); ok {
		t.Error("Authenticate() accepted an unknown user")
	}
	ui.Del("alice")
	if _, ok := ui.Get("alice"); ok || ui.Len() != 1 {
		t.Errorf("Del(alice) left %v", ui.Names())
	}
}

func TestUserIndexLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "users.json", `{"alice": "a", "bob": "b"}`)

	ui := NewUserIndex(newTestLogger(t, io.Discard))
	defer ui.Close()
	ui.AddUser(&User{Name: "bob", Pass: "override"})
	if err := ui.LoadUsers(path); err != nil {
		t.Fatalf("LoadUsers() returned error: %s", err)
	}
	if got := ui.Names(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("Names() = %v", got)
	}
	if _, ok := ui.Authenticate("bob", "override"); !ok {
		t.Error("added user was not preferred over the auth file entry")
	}

	// replace by rename, as editors do
	tmp := writeFile(t, dir, "users.json.tmp", `{"carol": "c"}`)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Rename() returned error: %s", err)
	}
	eventually(t, 5*time.Second, "auth file reload", func() bool {
		_, ok := ui.Authenticate("carol", "c")
		return ok
	})
	if _, ok := ui.Get("alice"); ok {
		t.Error("user removed from the auth file is still present")
	}

	// a broken file keeps the previous users
	writeFile(t, dir, "users.json", `{not json`)
	time.Sleep(200 * time.Millisecond)
	if _, ok := ui.Authenticate("carol", "c"); !ok {
		t.Error("invalid auth file dropped the previous users")
	}
}

func TestUserIndexLoadErrors(t *testing.T) {
	dir := t.TempDir()
	ui := NewUserIndex(newTestLogger(t, io.Discard))
	if err := ui.LoadUsers(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadUsers() of a missing file succeeded")
	}
	bad := writeFile(t, dir, "bad.json", `["alice"]`)
	if err := ui.LoadUsers(bad); err == nil {
		t.Error("LoadUsers() of a non-object file succeeded")
	}
	empty := writeFile(t, dir, "empty.json", `{"": "x"}`)
	if err := ui.LoadUsers(empty); err == nil {
		t.Error("LoadUsers() accepted an empty user name")
	}
}
